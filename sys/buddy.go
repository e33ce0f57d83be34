// Package sys provides methods to read system information
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"k8s.io/klog/v2"
)

// "plenty": unreadable buddyinfo never fails allocations on its own
const plentyPages = int64(^uint64(0) >> 1)

// BuddyGauge is a high-order gauge that re-reads /proc/buddyinfo at most once per ttl
type BuddyGauge struct {
	p     *Proc
	at    time.Time
	infos []procfs.BuddyInfo
	err   error
	ttl   time.Duration
	mu    sync.Mutex
}

// FreeBlocks returns, summed over all nodes and zones, the number of free pages that
// reside in buddy blocks of order `order` or higher (see /proc/buddyinfo)
func (p *Proc) FreeBlocks(order uint) (pages int64, err error) {
	infos, err := p.buddyInfo()
	if err != nil {
		return 0, err
	}
	return sumBlocks(infos, order), nil
}

// FreeHighOrderPages makes Proc an (uncached) high-order gauge for the page pools
func (p *Proc) FreeHighOrderPages(order uint) int64 {
	pages, err := p.FreeBlocks(order)
	if err != nil {
		klog.V(4).Infof("%v - ignoring", err)
		return plentyPages
	}
	return pages
}

func (p *Proc) Gauge(ttl time.Duration) *BuddyGauge { return &BuddyGauge{p: p, ttl: ttl} }

func (g *BuddyGauge) FreeHighOrderPages(order uint) int64 {
	g.mu.Lock()
	if now := time.Now(); g.at.IsZero() || now.Sub(g.at) >= g.ttl {
		g.infos, g.err = g.p.buddyInfo()
		g.at = now
	}
	infos, err := g.infos, g.err
	g.mu.Unlock()
	if err != nil {
		klog.V(4).Infof("%v - ignoring", err)
		return plentyPages
	}
	return sumBlocks(infos, order)
}

func (p *Proc) buddyInfo() ([]procfs.BuddyInfo, error) {
	infos, err := p.fs.BuddyInfo()
	if err != nil {
		return nil, errors.Wrap(err, "sys: buddyinfo")
	}
	return infos, nil
}

func sumBlocks(infos []procfs.BuddyInfo, order uint) (pages int64) {
	for _, bi := range infos {
		for k := int(order); k < len(bi.Sizes); k++ {
			pages += int64(bi.Sizes[k]) << uint(k)
		}
	}
	return pages
}
