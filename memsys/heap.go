// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/NVIDIA/pagepool/cmn/cos"
	"github.com/NVIDIA/pagepool/sys"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Heap is a set of pools, one per configured order, that serves buffers of arbitrary
// size as lists of blocks, largest orders first.
type (
	Heap struct {
		cfg      *Config
		dev      Device
		prov     Provider
		pools    []*Pool // in the configured (descending) order
		byOrder  [MaxOrder + 1]*Pool
		totalRAM int64 // pages; zero when unknown
		stats    struct {
			buffers atomic.Int64 // outstanding
			allocs  atomic.Int64
			failed  atomic.Int64
		}
	}
	Buffer struct {
		Blocks []*Block
		Size   int64 // page-aligned
		woff   int64
		roff   int64
		freed  atomic.Bool
	}
	HeapStats struct {
		Name    string      `json:"name"`
		Pools   []PoolStats `json:"pools"`
		Cached  int64       `json:"cached_pages"`
		Buffers int64       `json:"buffers"`
		Allocs  int64       `json:"allocs"`
		Failed  int64       `json:"failed"`
	}
)

// interface guard
var _ Shrinker = (*Heap)(nil)

// NewHeap creates one pool per cfg.Orders; pool options (accountant, gauge) apply to all pools
func NewHeap(cfg *Config, dev Device, prov Provider, opts ...Option) (*Heap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Heap{cfg: cfg, dev: dev, prov: prov}
	if cfg.MigrateHighOrder {
		proc, err := sys.DefaultProc()
		if err != nil {
			return nil, err
		}
		opts = append([]Option{WithHighOrderGauge(proc.Gauge(buddyTTL))}, opts...)
	}
	if cfg.MaxPools > 0 {
		opts = append([]Option{WithBudget(NewPoolBudget(cfg.MaxPools))}, opts...)
	}
	if mem, err := sys.Mem(); err == nil {
		h.totalRAM = int64(mem.Total / PageSize)
	} else {
		klog.Warningf("%s: %v (buffer size is not limited)", cfg.Name, err)
	}
	for _, order := range cfg.Orders {
		gfp := cfg.GFP()
		if order > 0 {
			gfp |= GFPNoWarn | GFPNoRetry
		}
		name := fmt.Sprintf("%s-%d", cfg.Name, order)
		pool, err := NewPool(dev, prov, gfp, order, append(opts, WithName(name))...)
		if err != nil {
			for _, p := range h.pools {
				p.Destroy()
			}
			return nil, err
		}
		h.pools = append(h.pools, pool)
		h.byOrder[order] = pool
	}
	klog.Infof("%s ready", h)
	return h, nil
}

func (h *Heap) String() string { return h.cfg.String() }

func (h *Heap) Config() *Config { return h.cfg }

func (h *Heap) Pools() []*Pool { return h.pools }

// AllocBuffer returns blocks covering `size` bytes (rounded up to whole pages), each
// taken from the largest pool that fits the remainder and is no larger than the
// previous block; on failure everything allocated so far is freed
func (h *Heap) AllocBuffer(size int64) (*Buffer, error) {
	if size <= 0 {
		return nil, errors.Errorf("%s: invalid buffer size %d", h.cfg.Name, size)
	}
	var (
		npages   = cos.DivCeil(size, PageSize)
		buf      = &Buffer{Size: npages * PageSize}
		maxOrder = h.cfg.Orders[0]
	)
	if h.totalRAM > 0 && npages > h.totalRAM/2 {
		h.stats.failed.Add(1)
		return nil, errors.Wrapf(ErrOutOfMemory, "%s: buffer size %s", h.cfg.Name, cos.ToSizeIEC(size, 1))
	}
	for remaining := npages; remaining > 0; {
		b, err := h.allocLargest(remaining, maxOrder)
		if err != nil {
			h.free(buf, true)
			h.stats.failed.Add(1)
			return nil, err
		}
		buf.Blocks = append(buf.Blocks, b)
		remaining -= b.Pages()
		maxOrder = b.order
	}
	h.stats.buffers.Add(1)
	h.stats.allocs.Add(1)
	return buf, nil
}

// FreeBuffer returns the blocks to their pools (to the provider if the heap is uncached)
func (h *Heap) FreeBuffer(buf *Buffer) { h.freeBuffer(buf, h.cfg.Uncached) }

// FreeBufferImmediate always bypasses the pools
func (h *Heap) FreeBufferImmediate(buf *Buffer) { h.freeBuffer(buf, true) }

// Shrink: nrToScan == 0 sums reclaimable pages across all pools; otherwise pools are
// shrunk in turn (largest order first) until nrToScan pages are freed
func (h *Heap) Shrink(gfp GFP, nrToScan int64) (total int64) {
	if nrToScan == 0 {
		for _, pool := range h.pools {
			total += pool.Shrink(gfp, 0)
		}
		return
	}
	for _, pool := range h.pools {
		freed := pool.Shrink(gfp, nrToScan)
		nrToScan -= freed
		total += freed
		if nrToScan <= 0 {
			break
		}
	}
	return
}

func (h *Heap) Stats() (hs HeapStats) {
	hs.Name = h.cfg.Name
	hs.Pools = make([]PoolStats, 0, len(h.pools))
	for _, pool := range h.pools {
		ps := pool.Stats()
		hs.Cached += (ps.Low + ps.High) << ps.Order
		hs.Pools = append(hs.Pools, ps)
	}
	hs.Buffers = h.stats.buffers.Load()
	hs.Allocs = h.stats.allocs.Load()
	hs.Failed = h.stats.failed.Load()
	return
}

// Destroy drains all pools and destroys them; outstanding buffers are reported, not freed
func (h *Heap) Destroy() error {
	var merr error
	if n := h.stats.buffers.Load(); n > 0 {
		merr = multierror.Append(merr, errors.Errorf("%s: %d outstanding buffers", h.cfg.Name, n))
	}
	freed := h.Shrink(GFPBackground, math.MaxInt64)
	for _, pool := range h.pools {
		if err := pool.Destroy(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	klog.Infof("%s destroyed, %d pages released", h.cfg.Name, freed)
	return merr
}

//
// private
//

func (h *Heap) allocLargest(remaining int64, maxOrder uint) (b *Block, err error) {
	for _, pool := range h.pools {
		if remaining < 1<<pool.order || pool.order > maxOrder {
			continue
		}
		if b, _, err = pool.Alloc(); err == nil {
			return b, nil
		}
		if klog.V(4).Enabled() {
			klog.Infof("%s: %v - trying lower order", h.cfg.Name, err)
		}
	}
	if err == nil {
		err = errors.Wrapf(ErrAllocFailed, "%s: no pool fits %d pages", h.cfg.Name, remaining)
	}
	return nil, err
}

func (h *Heap) freeBuffer(buf *Buffer, immediate bool) {
	if !buf.freed.CompareAndSwap(false, true) {
		klog.Errorf("%s: buffer freed twice (%d blocks)", h.cfg.Name, len(buf.Blocks))
		return
	}
	h.free(buf, immediate)
	h.stats.buffers.Add(-1)
}

// pooled blocks are kept zeroed when the heap zero-fills
func (h *Heap) free(buf *Buffer, immediate bool) {
	for _, b := range buf.Blocks {
		pool := h.byOrder[b.order]
		switch {
		case immediate:
			pool.FreeImmediate(b)
		case h.cfg.Zero:
			if err := h.prov.ZeroPages(h.dev, b); err != nil {
				klog.Errorf("%s: failed to zero %s: %v", h.cfg.Name, b, err)
				pool.FreeImmediate(b)
				continue
			}
			pool.Free(b)
		default:
			pool.Free(b)
		}
	}
	buf.Blocks = nil
	buf.Reset()
}
