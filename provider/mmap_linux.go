// Package provider implements page providers for the memsys pools: GoMem (Go heap)
// and Mmap (anonymous mappings, Linux).
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package provider

import (
	"runtime/debug"

	"github.com/NVIDIA/pagepool/memsys"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// Mmap backs each block with its own private anonymous mapping
type Mmap struct {
	base
}

// interface guard
var _ memsys.Provider = (*Mmap)(nil)

func NewMmap(opts ...Option) (*Mmap, error) {
	m := &Mmap{}
	m.init(opts)
	return m, nil
}

func (*Mmap) Name() string { return "mmap" }

func (m *Mmap) AllocPages(gfp memsys.GFP, order uint) (*memsys.Block, error) {
	if err := m.reserve(order); err != nil {
		if gfp&memsys.GFPNoWarn == 0 {
			klog.Warningf("mmap: %v", err)
		}
		return nil, err
	}
	size := int(memsys.PageSize << order)
	buf, err := mmap(size)
	if err == unix.ENOMEM && gfp&memsys.GFPNoRetry == 0 {
		debug.FreeOSMemory()
		buf, err = mmap(size)
	}
	if err != nil {
		m.unreserve(order)
		m.failures.Add(1)
		err = errors.Wrapf(ErrNoMemory, "mmap order %d: %v", order, err)
		if gfp&memsys.GFPNoWarn == 0 {
			klog.Warningln(err)
		}
		return nil, err
	}
	return m.newBlock(buf, gfp, order), nil
}

func (m *Mmap) FreePages(blk *memsys.Block) {
	m.check(blk)
	if err := unix.Munmap(blk.Bytes()); err != nil {
		klog.Errorf("munmap %s: %v", blk, err)
	}
	m.released(blk)
}

// private anonymous pages read back as zeroes after MADV_DONTNEED
func (m *Mmap) ZeroPages(_ memsys.Device, blk *memsys.Block) error {
	if err := unix.Madvise(blk.Bytes(), unix.MADV_DONTNEED); err != nil {
		return errors.Wrapf(err, "madvise %s", blk)
	}
	m.zeroes.Add(1)
	return nil
}

func (m *Mmap) SetCachePolicyAlloc(_ memsys.Device, blk *memsys.Block) {
	if err := unix.Madvise(blk.Bytes(), unix.MADV_WILLNEED); err != nil && klog.V(4).Enabled() {
		klog.Infof("madvise(willneed) %s: %v", blk, err)
	}
}

func mmap(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}
