// Package provider implements page providers for the memsys pools: GoMem (Go heap)
// and Mmap (anonymous mappings, Linux).
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package provider

import (
	"github.com/NVIDIA/pagepool/memsys"
	"k8s.io/klog/v2"
)

// GoMem allocates blocks on the Go heap; freed blocks are left to the garbage collector
type GoMem struct {
	base
}

// interface guard
var _ memsys.Provider = (*GoMem)(nil)

func NewGoMem(opts ...Option) *GoMem {
	g := &GoMem{}
	g.init(opts)
	return g
}

func (*GoMem) Name() string { return "gomem" }

func (g *GoMem) AllocPages(gfp memsys.GFP, order uint) (*memsys.Block, error) {
	if err := g.reserve(order); err != nil {
		if gfp&memsys.GFPNoWarn == 0 {
			klog.Warningf("gomem: %v", err)
		}
		return nil, err
	}
	return g.newBlock(make([]byte, memsys.PageSize<<order), gfp, order), nil
}

func (g *GoMem) FreePages(blk *memsys.Block) {
	g.check(blk)
	g.released(blk)
}

func (g *GoMem) ZeroPages(_ memsys.Device, blk *memsys.Block) error {
	clear(blk.Bytes())
	g.zeroes.Add(1)
	return nil
}
