// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys_test

import (
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/pagepool/memsys"
	"github.com/pkg/errors"
)

var errInjected = errors.New("injected failure")

// tprov is a fault-injecting provider that tracks every block it handed out
type tprov struct {
	live        map[uint64]*memsys.Block
	mu          sync.Mutex
	allocs      atomic.Int64
	frees       atomic.Int64
	zeroes      atomic.Int64
	policyAlloc atomic.Int64
	policyFree  atomic.Int64
	badFrees    atomic.Int64 // freed twice or never allocated
	lastGFP     atomic.Uint32
	failAlloc   atomic.Bool
	failZero    atomic.Bool
	low         atomic.Bool // classify as low even when high memory is allowed
	node        int
}

func newTprov() *tprov { return &tprov{live: make(map[uint64]*memsys.Block)} }

func (p *tprov) AllocPages(gfp memsys.GFP, order uint) (*memsys.Block, error) {
	p.lastGFP.Store(uint32(gfp))
	if p.failAlloc.Load() {
		return nil, errInjected
	}
	high := gfp&memsys.GFPHighMem != 0 && !p.low.Load()
	b := memsys.NewBlock(make([]byte, memsys.PageSize<<order), order, p.node, high)
	p.mu.Lock()
	p.live[b.ID()] = b
	p.mu.Unlock()
	p.allocs.Add(1)
	return b, nil
}

func (p *tprov) FreePages(b *memsys.Block) {
	p.mu.Lock()
	if _, ok := p.live[b.ID()]; ok {
		delete(p.live, b.ID())
	} else {
		p.badFrees.Add(1)
	}
	p.mu.Unlock()
	p.frees.Add(1)
}

func (p *tprov) ZeroPages(_ memsys.Device, b *memsys.Block) error {
	if p.failZero.Load() {
		return errInjected
	}
	clear(b.Bytes())
	p.zeroes.Add(1)
	return nil
}

func (p *tprov) SetCachePolicyAlloc(memsys.Device, *memsys.Block) { p.policyAlloc.Add(1) }
func (p *tprov) SetCachePolicyFree(memsys.Device, *memsys.Block)  { p.policyFree.Add(1) }

func (p *tprov) numLive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// tacct records accounting deltas (summed over nodes)
type tacct struct {
	vals [memsys.NumNodeStats]atomic.Int64
}

func (a *tacct) ModNodeState(_ int, item memsys.NodeStat, delta int64) { a.vals[item].Add(delta) }
func (a *tacct) get(item memsys.NodeStat) int64                        { return a.vals[item].Load() }

type gaugeFunc func(order uint) int64

func (f gaugeFunc) FreeHighOrderPages(order uint) int64 { return f(order) }

var dev = memsys.DevName("test")
