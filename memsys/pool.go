// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/pagepool/cmn/debug"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ============================== Page Pool ==================================
//
// A Pool caches blocks of one order (PageSize << order bytes) on two free lists:
// the high band and the low band. The band of a block is decided by the provider
// when the block is first allocated.
//
// Alloc prefers high-band blocks; Shrink gives back low-band blocks first and
// touches the high band only when the caller allows it (see GFPHighMem and
// GFPBackground).
//
// Alloc never waits for the pool lock: when the lock is contended the pool is
// treated as empty and the block comes from the provider. Shrink takes the lock
// once per block. The lock is never held across a provider call.
//
// The two counters mirror the lengths of the lists. They are updated under the lock
// together with the lists and may be read without it (Total, Stats), in which case
// they are a best-effort snapshot.
//
// Destroy does not drain: shrink the pool with an unbounded request first, or the
// remaining cached blocks are leaked (and reported as ErrPoolNotEmpty).
//
// ===========================================================================

// MaxPools is the size of DefaultBudget
const MaxPools = 1024

// DefaultBudget is shared by all pools created without WithBudget
var DefaultBudget = NewPoolBudget(MaxPools)

type (
	// PoolBudget bounds the number of live pools (control structures) drawing on it;
	// NewPool fails with ErrOutOfMemory when the budget is exhausted
	PoolBudget struct {
		live atomic.Int32
		max  int32
	}
	Pool struct {
		dev    Device
		prov   Provider
		acct   Accountant
		gauge  HighOrderGauge // nil: high-order guard disabled
		budget *PoolBudget
		name   string
		low    freeList
		high   freeList
		mu     sync.Mutex
		stats  struct {
			hits   atomic.Int64
			misses atomic.Int64
		}
		poison    uint64 // (deadbeef build) hash of a freshly poisoned block
		gfp       GFP
		order     uint
		destroyed atomic.Bool
	}
	PoolStats struct {
		Name   string `json:"name"`
		Order  uint   `json:"order"`
		Low    int64  `json:"low"`
		High   int64  `json:"high"`
		Hits   int64  `json:"hits"`
		Misses int64  `json:"misses"`
	}
	Option func(*Pool)
)

// interface guard
var _ Shrinker = (*Pool)(nil)

func WithAccountant(acct Accountant) Option { return func(p *Pool) { p.acct = acct } }
func WithName(name string) Option           { return func(p *Pool) { p.name = name } }
func WithBudget(pb *PoolBudget) Option      { return func(p *Pool) { p.budget = pb } }

// fail fast (ErrNoHighOrder) instead of asking the provider for a higher-order block
// when the system is short of free high-order memory
func WithHighOrderGauge(gauge HighOrderGauge) Option {
	return func(p *Pool) { p.gauge = gauge }
}

func NewPool(dev Device, prov Provider, gfp GFP, order uint, opts ...Option) (*Pool, error) {
	if prov == nil {
		return nil, errors.New("memsys: nil provider")
	}
	if order > MaxOrder {
		return nil, errors.Errorf("memsys: invalid order %d (max %d)", order, MaxOrder)
	}
	p := &Pool{dev: dev, prov: prov, gfp: gfp, order: order, acct: NopAccountant{}, budget: DefaultBudget}
	for _, opt := range opts {
		opt(p)
	}
	if p.budget == nil {
		p.budget = DefaultBudget
	}
	if !p.budget.acquire() {
		return nil, errors.Wrapf(ErrOutOfMemory, "cannot create pool: %d pools exist", p.budget.max)
	}
	if p.name == "" {
		p.name = fmt.Sprintf("pool-%d", order)
	}
	p.low.init()
	p.high.init()
	p.initPoison()
	if klog.V(4).Enabled() {
		klog.Infof("%s created (gfp %s)", p, gfp)
	}
	return p, nil
}

func (p *Pool) String() string {
	return fmt.Sprintf("%s[order %d, low %d, high %d]", p.name, p.order, p.low.len(), p.high.len())
}

func (p *Pool) Name() string     { return p.name }
func (p *Pool) Order() uint      { return p.order }
func (p *Pool) GFP() GFP         { return p.gfp }
func (p *Pool) BlockSize() int64 { return PageSize << p.order }

// Alloc returns a cached block (SourceCache) or a new one from the provider (SourceProvider)
func (p *Pool) Alloc() (*Block, Source, error) {
	p.assertAlive()
	if b := p.tryRemove(); b != nil {
		p.stats.hits.Add(1)
		return b, SourceCache, nil
	}
	if p.gauge != nil && p.order > 0 {
		if free := p.gauge.FreeHighOrderPages(p.order); free < 1<<p.order {
			return nil, SourceProvider, errors.Wrapf(ErrNoHighOrder, "%s: %d free pages in order >= %d blocks",
				p.name, free, p.order)
		}
	}
	b, err := p.allocPages()
	if err != nil {
		return nil, SourceProvider, err
	}
	p.stats.misses.Add(1)
	return b, SourceProvider, nil
}

// AllocPoolOnly never calls the provider; nil when the pool is empty or its lock is busy
func (p *Pool) AllocPoolOnly() *Block {
	if p == nil {
		return nil
	}
	p.assertAlive()
	b := p.tryRemove()
	if b != nil {
		p.stats.hits.Add(1)
	}
	return b
}

// Free caches the block on the free list of its band
func (p *Pool) Free(b *Block) {
	p.assertAlive()
	if err := p.add(b); err != nil {
		klog.Errorf("%v - releasing %s to the provider", err, b)
		p.freePages(b)
	}
}

// FreeImmediate bypasses the cache
func (p *Pool) FreeImmediate(b *Block) {
	p.assertAlive()
	p.freePages(b)
}

// Total returns cached pages (low band, plus high band if requested)
func (p *Pool) Total(high bool) int64 {
	count := p.low.len()
	if high {
		count += p.high.len()
	}
	return count << p.order
}

// Shrink gives back up to nrToScan pages (rounded up to whole blocks) to the provider and
// returns the number of pages freed; nrToScan == 0 only queries reclaimable pages
func (p *Pool) Shrink(gfp GFP, nrToScan int64) (freed int64) {
	high := gfp&(GFPBackground|GFPHighMem) != 0
	if nrToScan == 0 {
		return p.Total(high)
	}
	for freed < nrToScan {
		var b *Block
		p.mu.Lock()
		switch {
		case p.low.len() > 0:
			b = p.remove(false)
		case high && p.high.len() > 0:
			b = p.remove(true)
		}
		p.mu.Unlock()
		if b == nil {
			break
		}
		p.popped(b)
		p.freePages(b)
		freed += 1 << p.order
	}
	if freed > 0 && klog.V(4).Enabled() {
		klog.Infof("%s: shrink(%s, %d) freed %d pages", p, gfp, nrToScan, freed)
	}
	return
}

// Destroy releases the pool itself; cached blocks (if any) are leaked and reported
func (p *Pool) Destroy() error {
	if !p.destroyed.CompareAndSwap(false, true) {
		return errors.Errorf("%s: already destroyed", p.name)
	}
	p.budget.release()
	if n := p.low.len() + p.high.len(); n > 0 {
		klog.Errorf("%s: destroyed with %d cached blocks (leaked)", p, n)
		return errors.Wrapf(ErrPoolNotEmpty, "%s: %d cached blocks", p.name, n)
	}
	return nil
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Name:   p.name,
		Order:  p.order,
		Low:    p.low.len(),
		High:   p.high.len(),
		Hits:   p.stats.hits.Load(),
		Misses: p.stats.misses.Load(),
	}
}

//
// PoolBudget
//

func NewPoolBudget(n int) *PoolBudget { return &PoolBudget{max: int32(n)} }

func (pb *PoolBudget) Live() int { return int(pb.live.Load()) }
func (pb *PoolBudget) Max() int  { return int(pb.max) }

func (pb *PoolBudget) acquire() bool {
	if pb.live.Add(1) > pb.max {
		pb.live.Add(-1)
		return false
	}
	return true
}

func (pb *PoolBudget) release() { pb.live.Add(-1) }

//
// private
//

func (p *Pool) assertAlive() {
	if p == nil {
		panic("memsys: nil pool")
	}
	debug.Assert(!p.destroyed.Load(), p.name, " used after Destroy")
}

func (p *Pool) tryRemove() (b *Block) {
	if !p.mu.TryLock() {
		return nil
	}
	if p.high.len() > 0 {
		b = p.remove(true)
	} else if p.low.len() > 0 {
		b = p.remove(false)
	}
	p.mu.Unlock()
	if b != nil {
		p.popped(b)
	}
	return
}

// under lock
func (p *Pool) remove(high bool) (b *Block) {
	debug.AssertMutexLocked(&p.mu)
	if high {
		b = p.high.pop()
	} else {
		b = p.low.pop()
	}
	b.pooled.Store(false)
	return
}

// post-remove, outside the lock
func (p *Pool) popped(b *Block) {
	p.checkPoison(b)
	p.acct.ModNodeState(b.node, NrReclaimableBytes, -p.BlockSize())
}

func (p *Pool) add(b *Block) error {
	if b == nil {
		panic("memsys: nil block")
	}
	if b.order != p.order || int64(len(b.buf)) != p.BlockSize() {
		return errors.Errorf("%s: cannot cache %s (size %d)", p.name, b, len(b.buf))
	}
	if b.pooled.Load() {
		// already cached: nothing to release and nothing to add
		klog.Errorf("%s: double free of %s", p.name, b)
		debug.Assert(false, "double free ", b.String())
		return nil
	}
	p.fillPoison(b)

	p.mu.Lock()
	if !b.pooled.CompareAndSwap(false, true) {
		p.mu.Unlock()
		klog.Errorf("%s: double free of %s (racing)", p.name, b)
		return nil
	}
	if b.high {
		p.high.push(b)
	} else {
		p.low.push(b)
	}
	p.mu.Unlock()

	p.acct.ModNodeState(b.node, NrReclaimableBytes, p.BlockSize())
	return nil
}

func (p *Pool) allocPages() (*Block, error) {
	b, err := p.prov.AllocPages(p.gfp&^GFPZero, p.order)
	if err != nil || b == nil {
		if err == nil {
			err = errors.New("provider returned no block")
		}
		return nil, errors.Wrapf(ErrAllocFailed, "%s: %v", p.name, err)
	}
	if p.gfp&GFPZero != 0 {
		if err := p.prov.ZeroPages(p.dev, b); err != nil {
			p.prov.FreePages(b)
			return nil, errors.Wrapf(ErrAllocFailed, "%s: zero-fill %s: %v", p.name, b, err)
		}
	}
	p.prov.SetCachePolicyAlloc(p.dev, b)
	p.acct.ModNodeState(b.node, NrPoolPages, 1<<p.order)
	return b, nil
}

func (p *Pool) freePages(b *Block) {
	p.prov.SetCachePolicyFree(p.dev, b)
	p.prov.FreePages(b)
	p.acct.ModNodeState(b.node, NrPoolPages, -(1 << b.order))
}
