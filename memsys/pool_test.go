// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys_test

import (
	"math/rand/v2"
	"sync"

	"github.com/NVIDIA/pagepool/memsys"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Pool", func() {
	var (
		prov *tprov
		acct *tacct
		pool *memsys.Pool
	)

	newPool := func(gfp memsys.GFP, order uint, opts ...memsys.Option) *memsys.Pool {
		p, err := memsys.NewPool(dev, prov, gfp, order, append(opts, memsys.WithAccountant(acct))...)
		Expect(err).NotTo(HaveOccurred())
		return p
	}
	// add n new blocks of the requested band to the cache
	fill := func(p *memsys.Pool, n int, high bool) {
		var cached, blocks []*memsys.Block
		for b := p.AllocPoolOnly(); b != nil; b = p.AllocPoolOnly() {
			cached = append(cached, b)
		}
		prov.low.Store(!high)
		for range n {
			b, src, err := p.Alloc()
			Expect(err).NotTo(HaveOccurred())
			Expect(src).To(Equal(memsys.SourceProvider))
			Expect(b.High()).To(Equal(high))
			blocks = append(blocks, b)
		}
		for _, b := range append(blocks, cached...) {
			p.Free(b)
		}
	}
	counts := func(p *memsys.Pool) (low, high int64) {
		st := p.Stats()
		return st.Low, st.High
	}

	BeforeEach(func() {
		prov = newTprov()
		acct = &tacct{}
		pool = nil
	})

	AfterEach(func() {
		if pool != nil {
			pool.Shrink(memsys.GFPBackground, 1<<40)
			Expect(pool.Destroy()).To(Succeed())
		}
		Expect(prov.badFrees.Load()).To(BeZero())
	})

	It("should allocate from the provider, cache upon free, and reuse (order 2)", func() {
		pool = newPool(memsys.GFPZero, 2)
		Expect(pool.BlockSize()).To(BeEquivalentTo(4 * memsys.PageSize))

		b, src, err := pool.Alloc()
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(Equal(memsys.SourceProvider))
		Expect(b.Order()).To(BeEquivalentTo(2))
		Expect(b.High()).To(BeFalse())
		Expect(b.Bytes()).To(HaveLen(4 * memsys.PageSize))

		pool.Free(b)
		low, high := counts(pool)
		Expect(low).To(BeEquivalentTo(1))
		Expect(high).To(BeZero())
		Expect(pool.Total(false)).To(BeEquivalentTo(4))

		b2, src, err := pool.Alloc()
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(Equal(memsys.SourceCache))
		Expect(b2.ID()).To(Equal(b.ID()))
		low, _ = counts(pool)
		Expect(low).To(BeZero())
		Expect(pool.Total(false)).To(BeZero())
		pool.FreeImmediate(b2)
	})

	It("should account pages and reclaimable bytes", func() {
		pool = newPool(memsys.GFPZero, 1)
		b, _, err := pool.Alloc()
		Expect(err).NotTo(HaveOccurred())
		Expect(acct.get(memsys.NrPoolPages)).To(BeEquivalentTo(2))
		Expect(acct.get(memsys.NrReclaimableBytes)).To(BeZero())
		Expect(prov.zeroes.Load()).To(BeEquivalentTo(1))
		Expect(prov.policyAlloc.Load()).To(BeEquivalentTo(1))
		Expect(memsys.GFP(prov.lastGFP.Load()) & memsys.GFPZero).To(BeZero())

		pool.Free(b)
		Expect(acct.get(memsys.NrReclaimableBytes)).To(BeEquivalentTo(2 * memsys.PageSize))

		b, _, _ = pool.Alloc()
		Expect(acct.get(memsys.NrReclaimableBytes)).To(BeZero())

		pool.FreeImmediate(b)
		Expect(acct.get(memsys.NrPoolPages)).To(BeZero())
		Expect(prov.policyFree.Load()).To(BeEquivalentTo(1))
		Expect(prov.numLive()).To(BeZero())
	})

	It("should round-trip a block of the same size class via AllocPoolOnly", func() {
		pool = newPool(0, 3)
		Expect(pool.AllocPoolOnly()).To(BeNil())

		b, _, err := pool.Alloc()
		Expect(err).NotTo(HaveOccurred())
		pool.Free(b)
		b2 := pool.AllocPoolOnly()
		Expect(b2).NotTo(BeNil())
		Expect(b2.Order()).To(Equal(b.Order()))
		Expect(b2.Size()).To(Equal(b.Size()))
		Expect(prov.allocs.Load()).To(BeEquivalentTo(1))
		pool.Free(b2)
	})

	It("should prefer the high band upon allocation", func() {
		pool = newPool(memsys.GFPHighMem, 0)
		fill(pool, 2, false)
		fill(pool, 1, true)

		b, src, err := pool.Alloc()
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(Equal(memsys.SourceCache))
		Expect(b.High()).To(BeTrue())
		b2, _, _ := pool.Alloc()
		Expect(b2.High()).To(BeFalse())
		pool.Free(b)
		pool.Free(b2)
	})

	It("should not change anything when queried", func() {
		pool = newPool(memsys.GFPHighMem, 1)
		fill(pool, 3, false)
		fill(pool, 2, true)

		for _, gfp := range []memsys.GFP{0, memsys.GFPHighMem, memsys.GFPBackground} {
			high := gfp != 0
			before := pool.Stats()
			Expect(pool.Shrink(gfp, 0)).To(Equal(pool.Total(high)))
			Expect(pool.Shrink(gfp, 0)).To(Equal(pool.Total(high)))
			Expect(pool.Stats()).To(Equal(before))
		}
		Expect(pool.Total(false)).To(BeEquivalentTo(6))
		Expect(pool.Total(true)).To(BeEquivalentTo(10))
	})

	It("should drain the low band first", func() {
		pool = newPool(memsys.GFPHighMem, 2)
		fill(pool, 3, false)
		fill(pool, 2, true)

		freed := pool.Shrink(memsys.GFPBackground, pool.Total(false))
		Expect(freed).To(BeEquivalentTo(12))
		low, high := counts(pool)
		Expect(low).To(BeZero())
		Expect(high).To(BeEquivalentTo(2))
		Expect(prov.numLive()).To(Equal(2))
	})

	It("should round up to whole blocks", func() {
		pool = newPool(0, 2)
		fill(pool, 2, false)
		Expect(pool.Shrink(memsys.GFPHighMem, 1)).To(BeEquivalentTo(4))
		Expect(pool.Total(false)).To(BeEquivalentTo(4))
	})

	It("should not reclaim the high band unless eligible", func() {
		pool = newPool(memsys.GFPHighMem, 0)
		fill(pool, 4, true)

		before := pool.Stats()
		Expect(pool.Shrink(0, 100)).To(BeZero())
		Expect(pool.Stats()).To(Equal(before))

		Expect(pool.Shrink(memsys.GFPHighMem, 100)).To(BeEquivalentTo(4))
		Expect(pool.Total(true)).To(BeZero())
	})

	It("should give back exactly what is cached when asked for more", func() {
		pool = newPool(memsys.GFPHighMem, 1)
		fill(pool, 5, false)
		fill(pool, 3, true)
		total := pool.Total(true)

		Expect(pool.Shrink(memsys.GFPBackground, total*10)).To(Equal(total))
		low, high := counts(pool)
		Expect(low + high).To(BeZero())
		Expect(prov.numLive()).To(BeZero())
		Expect(acct.get(memsys.NrPoolPages)).To(BeZero())
		Expect(acct.get(memsys.NrReclaimableBytes)).To(BeZero())
	})

	It("should fail when the provider fails", func() {
		pool = newPool(0, 0)
		prov.failAlloc.Store(true)
		_, _, err := pool.Alloc()
		Expect(errors.Is(err, memsys.ErrAllocFailed)).To(BeTrue())
		Expect(acct.get(memsys.NrPoolPages)).To(BeZero())
	})

	It("should release the block when zero-fill fails", func() {
		pool = newPool(memsys.GFPZero, 2)
		prov.failZero.Store(true)
		_, _, err := pool.Alloc()
		Expect(errors.Is(err, memsys.ErrAllocFailed)).To(BeTrue())
		Expect(prov.allocs.Load()).To(BeEquivalentTo(1))
		Expect(prov.numLive()).To(BeZero())
		Expect(prov.policyAlloc.Load()).To(BeZero())
		Expect(acct.get(memsys.NrPoolPages)).To(BeZero())
	})

	It("should fail fast when high-order memory is short", func() {
		var free int64
		gauge := gaugeFunc(func(uint) int64 { return free })
		pool = newPool(0, 3, memsys.WithHighOrderGauge(gauge))

		free = 7
		_, _, err := pool.Alloc()
		Expect(errors.Is(err, memsys.ErrNoHighOrder)).To(BeTrue())
		Expect(prov.allocs.Load()).To(BeZero())

		free = 8
		b, src, err := pool.Alloc()
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(Equal(memsys.SourceProvider))

		// cached blocks are served regardless
		pool.Free(b)
		free = 0
		b2, src, err := pool.Alloc()
		Expect(err).NotTo(HaveOccurred())
		Expect(src).To(Equal(memsys.SourceCache))
		pool.Free(b2)
	})

	It("should never guard order 0", func() {
		pool = newPool(0, 0, memsys.WithHighOrderGauge(gaugeFunc(func(uint) int64 { return 0 })))
		b, _, err := pool.Alloc()
		Expect(err).NotTo(HaveOccurred())
		pool.Free(b)
	})

	It("should release a block of the wrong order instead of caching it", func() {
		pool = newPool(0, 1)
		other := newPool(0, 0)
		b, _, err := other.Alloc()
		Expect(err).NotTo(HaveOccurred())

		pool.Free(b)
		Expect(pool.Total(true)).To(BeZero())
		Expect(prov.numLive()).To(BeZero())
		Expect(other.Destroy()).To(Succeed())
	})

	It("should ignore a double free", func() {
		pool = newPool(0, 0)
		b, _, err := pool.Alloc()
		Expect(err).NotTo(HaveOccurred())
		pool.Free(b)
		pool.Free(b)
		low, _ := counts(pool)
		Expect(low).To(BeEquivalentTo(1))
	})

	It("should report leaked blocks upon destroy", func() {
		p := newPool(0, 0)
		fill(p, 2, false)
		err := p.Destroy()
		Expect(errors.Is(err, memsys.ErrPoolNotEmpty)).To(BeTrue())
		Expect(p.Destroy()).To(HaveOccurred())
		Expect(prov.numLive()).To(Equal(2))
	})

	It("should limit the number of pools per budget", func() {
		var (
			budget = memsys.NewPoolBudget(3)
			pools  []*memsys.Pool
			err    error
		)
		for range 4 {
			var p *memsys.Pool
			if p, err = memsys.NewPool(dev, prov, 0, 0, memsys.WithBudget(budget)); err != nil {
				break
			}
			pools = append(pools, p)
		}
		Expect(errors.Is(err, memsys.ErrOutOfMemory)).To(BeTrue())
		Expect(pools).To(HaveLen(3))
		Expect(budget.Live()).To(Equal(3))

		// other budgets are not affected
		other, err := memsys.NewPool(dev, prov, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(other.Destroy()).To(Succeed())

		Expect(pools[0].Destroy()).To(Succeed())
		Expect(budget.Live()).To(Equal(2))
		again, err := memsys.NewPool(dev, prov, 0, 0, memsys.WithBudget(budget))
		Expect(err).NotTo(HaveOccurred())
		for _, p := range append(pools[1:], again) {
			Expect(p.Destroy()).To(Succeed())
		}
		Expect(budget.Live()).To(BeZero())
	})

	It("should limit the number of pools", func() {
		pools := make([]*memsys.Pool, 0, memsys.MaxPools)
		var err error
		for range memsys.MaxPools + 1 {
			var p *memsys.Pool
			if p, err = memsys.NewPool(dev, prov, 0, 0); err != nil {
				break
			}
			pools = append(pools, p)
		}
		Expect(errors.Is(err, memsys.ErrOutOfMemory)).To(BeTrue())
		Expect(len(pools)).To(BeNumerically("<=", memsys.MaxPools))
		for _, p := range pools {
			Expect(p.Destroy()).To(Succeed())
		}
		p, err := memsys.NewPool(dev, prov, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Destroy()).To(Succeed())
	})

	It("should reject invalid arguments", func() {
		_, err := memsys.NewPool(dev, nil, 0, 0)
		Expect(err).To(HaveOccurred())
		_, err = memsys.NewPool(dev, prov, 0, memsys.MaxOrder+1)
		Expect(err).To(HaveOccurred())
	})

	It("should neither lose nor duplicate blocks under concurrency", func() {
		const (
			workers = 16
			iters   = 2000
		)
		pool = newPool(memsys.GFPHighMem, 0)
		var (
			mu    sync.Mutex
			owned = make(map[uint64]struct{}, workers*4)
			g     errgroup.Group
		)
		take := func(b *memsys.Block) error {
			mu.Lock()
			defer mu.Unlock()
			if _, ok := owned[b.ID()]; ok {
				return errors.Errorf("%s handed out twice", b)
			}
			owned[b.ID()] = struct{}{}
			return nil
		}
		give := func(b *memsys.Block) {
			mu.Lock()
			delete(owned, b.ID())
			mu.Unlock()
		}
		for i := range workers {
			g.Go(func() error {
				rnd := rand.New(rand.NewPCG(uint64(i), 0))
				held := make([]*memsys.Block, 0, 4)
				for range iters {
					if len(held) < 4 && rnd.IntN(2) == 0 {
						b, _, err := pool.Alloc()
						if err != nil {
							return err
						}
						if err := take(b); err != nil {
							return err
						}
						held = append(held, b)
						continue
					}
					if len(held) > 0 {
						b := held[len(held)-1]
						held = held[:len(held)-1]
						give(b)
						pool.Free(b)
					}
					if i == 0 && rnd.IntN(16) == 0 {
						pool.Shrink(memsys.GFPBackground, 2)
					}
				}
				for _, b := range held {
					give(b)
					pool.Free(b)
				}
				return nil
			})
		}
		Expect(g.Wait()).To(Succeed())
		Expect(owned).To(BeEmpty())

		low, high := counts(pool)
		Expect(int(low + high)).To(Equal(prov.numLive()))
		Expect(acct.get(memsys.NrPoolPages)).To(Equal(low + high))
		Expect(acct.get(memsys.NrReclaimableBytes)).To(Equal((low + high) * memsys.PageSize))
	})
})
