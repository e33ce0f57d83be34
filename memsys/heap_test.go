// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys_test

import (
	"github.com/NVIDIA/pagepool/memsys"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Heap", func() {
	var (
		prov *tprov
		acct *tacct
		cfg  *memsys.Config
		heap *memsys.Heap
	)

	orders := func(buf *memsys.Buffer) (o []uint) {
		for _, b := range buf.Blocks {
			o = append(o, b.Order())
		}
		return
	}

	BeforeEach(func() {
		prov = newTprov()
		acct = &tacct{}
		cfg = memsys.DefaultConfig()
		cfg.Name = "test-heap"
		cfg.Orders = []uint{4, 2, 0}
	})

	JustBeforeEach(func() {
		var err error
		heap, err = memsys.NewHeap(cfg, dev, prov, memsys.WithAccountant(acct))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if heap != nil {
			Expect(heap.Destroy()).To(Succeed())
			heap = nil
		}
		Expect(prov.numLive()).To(BeZero())
		Expect(prov.badFrees.Load()).To(BeZero())
	})

	It("should allocate largest blocks first", func() {
		buf, err := heap.AllocBuffer(23*memsys.PageSize - 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.Size).To(BeEquivalentTo(23 * memsys.PageSize))
		Expect(orders(buf)).To(Equal([]uint{4, 2, 0, 0, 0}))
		Expect(heap.Stats().Buffers).To(BeEquivalentTo(1))

		heap.FreeBuffer(buf)
		hs := heap.Stats()
		Expect(hs.Cached).To(BeEquivalentTo(23))
		Expect(hs.Buffers).To(BeZero())
		Expect(hs.Pools).To(HaveLen(3))
		Expect(hs.Pools[0].High).To(BeEquivalentTo(1))
		Expect(hs.Pools[1].High).To(BeEquivalentTo(1))
		Expect(hs.Pools[2].High).To(BeEquivalentTo(3))
	})

	It("should add no-warn and no-retry to higher orders only", func() {
		pools := heap.Pools()
		Expect(pools[0].GFP() & (memsys.GFPNoWarn | memsys.GFPNoRetry)).To(Equal(memsys.GFPNoWarn | memsys.GFPNoRetry))
		Expect(pools[2].GFP() & (memsys.GFPNoWarn | memsys.GFPNoRetry)).To(BeZero())
		for _, p := range pools {
			Expect(p.GFP() & memsys.GFPZero).NotTo(BeZero())
		}
	})

	It("should reuse cached blocks and keep them zeroed", func() {
		buf, err := heap.AllocBuffer(4 * memsys.PageSize)
		Expect(err).NotTo(HaveOccurred())
		Expect(orders(buf)).To(Equal([]uint{2}))
		id := buf.Blocks[0].ID()
		buf.Blocks[0].Bytes()[100] = 0xff
		heap.FreeBuffer(buf)

		buf, err = heap.AllocBuffer(3*memsys.PageSize + 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.Blocks[0].ID()).To(Equal(id))
		Expect(buf.Blocks[0].Bytes()[100]).To(BeZero())
		Expect(heap.Stats().Pools[1].Hits).To(BeEquivalentTo(1))
		heap.FreeBuffer(buf)
	})

	It("should fall back to smaller orders", func() {
		Expect(heap.Destroy()).To(Succeed())
		var err error
		heap, err = memsys.NewHeap(cfg, dev, prov,
			memsys.WithHighOrderGauge(gaugeFunc(func(order uint) int64 {
				if order > 2 {
					return 0
				}
				return 1 << 20
			})))
		Expect(err).NotTo(HaveOccurred())

		buf, err := heap.AllocBuffer(16 * memsys.PageSize)
		Expect(err).NotTo(HaveOccurred())
		Expect(orders(buf)).To(Equal([]uint{2, 2, 2, 2}))
		heap.FreeBuffer(buf)
	})

	It("should free everything upon failure", func() {
		buf, err := heap.AllocBuffer(16 * memsys.PageSize)
		Expect(err).NotTo(HaveOccurred())
		heap.FreeBuffer(buf)

		// the cached order-4 block succeeds, the rest fails
		prov.failAlloc.Store(true)
		_, err = heap.AllocBuffer(17 * memsys.PageSize)
		Expect(errors.Is(err, memsys.ErrAllocFailed)).To(BeTrue())
		hs := heap.Stats()
		Expect(hs.Failed).To(BeEquivalentTo(1))
		Expect(hs.Buffers).To(BeZero())
		Expect(prov.numLive()).To(BeZero())
		prov.failAlloc.Store(false)
	})

	It("should reject invalid sizes", func() {
		_, err := heap.AllocBuffer(0)
		Expect(err).To(HaveOccurred())
		_, err = heap.AllocBuffer(1 << 62)
		Expect(errors.Is(err, memsys.ErrOutOfMemory)).To(BeTrue())
	})

	It("should shrink across pools", func() {
		buf, err := heap.AllocBuffer(16*memsys.PageSize + 4*memsys.PageSize + memsys.PageSize)
		Expect(err).NotTo(HaveOccurred())
		heap.FreeBuffer(buf)
		Expect(heap.Shrink(memsys.GFPHighMem, 0)).To(BeEquivalentTo(21))
		Expect(heap.Shrink(0, 0)).To(BeZero()) // all high

		Expect(heap.Shrink(memsys.GFPBackground, 17)).To(BeEquivalentTo(20))
		Expect(heap.Shrink(memsys.GFPBackground, 0)).To(BeEquivalentTo(1))
		Expect(prov.numLive()).To(Equal(1))
	})

	It("should free directly to the provider", func() {
		buf, err := heap.AllocBuffer(memsys.PageSize)
		Expect(err).NotTo(HaveOccurred())
		heap.FreeBufferImmediate(buf)
		Expect(heap.Shrink(memsys.GFPBackground, 0)).To(BeZero())
		Expect(acct.get(memsys.NrPoolPages)).To(BeZero())

		// freeing twice is ignored
		heap.FreeBuffer(buf)
		Expect(heap.Stats().Buffers).To(BeZero())
	})

	When("uncached", func() {
		BeforeEach(func() { cfg.Uncached = true })

		It("should bypass the pools", func() {
			buf, err := heap.AllocBuffer(5 * memsys.PageSize)
			Expect(err).NotTo(HaveOccurred())
			heap.FreeBuffer(buf)
			Expect(heap.Stats().Cached).To(BeZero())
			Expect(prov.numLive()).To(BeZero())
		})
	})

	Context("with its own pool budget", func() {
		BeforeEach(func() {
			cfg.MaxPools = len(cfg.Orders)
		})

		It("should not draw on the default budget", func() {
			live := memsys.DefaultBudget.Live()
			other, err := memsys.NewHeap(cfg, dev, prov)
			Expect(err).NotTo(HaveOccurred())
			Expect(memsys.DefaultBudget.Live()).To(Equal(live))
			Expect(other.Destroy()).To(Succeed())
		})
	})

	It("should report outstanding buffers upon destroy", func() {
		buf, err := heap.AllocBuffer(memsys.PageSize)
		Expect(err).NotTo(HaveOccurred())
		err = heap.Destroy()
		heap = nil
		Expect(err).To(HaveOccurred())
		var merr *multierror.Error
		Expect(errors.As(err, &merr)).To(BeTrue())
		Expect(merr.Errors).To(HaveLen(1))

		// the outstanding block is still owned by the caller
		Expect(prov.numLive()).To(Equal(1))
		prov.FreePages(buf.Blocks[0])
	})
})
