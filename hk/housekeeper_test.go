// Package hk provides mechanism for registering periodic callbacks
// (memory reclaim, in the first place) which are invoked at specified intervals.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package hk_test

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/pagepool/hk"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	var h *hk.Housekeeper

	BeforeEach(func() {
		h = hk.New(false)
		go h.Run()
		h.WaitStarted()
	})

	AfterEach(func() {
		h.Stop(nil)
	})

	It("should call the callback periodically", func() {
		var cnt atomic.Int32
		h.Reg("periodic"+hk.NameSuffix, func(int64) time.Duration {
			cnt.Add(1)
			return 20 * time.Millisecond
		}, 20*time.Millisecond)

		Eventually(cnt.Load, time.Second).Should(BeNumerically(">=", 3))
	})

	It("should call right away when registered with zero interval", func() {
		var cnt atomic.Int32
		h.Reg("now"+hk.NameSuffix, func(int64) time.Duration {
			cnt.Add(1)
			return time.Hour
		}, 0)

		Eventually(cnt.Load, 200*time.Millisecond).Should(BeEquivalentTo(1))
		Consistently(cnt.Load, 100*time.Millisecond).Should(BeEquivalentTo(1))
	})

	It("should stop calling after Unreg", func() {
		var cnt atomic.Int32
		h.Reg("unreg"+hk.NameSuffix, func(int64) time.Duration {
			cnt.Add(1)
			return 10 * time.Millisecond
		}, 10*time.Millisecond)
		Eventually(cnt.Load, time.Second).Should(BeNumerically(">=", 1))

		h.Unreg("unreg" + hk.NameSuffix)
		time.Sleep(50 * time.Millisecond)
		n := cnt.Load()
		Consistently(cnt.Load, 100*time.Millisecond).Should(Equal(n))
	})

	It("should unregister when the callback returns UnregInterval", func() {
		var cnt atomic.Int32
		h.Reg("once"+hk.NameSuffix, func(int64) time.Duration {
			cnt.Add(1)
			return hk.UnregInterval
		}, 10*time.Millisecond)

		Eventually(cnt.Load, time.Second).Should(BeEquivalentTo(1))
		Consistently(cnt.Load, 100*time.Millisecond).Should(BeEquivalentTo(1))
	})

	It("should not register a duplicate name", func() {
		var first, second atomic.Int32
		h.Reg("dup"+hk.NameSuffix, func(int64) time.Duration {
			first.Add(1)
			return 10 * time.Millisecond
		}, 10*time.Millisecond)
		h.Reg("dup"+hk.NameSuffix, func(int64) time.Duration {
			second.Add(1)
			return 10 * time.Millisecond
		}, 10*time.Millisecond)

		Eventually(first.Load, time.Second).Should(BeNumerically(">=", 2))
		Expect(second.Load()).To(BeZero())
	})
})
