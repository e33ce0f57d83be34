// Package provider implements page providers for the memsys pools: GoMem (Go heap)
// and Mmap (anonymous mappings, Linux).
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package provider

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/NVIDIA/pagepool/memsys"
	"github.com/pkg/errors"
)

var ErrNoMemory = errors.New("provider: out of memory")

type (
	// Classifier decides whether a new block belongs to the high band;
	// it is consulted only when the request allows high memory (GFPHighMem)
	Classifier func(buf []byte) bool

	Stats struct {
		Pages      int64 `json:"pages"`  // currently allocated
		Blocks     int64 `json:"blocks"` // ditto
		Allocs     int64 `json:"allocs"`
		Frees      int64 `json:"frees"`
		Failures   int64 `json:"failures"`
		ZeroFills  int64 `json:"zero_fills"`
		CacheSyncs int64 `json:"cache_syncs"`
	}

	Option func(*base)

	// common part of all providers
	base struct {
		classify Classifier
		limit    int64 // pages; zero: unlimited
		node     int
		pages    atomic.Int64
		blocks   atomic.Int64
		allocs   atomic.Int64
		frees    atomic.Int64
		failures atomic.Int64
		zeroes   atomic.Int64
		syncs    atomic.Int64
	}
)

// AllHigh: every block allowed to be high is high
func AllHigh([]byte) bool { return true }

// AddrAbove classifies blocks by address, similar to a highmem zone boundary
func AddrAbove(boundary uintptr) Classifier {
	return func(buf []byte) bool {
		return uintptr(unsafe.Pointer(unsafe.SliceData(buf))) >= boundary
	}
}

func WithNode(node int) Option           { return func(b *base) { b.node = node } }
func WithClassifier(c Classifier) Option { return func(b *base) { b.classify = c } }

// WithLimit caps the number of pages outstanding at any time
func WithLimit(pages int64) Option { return func(b *base) { b.limit = pages } }

func (b *base) init(opts []Option) {
	b.classify = AllHigh
	for _, opt := range opts {
		opt(b)
	}
}

func (b *base) reserve(order uint) error {
	n := int64(1) << order
	if pages := b.pages.Add(n); b.limit > 0 && pages > b.limit {
		b.pages.Add(-n)
		b.failures.Add(1)
		return errors.Wrapf(ErrNoMemory, "order %d: %d pages in use (limit %d)", order, pages-n, b.limit)
	}
	return nil
}

func (b *base) unreserve(order uint) { b.pages.Add(-(int64(1) << order)) }

func (b *base) newBlock(buf []byte, gfp memsys.GFP, order uint) *memsys.Block {
	high := gfp&memsys.GFPHighMem != 0 && b.classify(buf)
	b.blocks.Add(1)
	b.allocs.Add(1)
	return memsys.NewBlock(buf, order, b.node, high)
}

func (b *base) released(blk *memsys.Block) {
	b.unreserve(blk.Order())
	b.blocks.Add(-1)
	b.frees.Add(1)
}

func (*base) check(blk *memsys.Block) {
	if blk == nil || int64(len(blk.Bytes())) != blk.Size() {
		panic(fmt.Sprintf("provider: invalid block %v", blk))
	}
}

func (*base) SetCachePolicyAlloc(memsys.Device, *memsys.Block) {}

func (b *base) SetCachePolicyFree(memsys.Device, *memsys.Block) { b.syncs.Add(1) }

func (b *base) Stats() Stats {
	return Stats{
		Pages:      b.pages.Load(),
		Blocks:     b.blocks.Load(),
		Allocs:     b.allocs.Load(),
		Frees:      b.frees.Load(),
		Failures:   b.failures.Load(),
		ZeroFills:  b.zeroes.Load(),
		CacheSyncs: b.syncs.Load(),
	}
}
