// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

// collaborators
type (
	// Provider is the raw page allocator the pools sit on top of
	Provider interface {
		// AllocPages returns a new block of `1 << order` pages, or an error
		AllocPages(gfp GFP, order uint) (*Block, error)
		FreePages(b *Block)
		ZeroPages(dev Device, b *Block) error
		SetCachePolicyAlloc(dev Device, b *Block)
		SetCachePolicyFree(dev Device, b *Block)
	}

	// Accountant receives signed deltas keyed by memory node; must be safe for concurrent use
	Accountant interface {
		ModNodeState(node int, item NodeStat, delta int64)
	}

	// HighOrderGauge reports free pages residing in system blocks of at least the given order
	HighOrderGauge interface {
		FreeHighOrderPages(order uint) int64
	}

	// Shrinker is implemented by Pool and Heap and driven by the Reclaimer
	Shrinker interface {
		Shrink(gfp GFP, nrToScan int64) int64
	}
)

type NodeStat int

const (
	NrPoolPages        NodeStat = iota // pages obtained from (and not yet returned to) the provider
	NrReclaimableBytes                 // bytes sitting on the free lists
	NumNodeStats
)

func (s NodeStat) String() string {
	switch s {
	case NrPoolPages:
		return "pool_pages"
	case NrReclaimableBytes:
		return "reclaimable_bytes"
	default:
		return "unknown"
	}
}

type NopAccountant struct{}

func (NopAccountant) ModNodeState(int, NodeStat, int64) {}
