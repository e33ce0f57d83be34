// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"strings"

	"github.com/NVIDIA/pagepool/cmn/cos"
)

// base provider unit: block size = PageSize << order
const (
	PageSize  = cos.KiB * 4
	PageShift = 12
	MaxOrder  = 10
)

// GFP ("get free pages") flags: allocation flags passed to the provider on a pool miss,
// and pressure flags passed to Shrink
type GFP uint32

const (
	GFPZero       GFP = 1 << iota // zero-fill blocks obtained from the provider
	GFPHighMem                    // high band is acceptable: to allocate from, or to reclaim
	GFPNoWarn                     // provider: do not log allocation failures
	GFPNoRetry                    // provider: fail fast instead of retrying
	GFPBackground                 // Shrink: the caller is the background reclaimer
)

var gfpNames = []string{"zero", "highmem", "nowarn", "noretry", "background"}

func (g GFP) String() string {
	if g == 0 {
		return "none"
	}
	var sb []string
	for i, name := range gfpNames {
		if g&(1<<i) != 0 {
			sb = append(sb, name)
		}
	}
	return strings.Join(sb, "|")
}

// Source tells the caller where Alloc found the block
type Source int

const (
	SourceCache Source = iota
	SourceProvider
)

func (s Source) String() string {
	if s == SourceCache {
		return "cache"
	}
	return "provider"
}

// Device is the opaque handle passed through to the zero-fill and cache-policy hooks
type Device interface {
	Name() string
}

type DevName string

func (d DevName) Name() string { return string(d) }
