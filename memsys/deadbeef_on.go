//go:build deadbeef

// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"github.com/NVIDIA/pagepool/cmn/debug"
	"github.com/cespare/xxhash/v2"
	"k8s.io/klog/v2"
)

const deadBEEF = "DEADBEEF"

func deadbeef(b []byte) {
	l := len(b)
	for i := 0; i < l; i += len(deadBEEF) {
		copy(b[i:], deadBEEF)
	}
}

func (p *Pool) initPoison() {
	buf := make([]byte, p.BlockSize())
	deadbeef(buf)
	p.poison = xxhash.Sum64(buf)
}

func (p *Pool) fillPoison(b *Block) { deadbeef(b.buf) }

// cached blocks must come back exactly as poisoned; handed out zeroed
func (p *Pool) checkPoison(b *Block) {
	if xxhash.Sum64(b.buf) != p.poison {
		klog.Errorf("%s: %s modified while cached (use after free)", p.name, b)
		debug.Assert(false, "use after free: ", b.String())
	}
	clear(b.buf)
}
