// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"sync/atomic"

	"github.com/eapache/queue"
)

// freeList is one band's list of pooled blocks; the list itself is protected by the
// owning pool's mutex while `count` may be read at any time
type freeList struct {
	q     *queue.Queue
	count atomic.Int64
}

func (l *freeList) init() { l.q = queue.New() }

func (l *freeList) len() int64 { return l.count.Load() }

// under pool lock
func (l *freeList) push(b *Block) {
	l.q.Add(b)
	l.count.Add(1)
}

// under pool lock; popping from an empty list means the counters are corrupted
func (l *freeList) pop() *Block {
	if l.count.Load() <= 0 || l.q.Length() == 0 {
		panic("memsys: remove from empty free list")
	}
	b := l.q.Remove().(*Block)
	l.count.Add(-1)
	return b
}
