// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"fmt"
	"sync/atomic"
)

// Block is `1 << order` contiguous pages. Its band (high or low) is decided by the
// provider at allocation time and never changes while pooled.
type Block struct {
	buf    []byte
	id     uint64
	node   int
	order  uint
	high   bool
	pooled atomic.Bool // on some pool's free list
}

var nextBlockID atomic.Uint64

// NewBlock is called by providers; buf must be exactly PageSize << order bytes
func NewBlock(buf []byte, order uint, node int, high bool) *Block {
	return &Block{
		buf:   buf,
		id:    nextBlockID.Add(1),
		node:  node,
		order: order,
		high:  high,
	}
}

func (b *Block) Bytes() []byte { return b.buf }
func (b *Block) ID() uint64    { return b.id }
func (b *Block) Node() int     { return b.node }
func (b *Block) Order() uint   { return b.order }
func (b *Block) High() bool    { return b.high }
func (b *Block) Size() int64   { return PageSize << b.order }
func (b *Block) Pages() int64  { return 1 << b.order }

func (b *Block) String() string {
	band := "low"
	if b.high {
		band = "high"
	}
	return fmt.Sprintf("block[%d, order %d, %s, node %d]", b.id, b.order, band, b.node)
}
