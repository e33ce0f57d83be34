// Package stats provides per-node page-pool accounting and its Prometheus exposition.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/NVIDIA/pagepool/memsys"
)

type (
	nodeCounters [memsys.NumNodeStats]atomic.Int64

	// Counters is an in-memory Accountant: signed per-node totals
	Counters struct {
		nodes map[int]*nodeCounters
		mu    sync.RWMutex
	}
)

// interface guard
var _ memsys.Accountant = (*Counters)(nil)

func NewCounters() *Counters { return &Counters{nodes: make(map[int]*nodeCounters, 2)} }

func (c *Counters) ModNodeState(node int, item memsys.NodeStat, delta int64) {
	c.node(node)[item].Add(delta)
}

func (c *Counters) Get(node int, item memsys.NodeStat) int64 {
	c.mu.RLock()
	nc, ok := c.nodes[node]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return nc[item].Load()
}

// Sum across all nodes
func (c *Counters) Sum(item memsys.NodeStat) (total int64) {
	c.mu.RLock()
	for _, nc := range c.nodes {
		total += nc[item].Load()
	}
	c.mu.RUnlock()
	return
}

// Nodes returns sorted node IDs seen so far
func (c *Counters) Nodes() []int {
	c.mu.RLock()
	nodes := make([]int, 0, len(c.nodes))
	for node := range c.nodes {
		nodes = append(nodes, node)
	}
	c.mu.RUnlock()
	sort.Ints(nodes)
	return nodes
}

func (c *Counters) node(node int) *nodeCounters {
	c.mu.RLock()
	nc, ok := c.nodes[node]
	c.mu.RUnlock()
	if ok {
		return nc
	}
	c.mu.Lock()
	if nc, ok = c.nodes[node]; !ok {
		nc = &nodeCounters{}
		c.nodes[node] = nc
	}
	c.mu.Unlock()
	return nc
}
