// Package stats provides per-node page-pool accounting and its Prometheus exposition.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"strconv"
	"sync"

	"github.com/NVIDIA/pagepool/memsys"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pagepool"

// NodeState is an Accountant that mirrors Counters into a gauge vector
// labeled by node and item, e.g. pagepool_node_state{node="0",item="pool_pages"}
type NodeState struct {
	*Counters
	gauge *prometheus.GaugeVec
}

// interface guard
var _ memsys.Accountant = (*NodeState)(nil)

func NewNodeState(reg prometheus.Registerer) (*NodeState, error) {
	ns := &NodeState{
		Counters: NewCounters(),
		gauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_state",
			Help:      "pages held by the pools and bytes sitting on their free lists, per memory node",
		}, []string{"node", "item"}),
	}
	if err := reg.Register(ns.gauge); err != nil {
		return nil, err
	}
	return ns, nil
}

func (ns *NodeState) ModNodeState(node int, item memsys.NodeStat, delta int64) {
	ns.Counters.ModNodeState(node, item, delta)
	ns.gauge.WithLabelValues(strconv.Itoa(node), item.String()).Add(float64(delta))
}

//
// HeapCollector
//

type (
	promDesc map[string]*prometheus.Desc

	// HeapCollector exports pool and reclaimer statistics upon scrape
	HeapCollector struct {
		heap     *memsys.Heap
		rcl      *memsys.Reclaimer // optional
		promDesc promDesc
		mu       sync.Mutex // serializes Collect
	}
)

const (
	cachedBlocks = "cached_blocks"
	poolHits     = "hits_total"
	poolMisses   = "misses_total"
	buffers      = "buffers"
	bufAllocs    = "buffer_allocs_total"
	bufFailed    = "buffer_failures_total"
	rclRuns      = "reclaim_runs_total"
	rclFreed     = "reclaim_freed_pages_total"
)

// interface guard
var _ prometheus.Collector = (*HeapCollector)(nil)

func NewHeapCollector(heap *memsys.Heap, rcl *memsys.Reclaimer) *HeapCollector {
	c := &HeapCollector{heap: heap, rcl: rcl, promDesc: make(promDesc, 8)}
	constLabels := prometheus.Labels{"heap": heap.Config().Name}
	add := func(name, help string, labels ...string) {
		fullqn := prometheus.BuildFQName(namespace, "", name)
		c.promDesc[name] = prometheus.NewDesc(fullqn, help, labels, constLabels)
	}
	add(cachedBlocks, "blocks on the pool free lists", "order", "band")
	add(poolHits, "allocations served from the pool", "order")
	add(poolMisses, "allocations served by the provider", "order")
	add(buffers, "outstanding buffers")
	add(bufAllocs, "buffers allocated")
	add(bufFailed, "failed buffer allocations")
	if rcl != nil {
		add(rclRuns, "periodic reclaim passes")
		add(rclFreed, "pages given back to the provider by the reclaimer")
	}
	return c
}

func (c *HeapCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.promDesc {
		ch <- desc
	}
}

func (c *HeapCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := c.heap.Stats()
	for _, ps := range hs.Pools {
		order := strconv.Itoa(int(ps.Order))
		ch <- prometheus.MustNewConstMetric(c.promDesc[cachedBlocks], prometheus.GaugeValue, float64(ps.Low), order, "low")
		ch <- prometheus.MustNewConstMetric(c.promDesc[cachedBlocks], prometheus.GaugeValue, float64(ps.High), order, "high")
		ch <- prometheus.MustNewConstMetric(c.promDesc[poolHits], prometheus.CounterValue, float64(ps.Hits), order)
		ch <- prometheus.MustNewConstMetric(c.promDesc[poolMisses], prometheus.CounterValue, float64(ps.Misses), order)
	}
	ch <- prometheus.MustNewConstMetric(c.promDesc[buffers], prometheus.GaugeValue, float64(hs.Buffers))
	ch <- prometheus.MustNewConstMetric(c.promDesc[bufAllocs], prometheus.CounterValue, float64(hs.Allocs))
	ch <- prometheus.MustNewConstMetric(c.promDesc[bufFailed], prometheus.CounterValue, float64(hs.Failed))
	if c.rcl != nil {
		rs := c.rcl.Stats()
		ch <- prometheus.MustNewConstMetric(c.promDesc[rclRuns], prometheus.CounterValue, float64(rs.Runs))
		ch <- prometheus.MustNewConstMetric(c.promDesc[rclFreed], prometheus.CounterValue, float64(rs.Freed))
	}
}
