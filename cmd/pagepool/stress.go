// Package main is the page pool command-line tool: stress, serve, and inspect
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/pagepool/cmn/cos"
	"github.com/NVIDIA/pagepool/memsys"
	"github.com/NVIDIA/pagepool/provider"
	"github.com/NVIDIA/pagepool/stats"
	"github.com/NVIDIA/pagepool/sys"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	workersFlag  = cli.IntFlag{Name: "workers,w", Usage: "number of concurrent workers (default: number of CPUs)"}
	durationFlag = cli.DurationFlag{Name: "duration,d", Usage: "test duration", Value: 10 * time.Second}
	maxSizeFlag  = cli.StringFlag{Name: "max-size", Usage: "maximum buffer size", Value: "4MiB"}
	holdFlag     = cli.IntFlag{Name: "hold", Usage: "buffers held by each worker at any time", Value: 4}
	kickFlag     = cli.DurationFlag{Name: "kick", Usage: "interval between on-demand reclaims (0: never)", Value: 100 * time.Millisecond}

	stressCmd = cli.Command{
		Name:      "stress",
		Usage:     "allocate, verify, and free random-size buffers from concurrent workers",
		UsageText: cliName + " [global options] stress [--workers N] [--duration D] [--max-size SIZE]",
		Flags:     []cli.Flag{workersFlag, durationFlag, maxSizeFlag, holdFlag, kickFlag},
		Action:    stressHandler,
	}
)

type (
	stressCounters struct {
		allocs   atomic.Int64
		frees    atomic.Int64
		failures atomic.Int64
		bytes    atomic.Int64
		reclaim  atomic.Int64 // pages
	}
	stressResult struct {
		Elapsed    string              `json:"elapsed"`
		Workers    int                 `json:"workers"`
		Allocs     int64               `json:"allocs"`
		Frees      int64               `json:"frees"`
		Failures   int64               `json:"failures"`
		Bytes      string              `json:"bytes"`
		Reclaimed  int64               `json:"reclaimed_pages"`
		Heap       memsys.HeapStats    `json:"heap"`
		ProvName   string              `json:"provider_name"`
		Provider   provider.Stats      `json:"provider"`
		Accounting map[string][2]int64 `json:"accounting"` // node => (pool pages, reclaimable bytes)
	}
)

func stressHandler(c *cli.Context) error {
	config, err := loadConfig(c)
	if err != nil {
		return err
	}
	maxSize, err := parseSizeFlag(c, maxSizeFlag)
	if err != nil {
		return err
	}
	if maxSize <= 0 {
		return errors.Errorf("invalid max-size %d", maxSize)
	}
	var (
		counters = stats.NewCounters()
		workers  = parseIntFlag(c, workersFlag)
		hold     = max(parseIntFlag(c, holdFlag), 1)
		duration = parseDurationFlag(c, durationFlag)
		cnt      stressCounters
	)
	if workers <= 0 {
		workers = sys.NumCPU()
	}
	heap, prov, err := newHeap(c, config, memsys.WithAccountant(counters))
	if err != nil {
		return err
	}
	rcl, err := memsys.NewReclaimer(heap, config)
	if err != nil {
		return err
	}
	if load := sys.MaxLoad(); load > float64(sys.NumCPU()) {
		klog.Warningf("stress: system load %.2f exceeds the number of CPUs", load)
	}
	klog.Infof("stress: %d workers, %v, max-size %s", workers, duration, cos.ToSizeIEC(maxSize, 0))

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error { return stressWorker(ctx, heap, i, maxSize, hold, &cnt) })
	}
	if kick := parseDurationFlag(c, kickFlag); kick > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(kick)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					freed, err := rcl.Kick(heap.Shrink(memsys.GFPBackground, 0) / 2)
					if err == nil {
						cnt.reclaim.Add(freed)
					} else if !errors.Is(err, memsys.ErrThrottled) {
						return err
					}
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	res := stressResult{
		Elapsed:    time.Since(started).Round(time.Millisecond).String(),
		Workers:    workers,
		Allocs:     cnt.allocs.Load(),
		Frees:      cnt.frees.Load(),
		Failures:   cnt.failures.Load(),
		Bytes:      cos.ToSizeIEC(cnt.bytes.Load(), 2),
		Reclaimed:  cnt.reclaim.Load(),
		Heap:       heap.Stats(),
		ProvName:   prov.Name(),
		Accounting: make(map[string][2]int64, 2),
	}
	for _, node := range counters.Nodes() {
		res.Accounting[fmt.Sprintf("node%d", node)] = [2]int64{
			counters.Get(node, memsys.NrPoolPages),
			counters.Get(node, memsys.NrReclaimableBytes),
		}
	}
	if err := heap.Destroy(); err != nil {
		return err
	}
	res.Provider = prov.Stats() // after teardown: nothing outstanding
	b, err := jsoniter.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(b))
	return nil
}

// each buffer carries a pattern derived from its sequence number and is verified upon free
func stressWorker(ctx context.Context, heap *memsys.Heap, id int, maxSize int64, hold int, cnt *stressCounters) error {
	type held struct {
		buf  *memsys.Buffer
		data []byte
	}
	var (
		rnd  = rand.New(rand.NewPCG(uint64(id), uint64(time.Now().UnixNano())))
		bufs = make([]held, 0, hold)
		tmp  []byte
	)
	release := func(h held) error {
		if cap(tmp) < len(h.data) {
			tmp = make([]byte, len(h.data))
		}
		tmp = tmp[:len(h.data)]
		h.buf.Rewind()
		if _, err := h.buf.Read(tmp); err != nil {
			return errors.Wrapf(err, "worker %d: read back", id)
		}
		if !bytes.Equal(tmp, h.data) {
			return errors.Errorf("worker %d: buffer content mismatch (%d bytes)", id, len(h.data))
		}
		heap.FreeBuffer(h.buf)
		cnt.frees.Add(1)
		return nil
	}
	defer func() {
		for _, h := range bufs {
			heap.FreeBuffer(h.buf)
		}
	}()
	for ctx.Err() == nil {
		if len(bufs) == hold || (len(bufs) > 0 && rnd.IntN(3) == 0) {
			i := rnd.IntN(len(bufs))
			h := bufs[i]
			bufs[i] = bufs[len(bufs)-1]
			bufs = bufs[:len(bufs)-1]
			if err := release(h); err != nil {
				return err
			}
			continue
		}
		size := rnd.Int64N(maxSize) + 1
		buf, err := heap.AllocBuffer(size)
		if err != nil {
			if errors.Is(err, memsys.ErrAllocFailed) || errors.Is(err, memsys.ErrNoHighOrder) ||
				errors.Is(err, memsys.ErrOutOfMemory) {
				cnt.failures.Add(1)
				continue
			}
			return err
		}
		cnt.allocs.Add(1)
		cnt.bytes.Add(buf.Size)
		data := make([]byte, min(size, 4096))
		for j := range data {
			data[j] = byte(rnd.Uint32())
		}
		if _, err := buf.Write(data); err != nil {
			heap.FreeBuffer(buf)
			return errors.Wrapf(err, "worker %d: write", id)
		}
		bufs = append(bufs, held{buf: buf, data: data})
	}
	return nil
}
