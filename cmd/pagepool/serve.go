// Package main is the page pool command-line tool: stress, serve, and inspect
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/NVIDIA/pagepool/cmn/debug"
	"github.com/NVIDIA/pagepool/hk"
	"github.com/NVIDIA/pagepool/memsys"
	"github.com/NVIDIA/pagepool/stats"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"k8s.io/klog/v2"
)

var (
	listenFlag = cli.StringFlag{Name: "listen,l", Usage: "HTTP listen address", Value: ":9100"}
	warmFlag   = cli.StringFlag{Name: "warm", Usage: "pre-populate the pools with this much memory (e.g. 256MiB)", Value: "0"}

	serveCmd = cli.Command{
		Name:  "serve",
		Usage: "run the reclaimer and serve Prometheus metrics (/metrics), stats (/stats), and on-demand reclaim (/reclaim)",
		Flags: []cli.Flag{listenFlag, warmFlag},
		Action: func(c *cli.Context) error {
			return serve(c)
		},
	}
)

type server struct {
	heap *memsys.Heap
	rcl  *memsys.Reclaimer
}

func serve(c *cli.Context) error {
	config, err := loadConfig(c)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	acct, err := stats.NewNodeState(reg)
	if err != nil {
		return err
	}
	heap, _, err := newHeap(c, config, memsys.WithAccountant(acct))
	if err != nil {
		return err
	}
	defer func() {
		if err := heap.Destroy(); err != nil {
			klog.Errorln(err)
		}
	}()
	rcl, err := memsys.NewReclaimer(heap, config)
	if err != nil {
		return err
	}
	reg.MustRegister(stats.NewHeapCollector(heap, rcl))
	if err := warm(c, heap); err != nil {
		return err
	}

	hk.Init()
	hkErr := make(chan error, 1)
	go func() { hkErr <- hk.HK.Run() }()
	hk.HK.WaitStarted()
	rcl.RegWithHK(hk.HK)

	srv := &server{heap: heap, rcl: rcl}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/stats", srv.statsHandler)
	mux.HandleFunc("/reclaim", srv.reclaimHandler)
	for path, h := range debug.Handlers() {
		mux.HandleFunc(path, h)
	}
	httpSrv := &http.Server{Addr: parseStrFlag(c, listenFlag), Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	httpErr := make(chan error, 1)
	go func() { httpErr <- httpSrv.ListenAndServe() }()
	klog.Infof("%s: listening on %s", heap, httpSrv.Addr)

	select {
	case err = <-hkErr:
	case err = <-httpErr:
		hk.HK.Stop(err)
	}
	rcl.UnregWithHK(hk.HK)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errShut := httpSrv.Shutdown(ctx); errShut != nil {
		klog.Errorln(errShut)
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

func warm(c *cli.Context, heap *memsys.Heap) error {
	size, err := parseSizeFlag(c, warmFlag)
	if err != nil || size == 0 {
		return err
	}
	buf, err := heap.AllocBuffer(size)
	if err != nil {
		return errors.Wrap(err, "failed to warm up")
	}
	heap.FreeBuffer(buf)
	klog.Infof("%s: warmed up, %d pages cached", heap, heap.Stats().Cached)
	return nil
}

func (s *server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Heap    memsys.HeapStats    `json:"heap"`
		Reclaim memsys.ReclaimStats `json:"reclaim"`
	}{s.heap.Stats(), s.rcl.Stats()}
	w.Header().Set("Content-Type", "application/json")
	if err := jsoniter.NewEncoder(w).Encode(resp); err != nil {
		klog.Errorln(err)
	}
}

// POST /reclaim: give back all cached pages (rate-limited)
func (s *server) reclaimHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "expecting POST", http.StatusMethodNotAllowed)
		return
	}
	freed, err := s.rcl.Kick(-1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := jsoniter.NewEncoder(w).Encode(map[string]int64{"freed_pages": freed}); err != nil {
		klog.Errorln(err)
	}
}
