//go:build debug

// Package debug provides debug utilities
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"

	"k8s.io/klog/v2"
)

func ON() bool { return true }

func Infof(f string, a ...any) {
	klog.InfoDepth(1, fmt.Sprintf("[DEBUG] "+f, a...))
}

func Func(f func()) { f() }

func Assert(cond bool, a ...any) {
	if !cond {
		klog.Flush()
		if len(a) > 0 {
			panic("DEBUG PANIC: " + fmt.Sprint(a...))
		}
		panic("DEBUG PANIC")
	}
}

func AssertNoErr(err error) {
	if err != nil {
		klog.Flush()
		panic(err)
	}
}

func Assertf(cond bool, f string, a ...any) {
	if !cond {
		klog.Flush()
		panic("DEBUG PANIC: " + fmt.Sprintf(f, a...))
	}
}

// NOTE: may only be called by the lock holder
func AssertMutexLocked(m *sync.Mutex) {
	if m.TryLock() {
		m.Unlock()
		Assert(false, "mutex not locked")
	}
}

func Handlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"/debug/vars":            expvar.Handler().ServeHTTP,
		"/debug/pprof/":          pprof.Index,
		"/debug/pprof/cmdline":   pprof.Cmdline,
		"/debug/pprof/profile":   pprof.Profile,
		"/debug/pprof/symbol":    pprof.Symbol,
		"/debug/pprof/heap":      pprof.Handler("heap").ServeHTTP,
		"/debug/pprof/goroutine": pprof.Handler("goroutine").ServeHTTP,
	}
}
