// Package hk provides mechanism for registering periodic callbacks
// (memory reclaim, in the first place) which are invoked at specified intervals.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/NVIDIA/pagepool/cmn/cos"
	"github.com/NVIDIA/pagepool/cmn/debug"
	"k8s.io/klog/v2"
)

const workChanCap = 48

const NameSuffix = ".gc" // reg name suffix

const (
	DayInterval   = 24 * time.Hour
	UnregInterval = 365 * DayInterval // to unregister upon return from the callback
)

type (
	Func func(now int64) time.Duration

	op struct {
		f        Func
		name     string
		interval time.Duration
	}
	timedAction struct {
		f          Func
		name       string
		updateTime int64
	}
	timedActions []timedAction

	Housekeeper struct {
		stopCh  cos.StopCh
		sigCh   chan os.Signal
		actions *timedActions
		timer   *time.Timer
		workCh  chan op
		running atomic.Bool
		signals bool
	}
)

// process-wide instance (see Init)
var HK *Housekeeper

// interface guard
var _ cos.Runner = (*Housekeeper)(nil)

// New constructs a housekeeper; with handleSignals it terminates upon SIGINT/SIGTERM/SIGQUIT
func New(handleSignals bool) *Housekeeper {
	hk := &Housekeeper{
		workCh:  make(chan op, workChanCap),
		sigCh:   make(chan os.Signal, 1),
		actions: &timedActions{},
		signals: handleSignals,
	}
	hk.stopCh.Init()
	heap.Init(hk.actions)
	return hk
}

func Init() { HK = New(true) }

func Reg(name string, f Func, interval time.Duration) { HK.Reg(name, f, interval) }
func Unreg(name string)                               { HK.Unreg(name) }

/////////////////
// Housekeeper //
/////////////////

func (*Housekeeper) Name() string { return "hk" }

func (hk *Housekeeper) IsRunning() bool { return hk.running.Load() }

// zero interval: call right away, and then reschedule per returned duration
func (hk *Housekeeper) Reg(name string, f Func, interval time.Duration) {
	debug.Assert(interval != UnregInterval)
	hk.workCh <- op{name: name, f: f, interval: interval}

	if l, c := len(hk.workCh), workChanCap; l >= (c - c>>3) {
		klog.Errorln(cos.ErrWorkChanFull, "len", l, "cap", c)
	}
}

func (hk *Housekeeper) Unreg(name string) {
	hk.workCh <- op{name: name, interval: UnregInterval}
}

func (hk *Housekeeper) WaitStarted() {
	for !hk.running.Load() {
		time.Sleep(10 * time.Millisecond)
	}
}

func (hk *Housekeeper) Stop(error) { hk.stopCh.Close() }

func (hk *Housekeeper) Run() (err error) {
	if hk.signals {
		signal.Notify(hk.sigCh,
			syscall.SIGINT,  // kill -SIGINT (Ctrl-C)
			syscall.SIGTERM, // kill -SIGTERM
			syscall.SIGQUIT, // kill -SIGQUIT
		)
	}
	hk.timer = time.NewTimer(time.Hour)
	hk.running.Store(true)
	err = hk._run()
	hk.timer.Stop()
	hk.running.Store(false)
	return
}

func (hk *Housekeeper) _run() error {
	for {
		select {
		case <-hk.stopCh.Listen():
			return nil

		case <-hk.timer.C:
			if hk.actions.Len() == 0 {
				break
			}
			var (
				item    = hk.actions.Peek()
				started = time.Now().UnixNano()
				ival    = item.f(started)
			)
			if ival == UnregInterval {
				heap.Remove(hk.actions, 0)
			} else {
				now := time.Now().UnixNano()
				item.updateTime = now + ival.Nanoseconds()
				heap.Fix(hk.actions, 0)

				if d := time.Duration(now - started); d > time.Second {
					klog.Warningln("call[", item.name, "] duration exceeds 1s:", d.String())
				}
			}
			hk.updateTimer()

		case op := <-hk.workCh:
			idx := hk.byName(op.name)
			if op.interval == UnregInterval {
				if idx >= 0 {
					heap.Remove(hk.actions, idx)
				} else {
					klog.Warningln(op.name, "not found (already removed?)")
				}
				hk.updateTimer()
				break
			}
			if idx >= 0 {
				klog.Errorln("duplicated name [", op.name, "] - not registering")
				break
			}
			ival := op.interval
			now := time.Now().UnixNano()
			if ival == 0 {
				if ival = op.f(now); ival == UnregInterval {
					break
				}
			}
			heap.Push(hk.actions, timedAction{name: op.name, f: op.f, updateTime: now + ival.Nanoseconds()})
			hk.updateTimer()

		case s, ok := <-hk.sigCh:
			if ok {
				signal.Stop(hk.sigCh)
				err := cos.NewSignalError(s.(syscall.Signal))
				hk.Stop(err)
				return err
			}
		}
	}
}

func (hk *Housekeeper) updateTimer() {
	if hk.actions.Len() == 0 {
		hk.timer.Stop()
		return
	}
	d := hk.actions.Peek().updateTime - time.Now().UnixNano()
	hk.timer.Reset(time.Duration(d))
}

func (hk *Housekeeper) byName(name string) int {
	for i, tc := range *hk.actions {
		if tc.name == name {
			return i
		}
	}
	return -1
}

//////////////////
// timedActions //
//////////////////

func (tc timedActions) Len() int           { return len(tc) }
func (tc timedActions) Less(i, j int) bool { return tc[i].updateTime < tc[j].updateTime }
func (tc timedActions) Swap(i, j int)      { tc[i], tc[j] = tc[j], tc[i] }
func (tc timedActions) Peek() *timedAction { return &tc[0] }
func (tc *timedActions) Push(x any)        { *tc = append(*tc, x.(timedAction)) }

func (tc *timedActions) Pop() any {
	old := *tc
	n := len(old)
	item := old[n-1]
	*tc = old[0 : n-1]
	return item
}
