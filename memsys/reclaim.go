// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/pagepool/cmn/cos"
	"github.com/NVIDIA/pagepool/hk"
	"github.com/NVIDIA/pagepool/sys"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

// Reclaimer watches system memory and shrinks the pools in proportion to pressure:
//   - low:       nothing
//   - moderate:  1/4 of reclaimable pages
//   - high:      1/2
//   - extreme, OOM: everything, high band included
//
// It always reclaims as the background reclaimer (GFPBackground). Periodic checks run
// via the housekeeper (see RegWithHK); Kick triggers an immediate (rate-limited) pass.

var ErrThrottled = errors.New("memsys: reclaim throttled")

type (
	// Registrar is implemented by the housekeeper
	Registrar interface {
		Reg(name string, f hk.Func, interval time.Duration)
		Unreg(name string)
	}
	Reclaimer struct {
		shrinker Shrinker
		memf     func(*sys.MemStat) error
		lim      *rate.Limiter
		name     string
		minFree  uint64
		lowWM    uint64
		timeIval time.Duration
		duration time.Duration // current (adaptive) interval
		swap     struct {
			size atomic.Uint64
			crit atomic.Int32
		}
		stats struct {
			runs  atomic.Int64
			freed atomic.Int64
			last  atomic.Int64 // pressure
		}
		mu sync.Mutex
	}
	ReclaimStats struct {
		Runs     int64  `json:"runs"`
		Freed    int64  `json:"freed_pages"`
		Pressure string `json:"pressure"`
		MinFree  uint64 `json:"min_free"`
		LowWM    uint64 `json:"low_wm"`
		Interval string `json:"interval"`
	}
	ReclaimOption func(*Reclaimer)
)

// WithMemStat replaces /proc/meminfo as the source of memory statistics
func WithMemStat(f func(*sys.MemStat) error) ReclaimOption {
	return func(r *Reclaimer) { r.memf = f }
}

func NewReclaimer(shrinker Shrinker, cfg *Config, opts ...ReclaimOption) (*Reclaimer, error) {
	r := &Reclaimer{
		shrinker: shrinker,
		memf:     func(mem *sys.MemStat) error { return mem.Get() },
		name:     cfg.Name,
		minFree:  uint64(cfg.MinFree),
		timeIval: cfg.TimeIval.D(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.timeIval <= 0 {
		r.timeIval = memCheckAbove
	}
	r.duration = r.timeIval
	if cfg.KickIval > 0 {
		r.lim = rate.NewLimiter(rate.Every(cfg.KickIval.D()), 1)
	} else {
		r.lim = rate.NewLimiter(rate.Inf, 0)
	}

	// compute min-free (must remain free at all times) and low watermark
	var mem sys.MemStat
	if err := r.memf(&mem); err != nil {
		return nil, err
	}
	if cfg.MinPctTotal > 0 {
		x := mem.Total * uint64(cfg.MinPctTotal) / 100
		if r.minFree == 0 {
			r.minFree = x
		} else {
			r.minFree = min(r.minFree, x)
		}
	}
	if cfg.MinPctFree > 0 {
		x := mem.Free * uint64(cfg.MinPctFree) / 100
		if r.minFree == 0 {
			r.minFree = x
		} else {
			r.minFree = min(r.minFree, x)
		}
	}
	if r.minFree == 0 {
		r.minFree = min(uint64(minMemFree), mem.Total/8)
	}
	r.lowWM = max(r.minFree*2, mem.Free/2) // hysteresis
	if r.lowWM <= r.minFree {
		r.lowWM = r.minFree + cos.MiB
	}
	r.swap.size.Store(mem.SwapUsed)
	klog.Infof("%s: %s, %s", r, mem.String(), r.pressure2S(r.Pressure(&mem)))
	return r, nil
}

func (r *Reclaimer) String() string {
	return fmt.Sprintf("%s%s(min-free %s, low-wm %s)", r.name, hk.NameSuffix,
		cos.ToSizeIEC(int64(r.minFree), 0), cos.ToSizeIEC(int64(r.lowWM), 0))
}

func (r *Reclaimer) RegWithHK(reg Registrar) {
	d := r.timeIval
	var mem sys.MemStat
	if err := r.memf(&mem); err == nil && mem.Free < r.lowWM {
		d = min(r.timeIval, max(r.timeIval/4, hk.ReclaimIvalMin))
	}
	reg.Reg(r.name+hk.NameSuffix, r.housekeep, d)
}

func (r *Reclaimer) UnregWithHK(reg Registrar) { reg.Unreg(r.name + hk.NameSuffix) }

// Kick reclaims nrToScan pages right away (negative: all reclaimable);
// at most one kick per configured interval
func (r *Reclaimer) Kick(nrToScan int64) (int64, error) {
	if !r.lim.Allow() {
		return 0, ErrThrottled
	}
	gfp := GFPBackground
	if nrToScan < 0 {
		nrToScan = r.shrinker.Shrink(gfp, 0)
	}
	if nrToScan == 0 {
		return 0, nil
	}
	return r.shrink(gfp, nrToScan), nil
}

// Reclaim performs one pass at the given pressure and returns freed pages
func (r *Reclaimer) Reclaim(pressure int) int64 {
	gfp := GFPBackground
	total := r.shrinker.Shrink(gfp, 0)
	var nr int64
	switch pressure {
	case PressureLow:
		return 0
	case PressureModerate:
		nr = total / 4
	case PressureHigh:
		nr = total / 2
	default:
		nr = total
	}
	if nr == 0 {
		return 0
	}
	freed := r.shrink(gfp, nr)
	if pressure >= PressureHigh {
		klog.Warningf("%s: %s, freed %d pages", r.name, r.pressure2S(pressure), freed)
	} else if klog.V(4).Enabled() {
		klog.Infof("%s: %s, freed %d pages", r.name, r.pressure2S(pressure), freed)
	}
	return freed
}

func (r *Reclaimer) Stats() ReclaimStats {
	r.mu.Lock()
	d := r.duration
	r.mu.Unlock()
	return ReclaimStats{
		Runs:     r.stats.runs.Load(),
		Freed:    r.stats.freed.Load(),
		Pressure: PressureText(int(r.stats.last.Load())),
		MinFree:  r.minFree,
		LowWM:    r.lowWM,
		Interval: d.String(),
	}
}

//
// private
//

func (r *Reclaimer) shrink(gfp GFP, nr int64) int64 {
	r.mu.Lock()
	freed := r.shrinker.Shrink(gfp, nr)
	r.mu.Unlock()
	r.stats.freed.Add(freed)
	return freed
}

// hk callback
func (r *Reclaimer) housekeep(int64) time.Duration {
	var mem sys.MemStat
	if err := r.memf(&mem); err != nil {
		klog.Errorf("%s: %v", r.name, err)
		return r.timeIval
	}
	r.updSwap(&mem)
	p := r.Pressure(&mem)
	r.stats.last.Store(int64(p))
	r.stats.runs.Add(1)
	r.Reclaim(p)
	return r.nextInterval(&mem)
}

func (r *Reclaimer) nextInterval(mem *sys.MemStat) time.Duration {
	var (
		free     = mem.Free
		swapping = r.swap.crit.Load() > 0
		d        time.Duration
	)
	switch {
	case free > r.lowWM && free > mem.Total-mem.Total/5:
		d = r.timeIval * 2
	case free <= r.minFree || swapping:
		d = r.timeIval / 4
	case free <= r.lowWM:
		d = r.timeIval / 2
	default:
		d = r.timeIval
	}
	r.mu.Lock()
	changed := d != r.duration
	r.duration = d
	r.mu.Unlock()
	if changed && klog.V(4).Enabled() {
		klog.Infof("%s: timer %v, free %s", r.name, d, cos.ToSizeIEC(int64(free), 1))
	}
	return d
}
