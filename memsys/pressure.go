// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"fmt"

	"github.com/NVIDIA/pagepool/sys"
)

// memory _pressure_

const (
	PressureLow = iota
	PressureModerate
	PressureHigh
	PressureExtreme
	OOM
)

const (
	highLowThreshold = 40
	swappingMax      = 4
)

var memPressureText = map[int]string{
	PressureLow:      "low",
	PressureModerate: "moderate",
	PressureHigh:     "high",
	PressureExtreme:  "extreme",
	OOM:              "OOM",
}

func PressureText(p int) string {
	if s, ok := memPressureText[p]; ok {
		return s
	}
	return fmt.Sprintf("pressure(%d)", p)
}

// update swapping state
func (r *Reclaimer) updSwap(mem *sys.MemStat) {
	var ncrit int32
	swapping, crit := mem.SwapUsed > r.swap.size.Load(), r.swap.crit.Load()
	if swapping {
		ncrit = min(swappingMax, crit+1)
	} else {
		ncrit = max(0, crit-1)
	}
	r.swap.crit.Store(ncrit)
	r.swap.size.Store(mem.SwapUsed)
}

// Pressure returns an estimate for the current memory pressure expressed as enumerated
// values; does not update swapping state (see housekeep)
func (r *Reclaimer) Pressure(mem *sys.MemStat) (pressure int) {
	ncrit := r.swap.crit.Load()
	switch {
	case ncrit > 2:
		return OOM
	case ncrit > 1 || mem.ActualFree <= r.minFree:
		return PressureExtreme
	case ncrit > 0:
		return PressureHigh
	case mem.Free <= r.minFree:
		return PressureHigh
	case mem.Free >= r.lowWM:
		return PressureLow
	}

	pressure = PressureModerate
	x := (mem.Free - r.minFree) * 100 / (r.lowWM - r.minFree)
	if x < highLowThreshold {
		pressure = PressureHigh
	}
	return
}

func (r *Reclaimer) pressure2S(p int) (sp string) {
	sp = "pressure '" + PressureText(p) + "'"
	if crit := r.swap.crit.Load(); crit > 0 {
		sp = fmt.Sprintf("%s, swapping(%d)", sp, crit)
	}
	return
}
