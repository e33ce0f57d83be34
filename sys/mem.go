// Package sys provides methods to read system information
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"fmt"

	"github.com/NVIDIA/pagepool/cmn/cos"
	"github.com/pkg/errors"
)

// MemStat is a byte-denominated snapshot of /proc/meminfo
type MemStat struct {
	Total      uint64
	Free       uint64
	ActualFree uint64 // MemAvailable when reported, otherwise Free
	SwapTotal  uint64
	SwapFree   uint64
	SwapUsed   uint64
}

func (mem *MemStat) Get() error {
	p, err := DefaultProc()
	if err != nil {
		return err
	}
	return p.Mem(mem)
}

func (mem *MemStat) String() string {
	var sb string
	sb = fmt.Sprintf("used %s, free %s, avail %s",
		cos.ToSizeIEC(int64(mem.Total-mem.Free), 1), cos.ToSizeIEC(int64(mem.Free), 1),
		cos.ToSizeIEC(int64(mem.ActualFree), 1))
	if mem.SwapUsed > 0 {
		sb += fmt.Sprintf(", swap %s", cos.ToSizeIEC(int64(mem.SwapUsed), 1))
	}
	return sb
}

func Mem() (mem MemStat, err error) {
	err = mem.Get()
	return
}

func (p *Proc) Mem(mem *MemStat) error {
	mi, err := p.fs.Meminfo()
	if err != nil {
		return errors.Wrap(err, "sys: meminfo")
	}
	if mi.MemTotal == nil || mi.MemFree == nil {
		return errors.New("sys: meminfo: missing MemTotal or MemFree")
	}
	kb := func(v *uint64) uint64 {
		if v == nil {
			return 0
		}
		return *v * cos.KiB
	}
	*mem = MemStat{
		Total:     kb(mi.MemTotal),
		Free:      kb(mi.MemFree),
		SwapTotal: kb(mi.SwapTotal),
		SwapFree:  kb(mi.SwapFree),
	}
	mem.ActualFree = mem.Free
	if mi.MemAvailable != nil {
		mem.ActualFree = kb(mi.MemAvailable)
	}
	if mem.SwapTotal > mem.SwapFree {
		mem.SwapUsed = mem.SwapTotal - mem.SwapFree
	}
	return nil
}
