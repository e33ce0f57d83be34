// Package main is the page pool command-line tool: stress, serve, and inspect
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/NVIDIA/pagepool/cmn/cos"
	"github.com/NVIDIA/pagepool/cmn/jsp"
	"github.com/NVIDIA/pagepool/memsys"
	"github.com/NVIDIA/pagepool/sys"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"
)

var (
	yamlFlag = cli.BoolFlag{Name: "yaml", Usage: "yaml output"}

	meminfoCmd = cli.Command{
		Name:   "meminfo",
		Usage:  "show system memory, free high-order pages, and the resulting memory pressure",
		Flags:  []cli.Flag{jsonFlag},
		Action: meminfoHandler,
	}
	configCmd = cli.Command{
		Name:   "config",
		Usage:  "show effective configuration (defaults, then file, then environment)",
		Flags:  []cli.Flag{yamlFlag},
		Action: configHandler,
	}
)

type meminfo struct {
	Mem       sys.MemStat         `json:"mem"`
	Load      sys.LoadAvg         `json:"load"`
	NumCPU    int                 `json:"num_cpu"`
	Container bool                `json:"containerized"`
	HighOrder map[uint]int64      `json:"free_pages_by_order"` // free pages in blocks of at least this order
	Pressure  string              `json:"pressure"`
	Reclaim   memsys.ReclaimStats `json:"reclaim"`
}

func meminfoHandler(c *cli.Context) error {
	config, err := loadConfig(c)
	if err != nil {
		return err
	}
	proc, err := sys.DefaultProc()
	if err != nil {
		return err
	}
	var info meminfo
	if err := proc.Mem(&info.Mem); err != nil {
		return err
	}
	if info.Load, err = proc.LoadAverage(); err != nil {
		return err
	}
	info.NumCPU, info.Container = sys.NumCPU(), sys.Containerized()
	info.HighOrder = make(map[uint]int64, len(config.Orders))
	for _, order := range config.Orders {
		if info.HighOrder[order], err = proc.FreeBlocks(order); err != nil {
			return err
		}
	}
	rcl, err := memsys.NewReclaimer(nil, config)
	if err != nil {
		return err
	}
	info.Pressure = memsys.PressureText(rcl.Pressure(&info.Mem))
	info.Reclaim = rcl.Stats()

	if parseBoolFlag(c, jsonFlag) {
		b, err := jsoniter.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, string(b))
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "memory:   %s (total %s)\n", info.Mem.String(), cos.ToSizeIEC(int64(info.Mem.Total), 1))
	fmt.Fprintf(&sb, "load:     %.2f %.2f %.2f (%d CPUs, containerized: %t)\n",
		info.Load.One, info.Load.Five, info.Load.Fifteen, info.NumCPU, info.Container)
	for _, order := range config.Orders {
		fmt.Fprintf(&sb, "order>=%d: %d free pages\n", order, info.HighOrder[order])
	}
	fmt.Fprintf(&sb, "min-free: %s, low-wm: %s\n",
		cos.ToSizeIEC(int64(info.Reclaim.MinFree), 1), cos.ToSizeIEC(int64(info.Reclaim.LowWM), 1))
	fmt.Fprintf(&sb, "pressure: %s\n", info.Pressure)
	_, err = io.WriteString(c.App.Writer, sb.String())
	return err
}

func configHandler(c *cli.Context) error {
	config, err := loadConfig(c)
	if err != nil {
		return err
	}
	f := jsp.FormatJSON
	if parseBoolFlag(c, yamlFlag) {
		f = jsp.FormatYAML
	}
	return jsp.Encode(c.App.Writer, config, f)
}
