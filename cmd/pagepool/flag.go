// Package main is the page pool command-line tool: stress, serve, and inspect
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"strings"
	"time"

	"github.com/NVIDIA/pagepool/cmn/cos"
	"github.com/urfave/cli"
)

//
// flag parsers
// (cli.Context looks flags up by a single name, while cli.Flag names carry all aliases: "config,c")
//

// return the first name
func fl1n(flagName string) string {
	if i := strings.IndexByte(flagName, ','); i >= 0 {
		return strings.TrimSpace(flagName[:i])
	}
	return flagName
}

// app-level (global) flags

func globalStrFlag(c *cli.Context, flag cli.StringFlag) string {
	return c.GlobalString(fl1n(flag.Name))
}

func globalIntFlag(c *cli.Context, flag cli.IntFlag) int { return c.GlobalInt(fl1n(flag.Name)) }

// command-level flags

func parseStrFlag(c *cli.Context, flag cli.StringFlag) string { return c.String(fl1n(flag.Name)) }
func parseIntFlag(c *cli.Context, flag cli.IntFlag) int       { return c.Int(fl1n(flag.Name)) }
func parseBoolFlag(c *cli.Context, flag cli.BoolFlag) bool    { return c.Bool(fl1n(flag.Name)) }

func parseDurationFlag(c *cli.Context, flag cli.DurationFlag) time.Duration {
	return c.Duration(fl1n(flag.Name))
}

func parseSizeFlag(c *cli.Context, flag cli.StringFlag) (int64, error) {
	return cos.ParseSize(parseStrFlag(c, flag))
}
