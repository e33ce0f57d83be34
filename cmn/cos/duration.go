// Package cos provides common low-level types and utilities for all pagepool packages.
/*
 * Copyright (c) 2021-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// config-friendly duration: "2m", "30s" (compare w/ SizeIEC)
type Duration time.Duration

func (d Duration) D() time.Duration             { return time.Duration(d) }
func (d Duration) MarshalJSON() ([]byte, error) { return jsoniter.Marshal(d.String()) }
func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d Duration) String() (s string) {
	s = time.Duration(d).String()
	if strings.HasSuffix(s, "m0s") {
		s = s[:len(s)-2]
	}
	return
}

func (d *Duration) UnmarshalJSON(b []byte) (err error) {
	var val string
	if err = jsoniter.Unmarshal(b, &val); err != nil {
		return
	}
	return d.UnmarshalText([]byte(val))
}

func (d *Duration) UnmarshalText(b []byte) (err error) {
	var dur time.Duration
	dur, err = time.ParseDuration(string(b))
	*d = Duration(dur)
	return
}
