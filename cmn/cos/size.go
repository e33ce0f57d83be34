// Package cos provides common low-level types and utilities for all pagepool packages.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// IEC (binary) units
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB
)

/////////////
// SizeIEC //
/////////////

// config-friendly size: marshals as "64MiB", unmarshals from either a string or a number
type SizeIEC int64

func (siz SizeIEC) MarshalJSON() ([]byte, error) { return jsoniter.Marshal(siz.exact()) }
func (siz SizeIEC) MarshalText() ([]byte, error) { return []byte(siz.exact()), nil }
func (siz SizeIEC) String() string               { return ToSizeIEC(int64(siz), 0) }

// lossless (unlike String): largest unit that divides evenly
func (siz SizeIEC) exact() string {
	n := int64(siz)
	for _, u := range []struct {
		s string
		m int64
	}{{"TiB", TiB}, {"GiB", GiB}, {"MiB", MiB}, {"KiB", KiB}} {
		if n != 0 && n%u.m == 0 {
			return strconv.FormatInt(n/u.m, 10) + u.s
		}
	}
	return strconv.FormatInt(n, 10) + "B"
}

func (siz *SizeIEC) UnmarshalJSON(b []byte) (err error) {
	var (
		n   int64
		val string
	)
	if len(b) > 0 && b[0] != '"' {
		n, err = strconv.ParseInt(string(b), 10, 64)
		*siz = SizeIEC(n)
		return
	}
	if err = jsoniter.Unmarshal(b, &val); err != nil {
		return
	}
	n, err = ParseSize(val)
	*siz = SizeIEC(n)
	return
}

// yaml.v3 Unmarshaler
func (siz *SizeIEC) UnmarshalText(b []byte) (err error) {
	var n int64
	n, err = ParseSize(string(b))
	*siz = SizeIEC(n)
	return
}

func ToSizeIEC(b int64, digits int) string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.*f%s", digits, float32(b)/float32(TiB), "TiB")
	case b >= GiB:
		return fmt.Sprintf("%.*f%s", digits, float32(b)/float32(GiB), "GiB")
	case b >= MiB:
		return fmt.Sprintf("%.*f%s", digits, float32(b)/float32(MiB), "MiB")
	case b >= KiB:
		return fmt.Sprintf("%.*f%s", digits, float32(b)/float32(KiB), "KiB")
	default:
		return fmt.Sprintf("%dB", b)
	}
}

// ParseSize accepts plain numbers (bytes) and IEC suffixes: "4K", "4KiB", "1.5GiB", "512B".
// Single-letter suffixes are treated as binary multiples.
func ParseSize(size string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(size))
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	for _, sfx := range []struct {
		s string
		m int64
	}{
		{"TIB", TiB}, {"GIB", GiB}, {"MIB", MiB}, {"KIB", KiB},
		{"T", TiB}, {"G", GiB}, {"M", MiB}, {"K", KiB}, {"B", 1},
	} {
		if strings.HasSuffix(s, sfx.s) {
			s, mult = strings.TrimSuffix(s, sfx.s), sfx.m
			break
		}
	}
	s = strings.TrimSpace(s)
	if strings.IndexByte(s, '.') >= 0 {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %v", size, err)
		}
		return int64(f * float64(mult)), nil
	}
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %v", size, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", size)
	}
	return val * mult, nil
}

func DivCeil(a, b int64) int64 {
	d, r := a/b, a%b
	if r > 0 {
		return d + 1
	}
	return d
}
