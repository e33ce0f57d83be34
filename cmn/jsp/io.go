// Package jsp (JSON persistence) provides utilities to store and load arbitrary
// JSON- or YAML-encoded structures.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package jsp

import (
	"io"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func FormatOf(fpath string) Format {
	switch strings.ToLower(filepath.Ext(fpath)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func Encode(w io.Writer, v any, f Format) error {
	if f == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := jsoniter.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func Decode(r io.Reader, v any, f Format) error {
	if f == FormatYAML {
		return yaml.NewDecoder(r).Decode(v)
	}
	dec := jsoniter.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
