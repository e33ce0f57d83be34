//go:build !linux

// Package provider implements page providers for the memsys pools: GoMem (Go heap)
// and Mmap (anonymous mappings, Linux).
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package provider

import (
	"runtime"

	"github.com/pkg/errors"
)

type Mmap struct {
	GoMem
}

func NewMmap(...Option) (*Mmap, error) {
	return nil, errors.Errorf("mmap provider is not supported on %s", runtime.GOOS)
}
