// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import "github.com/pkg/errors"

var (
	ErrAllocFailed  = errors.New("memsys: allocation failed")
	ErrNoHighOrder  = errors.New("memsys: insufficient high-order memory")
	ErrOutOfMemory  = errors.New("memsys: out of memory")
	ErrPoolNotEmpty = errors.New("memsys: pool not empty")
	ErrWriteRange   = errors.New("memsys: write out of range")
)
