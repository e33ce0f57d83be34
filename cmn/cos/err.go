// Package cos provides common low-level types and utilities for all pagepool packages.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
	"syscall"
)

var ErrWorkChanFull = errors.New("work channel full")

type ErrSignal struct {
	signal syscall.Signal
}

func NewSignalError(s syscall.Signal) *ErrSignal { return &ErrSignal{signal: s} }

func (e *ErrSignal) Error() string { return fmt.Sprintf("Signal %d", e.signal) }

// as in: exit code = 128 + signal number
func (e *ErrSignal) ExitCode() int { return 128 + int(e.signal) }
