// Package sys provides methods to read system information
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// Proc reads memory and load statistics from a procfs mount
type Proc struct {
	fs   procfs.FS
	root string
}

type LoadAvg struct {
	One, Five, Fifteen float64
}

var (
	dproc     *Proc
	dprocErr  error
	dprocOnce sync.Once
)

func NewProc(root string) (*Proc, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, errors.Wrapf(err, "sys: procfs at %q", root)
	}
	return &Proc{fs: fs, root: root}, nil
}

// DefaultProc returns the /proc reader shared by the package-level helpers
func DefaultProc() (*Proc, error) {
	dprocOnce.Do(func() {
		dproc, dprocErr = NewProc(procfs.DefaultMountPoint)
	})
	return dproc, dprocErr
}

func (p *Proc) Root() string { return p.root }

func (p *Proc) LoadAverage() (LoadAvg, error) {
	la, err := p.fs.LoadAvg()
	if err != nil {
		return LoadAvg{}, errors.Wrap(err, "sys: loadavg")
	}
	return LoadAvg{One: la.Load1, Five: la.Load5, Fifteen: la.Load15}, nil
}

func LoadAverage() (LoadAvg, error) {
	p, err := DefaultProc()
	if err != nil {
		return LoadAvg{}, err
	}
	return p.LoadAverage()
}
