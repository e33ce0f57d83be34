// Package sys provides methods to read system information
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const cgroupRoot = "/sys/fs/cgroup"

var (
	contCPUs      int
	containerized bool
	cpuOnce       sync.Once
)

func initCPU() {
	contCPUs = runtime.NumCPU()
	p, err := DefaultProc()
	if err != nil {
		klog.Errorln(err)
		return
	}
	if containerized = p.Containerized(); containerized {
		if c, err := CgroupNumCPU(cgroupRoot); err == nil {
			contCPUs = c
		} else {
			klog.Errorln(err)
		}
	}
}

func Containerized() bool { cpuOnce.Do(initCPU); return containerized }
func NumCPU() int         { cpuOnce.Do(initCPU); return contCPUs }

// Containerized: init process runs in a docker, lxc, or kubernetes cgroup
func (p *Proc) Containerized() bool {
	pid1, err := p.fs.Proc(1)
	if err != nil {
		return false
	}
	cgroups, err := pid1.Cgroups()
	if err != nil {
		return false
	}
	for _, cg := range cgroups {
		if strings.Contains(cg.Path, "docker") || strings.Contains(cg.Path, "lxc") || strings.Contains(cg.Path, "kube") {
			return true
		}
	}
	return false
}

// CgroupNumCPU returns the (rounded up) CPU quota: cgroup v2 cpu.max or, failing that,
// v1 cfs_quota_us/cfs_period_us; no quota means all hardware CPUs
func CgroupNumCPU(root string) (int, error) {
	var quota, period int64
	if b, err := os.ReadFile(filepath.Join(root, "cpu.max")); err == nil {
		fields := strings.Fields(string(b))
		if len(fields) != 2 {
			return 0, errors.Errorf("sys: invalid cpu.max %q", string(b))
		}
		if fields[0] == "max" {
			return runtime.NumCPU(), nil
		}
		if quota, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
			return 0, errors.Wrap(err, "sys: cpu.max quota")
		}
		if period, err = strconv.ParseInt(fields[1], 10, 64); err != nil {
			return 0, errors.Wrap(err, "sys: cpu.max period")
		}
	} else {
		if quota, err = readInt(filepath.Join(root, "cpu", "cpu.cfs_quota_us")); err != nil {
			return 0, err
		}
		// negative quota means 'unlimited'
		if quota <= 0 {
			return runtime.NumCPU(), nil
		}
		if period, err = readInt(filepath.Join(root, "cpu", "cpu.cfs_period_us")); err != nil {
			return 0, err
		}
	}
	if period <= 0 {
		return 0, errors.New("sys: failed to read container CPU info")
	}
	approx := (quota + period - 1) / period
	return int(max(approx, 1)), nil
}

func readInt(fpath string) (int64, error) {
	b, err := os.ReadFile(fpath)
	if err != nil {
		return 0, errors.Wrap(err, "sys")
	}
	return strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
}

func GoEnvMaxprocs() {
	if val, exists := os.LookupEnv("GOMEMLIMIT"); exists {
		klog.Warningln("Go environment: GOMEMLIMIT =", val)
	}
	if val, exists := os.LookupEnv("GOMAXPROCS"); exists {
		klog.Warningln("Go environment: GOMAXPROCS =", val)
		return
	}
	maxprocs := runtime.GOMAXPROCS(0)
	if ncpu := NumCPU(); maxprocs > ncpu {
		klog.Warningf("Reducing GOMAXPROCS (prev = %d) to %d", maxprocs, ncpu)
		runtime.GOMAXPROCS(ncpu)
	}
}

// return max(1 minute, 5 minute) load average
func MaxLoad() (load float64) {
	avg, err := LoadAverage()
	if err != nil {
		klog.ErrorDepth(1, err) // unlikely
		return 100
	}
	return max(avg.One, avg.Five)
}
