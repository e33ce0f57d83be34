// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/NVIDIA/pagepool/cmn/cos"
	"github.com/NVIDIA/pagepool/cmn/jsp"
	"github.com/NVIDIA/pagepool/hk"
	"github.com/pkg/errors"
)

// =================================== tunables ==========================================
// The minimum memory (that must remain available) is computed as follows:
// 1) environment PAGEPOOL_MINMEM_FREE takes precedence over the configured `min_free`;
// 2) PAGEPOOL_MINMEM_PCT_TOTAL and/or PAGEPOOL_MINMEM_PCT_FREE (or the respective config
//    values) define percentages of total or currently free memory; the smallest wins;
// 3) if none of the above is specified, the constant `minMemFree` (capped at 1/8 of total)
// =======================================================================================

const (
	minMemFree    = cos.GiB
	memCheckAbove = hk.ReclaimIval
	kickIval      = time.Second
	buddyTTL      = 100 * time.Millisecond // high-order gauge: max age of buddyinfo
)

var DefaultOrders = []uint{8, 4, 0}

type Config struct {
	Name             string       `json:"name" yaml:"name"`
	Orders           []uint       `json:"orders" yaml:"orders"`                       // descending, must end with 0
	Zero             bool         `json:"zero" yaml:"zero"`                           // zero-fill blocks
	HighMem          bool         `json:"highmem" yaml:"highmem"`                     // allow high-band memory
	Uncached         bool         `json:"uncached" yaml:"uncached"`                   // free buffers straight to the provider
	MigrateHighOrder bool         `json:"migrate_highorder" yaml:"migrate_highorder"` // high-order fail-fast guard
	MinFree          cos.SizeIEC  `json:"min_free" yaml:"min_free"`                   // memory that must be available at all times
	MinPctTotal      int          `json:"min_pct_total" yaml:"min_pct_total"`         // same, via percentage of total
	MinPctFree       int          `json:"min_pct_free" yaml:"min_pct_free"`           // ditto, as % of free at init time
	TimeIval         cos.Duration `json:"time_ival" yaml:"time_ival"`                 // memory-pressure check interval
	KickIval         cos.Duration `json:"kick_ival" yaml:"kick_ival"`                 // min interval between on-demand reclaims
	MaxPools         int          `json:"max_pools" yaml:"max_pools"`                 // zero: share DefaultBudget
}

func DefaultConfig() *Config {
	return &Config{
		Name:     "heap",
		Orders:   append([]uint(nil), DefaultOrders...),
		Zero:     true,
		HighMem:  true,
		TimeIval: cos.Duration(memCheckAbove),
		KickIval: cos.Duration(kickIval),
	}
}

// LoadConfig: defaults, then the file (JSON or YAML, by extension), then environment
func LoadConfig(fpath string) (*Config, error) {
	config := DefaultConfig()
	if fpath != "" {
		if err := jsp.Load(fpath, config); err != nil {
			return nil, err
		}
	}
	if err := config.env(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("memsys: config: empty name")
	}
	if len(c.Orders) == 0 {
		return errors.New("memsys: config: no orders")
	}
	for i, order := range c.Orders {
		if order > MaxOrder {
			return errors.Errorf("memsys: config: order %d exceeds %d", order, MaxOrder)
		}
		if i > 0 && order >= c.Orders[i-1] {
			return errors.Errorf("memsys: config: orders %v must be strictly descending", c.Orders)
		}
	}
	if c.Orders[len(c.Orders)-1] != 0 {
		return errors.Errorf("memsys: config: orders %v must end with 0", c.Orders)
	}
	if c.MinPctTotal < 0 || c.MinPctTotal > 100 || c.MinPctFree < 0 || c.MinPctFree > 100 {
		return errors.Errorf("memsys: config: invalid min-free percentage (%d, %d)", c.MinPctTotal, c.MinPctFree)
	}
	if c.MaxPools < 0 {
		return errors.Errorf("memsys: config: negative max_pools %d", c.MaxPools)
	}
	if c.MaxPools > 0 && c.MaxPools < len(c.Orders) {
		return errors.Errorf("memsys: config: max_pools %d is less than the number of orders %v", c.MaxPools, c.Orders)
	}
	if c.MinFree < 0 {
		return errors.Errorf("memsys: config: negative min_free %d", c.MinFree)
	}
	if c.TimeIval <= 0 {
		c.TimeIval = cos.Duration(memCheckAbove)
	}
	if c.KickIval < 0 {
		c.KickIval = 0
	}
	return nil
}

// base GFP for the heap's pools (higher orders add GFPNoWarn|GFPNoRetry)
func (c *Config) GFP() (gfp GFP) {
	if c.Zero {
		gfp |= GFPZero
	}
	if c.HighMem {
		gfp |= GFPHighMem
	}
	return
}

func (c *Config) String() string {
	return fmt.Sprintf("%s(orders %v, gfp %s, min-free %s)", c.Name, c.Orders, c.GFP(), c.MinFree)
}

func (c *Config) env() (err error) {
	if a := os.Getenv("PAGEPOOL_MINMEM_FREE"); a != "" {
		var minfree int64
		if minfree, err = cos.ParseSize(a); err != nil {
			return errors.Errorf("memsys: cannot parse PAGEPOOL_MINMEM_FREE %q", a)
		}
		c.MinFree = cos.SizeIEC(minfree)
	}
	if a := os.Getenv("PAGEPOOL_MINMEM_PCT_TOTAL"); a != "" {
		if c.MinPctTotal, err = strconv.Atoi(a); err != nil {
			return errors.Errorf("memsys: cannot parse PAGEPOOL_MINMEM_PCT_TOTAL %q", a)
		}
	}
	if a := os.Getenv("PAGEPOOL_MINMEM_PCT_FREE"); a != "" {
		if c.MinPctFree, err = strconv.Atoi(a); err != nil {
			return errors.Errorf("memsys: cannot parse PAGEPOOL_MINMEM_PCT_FREE %q", a)
		}
	}
	return nil
}
