//go:build !deadbeef

// Package memsys provides per-order page pools that recycle fixed-size blocks of pages
// and give them back to the page provider under memory pressure.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

func (*Pool) initPoison()        {}
func (*Pool) fillPoison(*Block)  {}
func (*Pool) checkPoison(*Block) {}
