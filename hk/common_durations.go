// Package hk provides mechanism for registering periodic callbacks
// (memory reclaim, in the first place) which are invoked at specified intervals.
/*
 * Copyright (c) 2023-2026, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import "time"

// reclaim timers
const (
	ReclaimIval    = 2 * time.Minute  // default memory-pressure check interval
	ReclaimIvalMin = 10 * time.Second // initial interval under pressure (unless configured shorter)
)
