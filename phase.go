// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

// PhaseOrder is the canonical ordinal sequence of time buckets. The
// Nth-earliest sample of a subject is labelled PhaseOrder[N].
var PhaseOrder = []string{
	"pre-9w",
	"pre-2d",
	"pre-1d",
	"day0",
	"day1",
	"day2",
	"day3",
	"day4",
	"day5",
	"day6",
	"day7",
	"day8",
	"day10",
	"day18",
	"day28",
	"day77",
}

const (
	bucketOther    = "other"
	bucketBaseline = "baseline"
	bucketPre9w    = "pre-9w"
	bucketDay0     = "day0"
)

// Buckets averaged into the baseline (tier 1), and the single-sample
// fallbacks in priority order (tier 2).
var (
	baselineBuckets = []string{"pre-2d", "pre-1d", bucketDay0}
	fallbackBuckets = []string{bucketPre9w, bucketDay0}
)

func isBaselineBucket(bucket string) bool {
	for _, b := range baselineBuckets {
		if b == bucket {
			return true
		}
	}
	return false
}

// phaseIndex maps each bucket label in order to its position.
func phaseIndex(order []string) map[string]int {
	idx := make(map[string]int, len(order))
	for i, b := range order {
		idx[b] = i
	}
	return idx
}
