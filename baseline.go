// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

type baselineTier int

const (
	noBaseline baselineTier = iota
	// mean of the immediate pre-treatment samples
	pretreatmentMean
	// a single pre-9w (or day0) sample
	singleSample
)

func (t baselineTier) String() string {
	switch t {
	case pretreatmentMean:
		return "pretreatment-mean"
	case singleSample:
		return "single-sample"
	default:
		return "none"
	}
}

// baselineSource records which of a subject's samples make up its
// baseline. The tier is chosen once per subject from bucket membership;
// the baseline value is then computed separately for each column.
type baselineSource struct {
	tier    baselineTier
	buckets []string
	rows    []int
}

func resolveBaselineSource(samples []Sample) baselineSource {
	var src baselineSource
	for _, want := range baselineBuckets {
		for i, s := range samples {
			if s.Bucket == want {
				src.buckets = append(src.buckets, want)
				src.rows = append(src.rows, i)
			}
		}
	}
	if len(src.rows) > 0 {
		src.tier = pretreatmentMean
		return src
	}
	for _, want := range fallbackBuckets {
		for i, s := range samples {
			if s.Bucket == want {
				src.tier = singleSample
				src.buckets = []string{want}
				src.rows = []int{i}
				return src
			}
		}
	}
	return src
}

// value returns the baseline of column, or NaN if there is none. Tier 1
// averages the non-missing values; tier 2 returns the single value as is.
func (src baselineSource) value(samples []Sample, column string) float64 {
	switch src.tier {
	case pretreatmentMean:
		var vals []float64
		for _, i := range src.rows {
			if v := samples[i].Value(column); !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			return math.NaN()
		}
		return stat.Mean(vals, nil)
	case singleSample:
		return samples[src.rows[0]].Value(column)
	default:
		return math.NaN()
	}
}
