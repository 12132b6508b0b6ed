// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"math"

	"github.com/sirupsen/logrus"
)

// foldChange returns value/baseline, or NaN if either is missing or the
// baseline is not a finite positive number.
func foldChange(value, baseline float64) float64 {
	if math.IsNaN(value) || math.IsNaN(baseline) || math.IsInf(baseline, 0) || baseline <= 0 {
		return math.NaN()
	}
	return value / baseline
}

// addRelative returns copies of one subject's bucketed samples with a
// <column>_rel fold-change column added for each quantity.
func addRelative(samples []Sample, quantities []Quantity, logger logrus.FieldLogger) []Sample {
	if len(samples) == 0 {
		return nil
	}
	src := resolveBaselineSource(samples)
	entry := logger.WithField("subject", samples[0].Subject)
	if src.tier == noBaseline {
		entry.Debugf("no baseline (%v or %v), relative values are null", baselineBuckets, fallbackBuckets)
	}

	baselines := make([]float64, len(quantities))
	for qi, q := range quantities {
		baselines[qi] = src.value(samples, q.Column)
		if src.tier != noBaseline {
			entry.WithField("tier", src.tier).Debugf("%s baseline from %v = %v", q.Column, src.buckets, baselines[qi])
		}
	}

	out := make([]Sample, len(samples))
	for i, s := range samples {
		cols := make(map[string]float64, len(quantities))
		for qi, q := range quantities {
			cols[q.RelColumn()] = foldChange(s.Value(q.Column), baselines[qi])
		}
		out[i] = s.with(cols)
	}
	return out
}
