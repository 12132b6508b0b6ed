// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// assignBuckets labels one subject's samples by chronological rank: the
// i-th earliest sample gets order[i], samples past the end of order get
// "other". Day values are only used for sorting. Ties keep input order.
//
// Samples with a missing day are not ranked. They are labelled "other"
// and returned after the ranked samples.
func assignBuckets(samples []Sample, order []string, logger logrus.FieldLogger) []Sample {
	var dated, undated []Sample
	for _, s := range samples {
		if math.IsNaN(s.Day) {
			undated = append(undated, s)
		} else {
			dated = append(dated, s)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		return dated[i].Day < dated[j].Day
	})

	out := make([]Sample, 0, len(samples))
	days := make([]float64, len(dated))
	labels := make([]string, len(dated))
	for i, s := range dated {
		bucket := bucketOther
		if i < len(order) {
			bucket = order[i]
		}
		days[i], labels[i] = s.Day, bucket
		out = append(out, s.withBucket(bucket))
	}
	for _, s := range undated {
		out = append(out, s.withBucket(bucketOther))
	}

	if len(samples) > 0 {
		entry := logger.WithField("subject", samples[0].Subject)
		entry.Debugf("days: %v", days)
		entry.Debugf("buckets: %v", labels)
		if len(undated) > 0 {
			entry.Debugf("%d samples with no day labelled %q", len(undated), bucketOther)
		}
	}
	return out
}
