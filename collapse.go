// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// collapseBaseline merges the pre-2d, pre-1d and day0 rows of a relative
// summary into a single "baseline" row, placed right after pre-9w (or
// first, if there is no pre-9w row). Means and standard errors are
// averaged with n_rows weights, skipping missing values; counts are
// summed. Std is not meaningful for the merged row and is left NaN.
//
// If none of the three buckets is present, an unchanged copy of t is
// returned.
func collapseBaseline(t *SummaryTable) *SummaryTable {
	out := &SummaryTable{
		Family:   t.Family,
		Relative: t.Relative,
		Keys:     append([]string(nil), t.Keys...),
	}
	var merge, rest []SummaryRow
	for _, row := range t.Rows {
		if isBaselineBucket(row.Bucket) {
			merge = append(merge, row)
		} else {
			rest = append(rest, row)
		}
	}
	if len(merge) == 0 {
		out.Rows = append([]SummaryRow(nil), t.Rows...)
		return out
	}

	combined := SummaryRow{
		Bucket: bucketBaseline,
		Stats:  make(map[string]Stat, len(t.Keys)),
	}
	for _, row := range merge {
		combined.NRows += row.NRows
		combined.NSubjects += row.NSubjects
	}
	for _, key := range t.Keys {
		var means, meanW, ses, seW []float64
		n := 0
		for _, row := range merge {
			st, ok := row.Stats[key]
			if !ok {
				continue
			}
			n += st.N
			w := float64(row.NRows)
			if !math.IsNaN(st.Mean) {
				means = append(means, st.Mean)
				meanW = append(meanW, w)
			}
			if !math.IsNaN(st.SE) {
				ses = append(ses, st.SE)
				seW = append(seW, w)
			}
		}
		combined.Stats[key] = Stat{
			Mean: weightedMean(means, meanW),
			Std:  math.NaN(),
			SE:   weightedMean(ses, seW),
			N:    n,
		}
	}

	at := 0
	for i, row := range rest {
		if row.Bucket == bucketPre9w {
			at = i + 1
			break
		}
	}
	out.Rows = make([]SummaryRow, 0, len(rest)+1)
	out.Rows = append(out.Rows, rest[:at]...)
	out.Rows = append(out.Rows, combined)
	out.Rows = append(out.Rows, rest[at:]...)
	return out
}

func weightedMean(x, w []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, w)
}
