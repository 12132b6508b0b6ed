// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Stat summarizes one quantity's values within one bucket. Std is the
// Bessel-corrected sample standard deviation; SE is Std/sqrt(N).
type Stat struct {
	Mean float64
	Std  float64
	SE   float64
	N    int
}

type SummaryRow struct {
	Bucket    string
	NRows     int
	NSubjects int
	Stats     map[string]Stat
}

// SummaryTable has one row per bucket, in phase order. Keys lists the
// Stats keys: quantity names, with a "_rel" suffix in relative tables.
type SummaryTable struct {
	Family   string
	Relative bool
	Keys     []string
	Rows     []SummaryRow
}

// Row returns the row for the given bucket, if present.
func (t *SummaryTable) Row(bucket string) (SummaryRow, bool) {
	for _, row := range t.Rows {
		if row.Bucket == bucket {
			return row, true
		}
	}
	return SummaryRow{}, false
}

// Buckets returns the bucket labels in table order.
func (t *SummaryTable) Buckets() []string {
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row.Bucket
	}
	return out
}

func newStat(vals []float64) Stat {
	if len(vals) == 0 {
		return Stat{Mean: math.NaN(), Std: math.NaN(), SE: math.NaN()}
	}
	mean, std := stat.MeanStdDev(vals, nil)
	if len(vals) < 2 {
		std = math.NaN()
	}
	return Stat{
		Mean: mean,
		Std:  std,
		SE:   std / math.Sqrt(float64(len(vals))),
		N:    len(vals),
	}
}

// summarize aggregates bucketed samples across subjects for one family.
//
// Samples in "other" (or any label not in order) are ignored. In the
// relative table each quantity counts only samples with a known
// fold-change; for a JointRelative family a sample needs a fold-change for
// every quantity. Buckets with no usable value of the primary quantity are
// omitted.
func summarize(samples []Sample, fam Family, relative bool, order []string) *SummaryTable {
	table := &SummaryTable{
		Family:   fam.Name,
		Relative: relative,
		Keys:     fam.keys(relative),
	}
	if len(fam.Quantities) == 0 {
		return table
	}
	columns := make([]string, len(fam.Quantities))
	for i, q := range fam.Quantities {
		if relative {
			columns[i] = q.RelColumn()
		} else {
			columns[i] = q.Column
		}
	}

	pos := phaseIndex(order)
	byBucket := make([][]Sample, len(order))
SAMPLE:
	for _, s := range samples {
		i, ok := pos[s.Bucket]
		if !ok || s.Bucket == bucketOther {
			continue
		}
		if relative && fam.JointRelative {
			for _, col := range columns {
				if math.IsNaN(s.Value(col)) {
					continue SAMPLE
				}
			}
		}
		byBucket[i] = append(byBucket[i], s)
	}

	for i, group := range byBucket {
		if len(group) == 0 {
			continue
		}
		row := SummaryRow{
			Bucket: order[i],
			Stats:  make(map[string]Stat, len(columns)),
		}
		subjects := map[string]bool{}
		for _, s := range group {
			if relative && math.IsNaN(s.Value(columns[0])) {
				continue
			}
			subjects[s.Subject] = true
		}
		row.NSubjects = len(subjects)
		for ci, col := range columns {
			vals := make([]float64, 0, len(group))
			for _, s := range group {
				if v := s.Value(col); !math.IsNaN(v) {
					vals = append(vals, v)
				}
			}
			row.Stats[table.Keys[ci]] = newStat(vals)
		}
		primary := row.Stats[table.Keys[0]]
		if math.IsNaN(primary.Mean) {
			continue
		}
		row.NRows = primary.N
		table.Rows = append(table.Rows, row)
	}
	return table
}
