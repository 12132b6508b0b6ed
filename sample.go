// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"math"
	"sort"
)

// Sample is one sequencing run of one subject. Missing numeric values
// (including Day) are NaN.
type Sample struct {
	Subject string
	Day     float64
	Bucket  string
	Attrs   map[string]string
	Values  map[string]float64
}

func (s Sample) Value(column string) float64 {
	if v, ok := s.Values[column]; ok {
		return v
	}
	return math.NaN()
}

func (s Sample) HasColumn(column string) bool {
	_, ok := s.Values[column]
	return ok
}

func (s Sample) Attr(name string) string {
	return s.Attrs[name]
}

// with returns a copy of s with the given columns added (or replaced).
// The receiver's Values map is not modified.
func (s Sample) with(cols map[string]float64) Sample {
	values := make(map[string]float64, len(s.Values)+len(cols))
	for k, v := range s.Values {
		values[k] = v
	}
	for k, v := range cols {
		values[k] = v
	}
	s.Values = values
	return s
}

func (s Sample) withBucket(bucket string) Sample {
	s.Bucket = bucket
	return s
}

// subjectGroups splits samples by key, preserving input order within
// each group. Groups are returned in sorted key order.
func subjectGroups(samples []Sample, key func(Sample) string) (keys []string, groups map[string][]Sample) {
	groups = map[string][]Sample{}
	for _, s := range samples {
		k := key(s)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], s)
	}
	sort.Strings(keys)
	return
}

func bySubject(s Sample) string { return s.Subject }

// groupApply partitions samples by key, passes each group to fn, and
// concatenates the results in sorted key order. With threads > 1 the
// groups are processed concurrently; the output order does not depend on
// the number of threads.
func groupApply(samples []Sample, key func(Sample) string, threads int, fn func([]Sample) []Sample) []Sample {
	keys, groups := subjectGroups(samples, key)
	results := make([][]Sample, len(keys))
	if threads < 1 {
		threads = 1
	}
	thr := throttle{Max: threads}
	for i, k := range keys {
		i, group := i, groups[k]
		thr.Go(func() error {
			results[i] = fn(group)
			return nil
		})
	}
	thr.Wait()
	var out []Sample
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// Subjects returns the distinct subject IDs in sorted order.
func Subjects(samples []Sample) []string {
	keys, _ := subjectGroups(samples, bySubject)
	return keys
}
