// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"fmt"
	"net/url"
	"sort"
)

const traceRunBrowser = "https://trace.ncbi.nlm.nih.gov/Traces/index.html"

// traceURL links an SRA run accession to the NCBI Trace run browser.
func traceURL(acc string) string {
	if acc == "" {
		return ""
	}
	return traceRunBrowser + "?" + url.Values{
		"view":    {"run_browser"},
		"acc":     {acc},
		"display": {"analysis"},
	}.Encode()
}

// SubjectPoint is one point on a subject's own trend: the sample that
// landed in Bucket, with its metadata and absolute values.
type SubjectPoint struct {
	Subject   string
	Bucket    string
	Day       float64
	Library   string
	Accession string
	TraceURL  string
	Values    map[string]float64
}

// subjectTrends returns, for each subject, its non-"other" samples in
// phase order, with the values of the given quantities.
func subjectTrends(samples []Sample, quantities []Quantity, order []string) []SubjectPoint {
	pos := phaseIndex(order)
	var points []SubjectPoint
	for _, s := range samples {
		if _, ok := pos[s.Bucket]; !ok || s.Bucket == bucketOther {
			continue
		}
		vals := make(map[string]float64, len(quantities))
		for _, q := range quantities {
			if s.HasColumn(q.Column) {
				vals[q.Name] = s.Value(q.Column)
			}
		}
		acc := s.Attr("acc")
		points = append(points, SubjectPoint{
			Subject:   s.Subject,
			Bucket:    s.Bucket,
			Day:       s.Day,
			Library:   s.Attr("library"),
			Accession: acc,
			TraceURL:  traceURL(acc),
			Values:    vals,
		})
	}
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Subject != points[j].Subject {
			return points[i].Subject < points[j].Subject
		}
		return pos[points[i].Bucket] < pos[points[j].Bucket]
	})
	return points
}

// Overview is the cohort-level description shown at the top of a report.
type Overview struct {
	Subjects         []string
	OmittedControls  []string `json:",omitempty"`
	TotalSamples     int
	IncludedSamples  int
	SkippedFamilies  []string          `json:",omitempty"`
	Inputs           map[string]string `json:",omitempty"`
	BaselineMethod   string
	FoldChangeMethod string
}

func newOverview(res *Result, controls []string) Overview {
	ov := Overview{
		Subjects:        Subjects(res.Samples),
		OmittedControls: controls,
		TotalSamples:    len(res.Samples),
		SkippedFamilies: res.Skipped,
		BaselineMethod: fmt.Sprintf("per-subject mean of available %v samples; if none, the %s sample, else the %s sample",
			baselineBuckets, fallbackBuckets[0], fallbackBuckets[1]),
		FoldChangeMethod: "sample value / baseline value (null if baseline missing or <= 0)",
	}
	for _, s := range res.Samples {
		if s.Bucket != bucketOther {
			ov.IncludedSamples++
		}
	}
	return ov
}
