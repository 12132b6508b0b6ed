// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"io/ioutil"

	"github.com/sirupsen/logrus"
)

// Pipeline buckets each subject's samples, computes fold-changes
// against each subject's baseline, and summarizes every family across
// the cohort.
type Pipeline struct {
	Logger     logrus.FieldLogger
	PhaseOrder []string
	Families   []Family
	// Number of subjects processed concurrently (default 1).
	Threads int
	// Also produce the relative table with baseline buckets merged.
	CollapseBaseline bool
}

type FamilySummary struct {
	Family    Family
	Absolute  *SummaryTable
	Relative  *SummaryTable
	Collapsed *SummaryTable
	// Fold-change trend of the primary quantity across phases.
	Trend Trend
}

type Result struct {
	// Bucketed samples with fold-change columns, sorted by subject.
	Samples   []Sample
	Summaries []FamilySummary
	// Families with no data in the input.
	Skipped []string
}

// Summary returns the summary for the named family, if it was produced.
func (r *Result) Summary(family string) (FamilySummary, bool) {
	for _, fs := range r.Summaries {
		if fs.Family.Name == family {
			return fs, true
		}
	}
	return FamilySummary{}, false
}

func (p *Pipeline) logger() logrus.FieldLogger {
	if p.Logger != nil {
		return p.Logger
	}
	l := logrus.New()
	l.Out = ioutil.Discard
	return l
}

func (p *Pipeline) Run(samples []Sample) (*Result, error) {
	logger := p.logger()
	order := p.PhaseOrder
	if len(order) == 0 {
		order = PhaseOrder
	}
	samples = withSubject(samples, logger)

	res := &Result{}
	var families []Family
	var quantities []Quantity
	for _, fam := range p.Families {
		present, ok := fam.present(samples)
		if !ok {
			logger.Debugf("no data for family %s, skipping", fam.Name)
			res.Skipped = append(res.Skipped, fam.Name)
			continue
		}
		families = append(families, present)
		quantities = append(quantities, present.Quantities...)
	}

	res.Samples = groupApply(samples, bySubject, p.Threads, func(subj []Sample) []Sample {
		bucketed := assignBuckets(subj, order, logger)
		return addRelative(bucketed, quantities, logger)
	})
	counts := map[string]int{}
	for _, s := range res.Samples {
		counts[s.Bucket]++
	}
	logger.Debugf("bucket distribution: %v", counts)

	for _, fam := range families {
		fs := FamilySummary{
			Family:   fam,
			Absolute: summarize(res.Samples, fam, false, order),
			Relative: summarize(res.Samples, fam, true, order),
		}
		if p.CollapseBaseline {
			fs.Collapsed = collapseBaseline(fs.Relative)
		}
		fs.Trend = fitTrend(res.Samples, fam.Quantities[0], order)
		logger.WithFields(logrus.Fields{
			"family":   fam.Name,
			"absolute": fs.Absolute.Buckets(),
			"relative": fs.Relative.Buckets(),
		}).Debug("summary tables")
		res.Summaries = append(res.Summaries, fs)
	}
	return res, nil
}

// withSubject drops samples that cannot be attributed to a subject.
func withSubject(samples []Sample, logger logrus.FieldLogger) []Sample {
	keep := make([]Sample, 0, len(samples))
	for i, s := range samples {
		if s.Subject == "" {
			logger.Warnf("row %d (library %q) has no subject, skipping", i, s.Attr("library"))
			continue
		}
		keep = append(keep, s)
	}
	return keep
}
