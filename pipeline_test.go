// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"fmt"
	"math"

	"gopkg.in/check.v1"
)

type pipelineSuite struct{}

var _ = check.Suite(&pipelineSuite{})

// cohortSamples returns a small cohort: P1 has the full pretreatment
// series, P2 only a pre-9w sample before treatment, and P3 is sampled
// only after treatment started. Buckets are rank based, so P3's earliest
// sample still lands in pre-9w and serves as its baseline.
func cohortSamples() []Sample {
	var out []Sample
	add := func(subject string, day float64, vir, cel float64) {
		out = append(out, Sample{
			Subject: subject,
			Day:     day,
			Attrs:   map[string]string{"library": fmt.Sprintf("%s_%v", subject, day), "acc": "SRR" + subject},
			Values:  map[string]float64{"pct_vir": vir, "pct_cel": cel},
		})
	}
	add("P1", -63, 2, 90)
	add("P1", -2, 3, 90)
	add("P1", -1, 6, 80)
	add("P1", 0, 9, 70)
	add("P1", 1, 12, 60)
	add("P2", -63, 2, 50)
	add("P2", 1, 6, 50)
	add("P3", 5, 4, 40)
	add("P3", 10, 8, 40)
	return out
}

func (s *pipelineSuite) TestRun(c *check.C) {
	p := Pipeline{
		Logger:           quietLogger(),
		Families:         DefaultFamilies(nil),
		Threads:          2,
		CollapseBaseline: true,
	}
	res, err := p.Run(cohortSamples())
	c.Assert(err, check.IsNil)
	c.Check(res.Skipped, check.DeepEquals, []string{"species"})
	c.Assert(res.Summaries, check.HasLen, 1)

	byLib := map[string]Sample{}
	for _, smp := range res.Samples {
		byLib[smp.Attr("library")] = smp
	}
	c.Check(byLib["P1_0"].Bucket, check.Equals, "day0")
	closeTo(c, byLib["P1_0"].Value("pct_vir_rel"), 1.5)
	closeTo(c, byLib["P1_-2"].Value("pct_vir_rel"), 0.5)
	c.Check(byLib["P2_1"].Bucket, check.Equals, "pre-2d")
	// P2's second sample is ranked pre-2d, so it is its own baseline
	closeTo(c, byLib["P2_1"].Value("pct_vir_rel"), 1)
	c.Check(math.IsNaN(byLib["P3_5"].Value("pct_vir_rel")), check.Equals, false)

	fs, ok := res.Summary("composition")
	c.Assert(ok, check.Equals, true)
	c.Check(fs.Absolute.Buckets(), check.DeepEquals, []string{"pre-9w", "pre-2d", "pre-1d", "day0", "day1"})
	row, _ := fs.Absolute.Row("pre-9w")
	c.Check(row.NSubjects, check.Equals, 3)
	c.Check(fs.Collapsed.Buckets(), check.DeepEquals, []string{"pre-9w", "baseline", "day1"})
}

func (s *pipelineSuite) TestNullPropagation(c *check.C) {
	samples := []Sample{
		inBucket("P9", "", map[string]float64{"pct_vir": 1, "pct_cel": 1}),
		inBucket("P9", "", map[string]float64{"pct_vir": 2, "pct_cel": 2}),
	}
	samples[0].Day, samples[1].Day = 5, 10
	// Buckets day5 and day10 are the 9th and 13th phases, so use an
	// order in which this subject's samples land there directly.
	p := Pipeline{
		Logger:     quietLogger(),
		PhaseOrder: []string{"day5", "day10"},
		Families:   []Family{CompositionFamily},
	}
	res, err := p.Run(samples)
	c.Assert(err, check.IsNil)
	for _, smp := range res.Samples {
		c.Check(math.IsNaN(smp.Value("pct_vir_rel")), check.Equals, true)
	}
	fs, _ := res.Summary("composition")
	c.Check(fs.Absolute.Buckets(), check.DeepEquals, []string{"day5", "day10"})
	c.Check(fs.Relative.Rows, check.HasLen, 0)
	c.Check(fs.Collapsed, check.IsNil)
}

func (s *pipelineSuite) TestThreadsDoNotChangeResult(c *check.C) {
	var results []string
	for _, threads := range []int{0, 1, 4, 16} {
		p := Pipeline{Logger: quietLogger(), Families: DefaultFamilies(nil), Threads: threads, CollapseBaseline: true}
		res, err := p.Run(cohortSamples())
		c.Assert(err, check.IsNil)
		results = append(results, describeResult(res))
	}
	for i := 1; i < len(results); i++ {
		c.Check(results[i], check.Equals, results[0])
	}
}

func describeResult(res *Result) string {
	out := fmt.Sprintf("%+v\n%v\n", res.Samples, res.Skipped)
	for _, fs := range res.Summaries {
		out += fmt.Sprintf("%+v\n%+v\n%+v\n", fs.Family, *fs.Absolute, *fs.Relative)
		if fs.Collapsed != nil {
			out += fmt.Sprintf("%+v\n", *fs.Collapsed)
		}
		out += fmt.Sprintf("%+v\n", fs.Trend)
	}
	return out
}

func (s *pipelineSuite) TestMissingSubject(c *check.C) {
	samples := cohortSamples()
	samples[3].Subject = ""
	res, err := (&Pipeline{Logger: quietLogger(), Families: []Family{CompositionFamily}}).Run(samples)
	c.Assert(err, check.IsNil)
	c.Check(res.Samples, check.HasLen, len(samples)-1)
	for _, smp := range res.Samples {
		c.Check(smp.Subject, check.Not(check.Equals), "")
		c.Check(smp.Attr("library"), check.Not(check.Equals), "P1_0")
	}
	fs, ok := res.Summary("composition")
	c.Assert(ok, check.Equals, true)
	// P1's day-1 sample moves up to day0 once day 0 is gone
	c.Check(fs.Absolute.Buckets(), check.DeepEquals, []string{"pre-9w", "pre-2d", "pre-1d", "day0"})
	row, _ := fs.Absolute.Row("day0")
	c.Check(row.NRows, check.Equals, 1)
	closeTo(c, row.Stats["vir"].Mean, 12)
	// input is left untouched
	c.Check(samples[3].Attr("library"), check.Equals, "P1_0")
}

func (s *pipelineSuite) TestNilLogger(c *check.C) {
	res, err := (&Pipeline{Families: []Family{SpeciesFamily}}).Run(cohortSamples())
	c.Assert(err, check.IsNil)
	c.Check(res.Summaries, check.HasLen, 0)
	c.Check(res.Samples, check.HasLen, len(cohortSamples()))
}

func (s *pipelineSuite) TestKingdomFamilies(c *check.C) {
	samples := cohortSamples()
	for i := range samples {
		samples[i].Values["Viruses"] = float64(10 * (i + 1))
		samples[i].Values["Viruses_frac"] = 0.1
	}
	p := Pipeline{Logger: quietLogger(), Families: DefaultFamilies([]string{"Viruses"})}
	res, err := p.Run(samples)
	c.Assert(err, check.IsNil)
	fs, ok := res.Summary("kingdom.Viruses")
	c.Assert(ok, check.Equals, true)
	c.Check(fs.Relative.Keys, check.DeepEquals, []string{"Viruses_rel", "Viruses_frac_rel"})
	row, _ := fs.Relative.Row("day1")
	closeTo(c, row.Stats["Viruses_frac_rel"].Mean, 1)
}

func (s *pipelineSuite) TestKingdomZeroTotal(c *check.C) {
	var samples []Sample
	for _, day := range []float64{-63, -2, -1, 0} {
		samples = append(samples, mksample("P1", day, fmt.Sprintf("L%v", day), map[string]float64{"Bacteria": 10, "Bacteria_frac": 0.5}))
	}
	// no kingdom reads at all, so the fraction is unknown
	samples = append(samples, mksample("P1", 1, "L1", map[string]float64{"Bacteria": 0, "Bacteria_frac": math.NaN()}))

	res, err := (&Pipeline{Logger: quietLogger(), Families: []Family{KingdomFamily("Bacteria")}}).Run(samples)
	c.Assert(err, check.IsNil)
	fs, ok := res.Summary("kingdom.Bacteria")
	c.Assert(ok, check.Equals, true)
	c.Check(fs.Relative.Buckets(), check.DeepEquals, []string{"pre-9w", "pre-2d", "pre-1d", "day0", "day1"})
	row, ok := fs.Relative.Row("day1")
	c.Assert(ok, check.Equals, true)
	c.Check(row.NRows, check.Equals, 1)
	c.Check(row.NSubjects, check.Equals, 1)
	c.Check(row.Stats["Bacteria_rel"].Mean, check.Equals, 0.0)
	c.Check(row.Stats["Bacteria_rel"].N, check.Equals, 1)
	c.Check(row.Stats["Bacteria_frac_rel"].N, check.Equals, 0)
}
