// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type reportSuite struct{}

var _ = check.Suite(&reportSuite{})

func (s *reportSuite) TestReport(c *check.C) {
	indir, outdir := c.MkDir(), filepath.Join(c.MkDir(), "out")
	writeCohort(c, indir)
	var stderr bytes.Buffer
	exited := (&reportcmd{}).RunCommand("report", []string{"-input-dir", indir, "-output-dir", outdir, "-threads", "2"}, &bytes.Buffer{}, &bytes.Buffer{}, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))

	for _, fnm := range []string{
		"samples.csv",
		"subjects.csv",
		"report.json",
		"taxa_ranks.csv",
		"taxa_reads.csv",
		"summary.composition.csv",
		"summary.composition.rel.csv",
		"summary.composition.rel.collapsed.csv",
		"summary.kingdom.Bacteria.csv",
		"summary.kingdom.Viruses.rel.csv",
		"means.species.npy",
	} {
		_, err := os.Stat(filepath.Join(outdir, fnm))
		c.Check(err, check.IsNil)
	}

	buf, err := ioutil.ReadFile(filepath.Join(outdir, "summary.species.csv"))
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, `bucket,n_rows,n_subjects,mean_num_virus_species,std_num_virus_species,se_num_virus_species,n_num_virus_species
pre-9w,1,1,10,,,1
pre-2d,1,1,20,,,1
pre-1d,1,1,30,,,1
day0,1,1,40,,,1
`)

	buf, err = ioutil.ReadFile(filepath.Join(outdir, "summary.species.rel.collapsed.csv"))
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Matches, `(?ms)bucket,n_rows,n_subjects,mean_num_virus_species_rel,.*\npre-9w,1,1,0.3333333333333333,,,1\nbaseline,3,3,[0-9.]+,,,3\n`)

	buf, err = ioutil.ReadFile(filepath.Join(outdir, "samples.csv"))
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Matches, `(?ms)subject,day,bucket,acc,cohort,library,sample_name,Bacteria,Bacteria_frac,.*`)
	c.Check(string(buf), check.Matches, `(?ms).*\nP1,-2,pre-9w,SRR1,a,L1,L1,30,0.75,.*`)
	c.Check(string(buf), check.Matches, `(?ms).*\nP2,,other,SRR6,b,L6,L6,0,,.*`)
	c.Check(string(buf), check.Not(check.Matches), `(?ms).*\nCAN,.*`)

	buf, err = ioutil.ReadFile(filepath.Join(outdir, "subjects.csv"))
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Matches, `subject,bucket,day,library,acc,trace_url,vir,cel,num_virus_species,Bacteria,Bacteria_frac,Viruses,Viruses_frac\n`+
		`P1,pre-9w,-2,L1,SRR1,https://trace.ncbi.nlm.nih.gov/Traces/index.html\?acc=SRR1&display=analysis&view=run_browser,3,90,10,30,0.75,10,0.25\n`+
		`P1,pre-2d,.*\nP1,pre-1d,.*\nP1,day0,.*\n`)

	buf, err = ioutil.ReadFile(filepath.Join(outdir, "taxa_ranks.csv"))
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, "rank,num_taxa\ngenus,20\nspecies,10\nfamily,\n")

	f, err := os.Open(filepath.Join(outdir, "means.composition.npy"))
	c.Assert(err, check.IsNil)
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	c.Assert(err, check.IsNil)
	c.Check(npy.Shape, check.DeepEquals, []int{len(PhaseOrder), 4})
	means, err := npy.GetFloat64()
	c.Assert(err, check.IsNil)
	c.Assert(means, check.HasLen, len(PhaseOrder)*4)
	c.Check(means[0], check.Equals, 3.0)
	c.Check(means[1], check.Equals, 90.0)
	closeTo(c, means[2], 9.0/28)
	closeTo(c, means[3], 90.0/70)
	closeTo(c, means[3*4+1], 60)
	for i := 4 * 4; i < len(means); i++ {
		c.Check(math.IsNaN(means[i]), check.Equals, true, check.Commentf("i=%d", i))
	}

	var rpt struct {
		Overview  Overview
		Summaries []struct {
			Family   string
			Absolute []struct {
				Bucket string
				Stats  map[string]struct {
					Mean *float64
					Std  *float64
					N    int
				}
			}
			Trend struct {
				Quantity string
				N        int
			}
		}
	}
	buf, err = ioutil.ReadFile(filepath.Join(outdir, "report.json"))
	c.Assert(err, check.IsNil)
	c.Assert(json.Unmarshal(buf, &rpt), check.IsNil)
	c.Check(rpt.Overview.Subjects, check.DeepEquals, []string{"P1", "P2"})
	c.Check(rpt.Overview.TotalSamples, check.Equals, 5)
	c.Check(rpt.Overview.IncludedSamples, check.Equals, 4)
	c.Check(rpt.Overview.OmittedControls, check.DeepEquals, DefaultControls)
	c.Check(rpt.Overview.Inputs, check.HasLen, 6)
	c.Assert(rpt.Summaries, check.HasLen, 4)
	c.Check(rpt.Summaries[0].Family, check.Equals, "composition")
	c.Check(rpt.Summaries[0].Trend.Quantity, check.Equals, "vir_rel")
	c.Check(rpt.Summaries[0].Trend.N, check.Equals, 4)
	st := rpt.Summaries[0].Absolute[0].Stats["vir"]
	c.Assert(st.Mean, check.NotNil)
	c.Check(*st.Mean, check.Equals, 3.0)
	c.Check(st.Std, check.IsNil)
	c.Check(st.N, check.Equals, 1)
}

func (s *reportSuite) TestNoCollapse(c *check.C) {
	indir, outdir := c.MkDir(), c.MkDir()
	writeCohort(c, indir)
	exited := (&reportcmd{}).RunCommand("report", []string{"-input-dir", indir, "-output-dir", outdir, "-collapse-baseline=false", "-controls", ""}, &bytes.Buffer{}, &bytes.Buffer{}, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	_, err := os.Stat(filepath.Join(outdir, "summary.composition.rel.collapsed.csv"))
	c.Check(os.IsNotExist(err), check.Equals, true)
	buf, err := ioutil.ReadFile(filepath.Join(outdir, "samples.csv"))
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Matches, `(?ms).*\nCAN,0,pre-9w,.*`)
}

func (s *reportSuite) TestDebugLog(c *check.C) {
	indir, outdir := c.MkDir(), c.MkDir()
	writeCohort(c, indir)
	c.Assert(os.Remove(filepath.Join(indir, "sample_to_num_of_virus_species.csv")), check.IsNil)
	logfile := filepath.Join(outdir, "debug.log")
	exited := (&reportcmd{}).RunCommand("report", []string{"-input-dir", indir, "-output-dir", outdir, "-debug-log", logfile}, &bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{})
	c.Assert(exited, check.Equals, 0)
	buf, err := ioutil.ReadFile(logfile)
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Matches, `(?ms).*subject=P1.*`)
	c.Check(string(buf), check.Matches, `(?ms).*baseline from \[pre-2d pre-1d day0\].*`)
	c.Check(string(buf), check.Matches, `(?ms).*loaded 6 samples \(5 after omitting controls.*`)
	c.Check(string(buf), check.Matches, `(?ms).*no data for species, omitted from report.*`)
}

func (s *reportSuite) TestUsageErrors(c *check.C) {
	var stderr bytes.Buffer
	c.Check((&reportcmd{}).RunCommand("report", []string{"-no-such-flag"}, &bytes.Buffer{}, &bytes.Buffer{}, &stderr), check.Equals, 2)
	c.Check((&reportcmd{}).RunCommand("report", []string{"extra"}, &bytes.Buffer{}, &bytes.Buffer{}, &stderr), check.Equals, 2)
	c.Check((&reportcmd{}).RunCommand("report", []string{"-input-dir", c.MkDir()}, &bytes.Buffer{}, &bytes.Buffer{}, &stderr), check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*composition input .* not found.*`)
}

func (s *reportSuite) TestBuckets(c *check.C) {
	indir := c.MkDir()
	writeCohort(c, indir)
	var stdout bytes.Buffer
	exited := (&bucketscmd{}).RunCommand("buckets", []string{"-input-dir", indir}, &bytes.Buffer{}, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	c.Check(stdout.String(), check.Matches, `(?ms)subject,day,bucket,.*\nP1,-2,pre-9w,.*\nP1,-1,pre-2d,.*\nP1,0,pre-1d,.*\nP1,3,day0,.*\nP2,,other,.*`)

	outfile := filepath.Join(c.MkDir(), "buckets.csv")
	exited = (&bucketscmd{}).RunCommand("buckets", []string{"-input-dir", indir, "-o", outfile, "-controls", "P2"}, &bytes.Buffer{}, &bytes.Buffer{}, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	buf, err := ioutil.ReadFile(outfile)
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Matches, `(?ms).*\nCAN,0,pre-9w,.*`)
	c.Check(string(buf), check.Not(check.Matches), `(?ms).*\nP2,.*`)
}

func (s *reportSuite) TestTraceURL(c *check.C) {
	c.Check(traceURL("SRR123"), check.Equals, "https://trace.ncbi.nlm.nih.gov/Traces/index.html?acc=SRR123&display=analysis&view=run_browser")
	c.Check(traceURL(""), check.Equals, "")
}
