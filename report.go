// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.arvados.org/arvados.git/sdk/go/arvados"
	"github.com/sirupsen/logrus"
)

type reportcmd struct {
	inputDir         string
	outputDir        string
	controls         string
	threads          int
	debug            bool
	debugLog         string
	collapseBaseline bool
	configFile       string
	metricsFile      string
	controlsSet      bool
}

func (cmd *reportcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	runlocal := flags.Bool("local", true, "run on local host (if false, run in an arvados container)")
	projectUUID := flags.String("project", "", "project `UUID` for output data")
	priority := flags.Int("priority", 500, "container request priority")
	flags.StringVar(&cmd.inputDir, "input-dir", ".", "input `directory` (or Keep collection path)")
	flags.StringVar(&cmd.outputDir, "output-dir", "./output", "output `directory`")
	flags.StringVar(&cmd.controls, "controls", strings.Join(DefaultControls, ","), "comma-separated control `subjects` to omit")
	flags.IntVar(&cmd.threads, "threads", 4, "number of subjects to process concurrently")
	flags.BoolVar(&cmd.debug, "debug", false, "log per-subject bucket and baseline decisions")
	flags.StringVar(&cmd.debugLog, "debug-log", "", "also write debug log to `file`")
	flags.BoolVar(&cmd.collapseBaseline, "collapse-baseline", true, "write relative summaries with baseline buckets merged")
	flags.StringVar(&cmd.configFile, "config", "", "YAML `file` with phase_order, controls, and input file names")
	flags.StringVar(&cmd.metricsFile, "metrics", "", "write run metrics in Prometheus text format to `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("extra arguments: %q", flags.Args())
		return 2
	}
	cmd.controlsSet = false
	flags.Visit(func(f *flag.Flag) {
		if f.Name == "controls" {
			cmd.controlsSet = true
		}
	})

	if *pprof != "" {
		go func() {
			logrus.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !*runlocal {
		if cmd.configFile != "" || cmd.metricsFile != "" {
			err = errors.New("cannot specify -config or -metrics in container mode: not implemented")
			return 1
		}
		runner := containerRunner{
			Name:        "phasetrend report",
			Client:      arvados.NewClientFromEnv(),
			ProjectUUID: *projectUUID,
			RAM:         4000000000,
			VCPUs:       cmd.threads,
			Priority:    *priority,
		}
		err = runner.TranslatePaths(&cmd.inputDir)
		if err != nil {
			return 1
		}
		runner.Args = []string{"report", "-local=true",
			"-input-dir", cmd.inputDir,
			"-output-dir", "/mnt/output",
			"-controls", cmd.controls,
			"-threads", fmt.Sprintf("%d", cmd.threads),
			fmt.Sprintf("-debug=%v", cmd.debug),
			fmt.Sprintf("-collapse-baseline=%v", cmd.collapseBaseline),
		}
		var output string
		output, err = runner.Run(context.Background())
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output)
		return 0
	}

	logger, closeLog, err := cmd.logger(stderr)
	if err != nil {
		return 1
	}
	defer closeLog()

	err = cmd.run(logger)
	if err != nil {
		return 1
	}
	return 0
}

// logger returns the logger handed to the loader and pipeline. With
// -debug-log, the debug stream is copied to the file.
func (cmd *reportcmd) logger(stderr io.Writer) (logrus.FieldLogger, func(), error) {
	logger := logrus.New()
	logger.Out = stderr
	logger.Formatter = logrus.StandardLogger().Formatter
	logger.Level = logrus.InfoLevel
	if cmd.debug {
		logger.Level = logrus.DebugLevel
	}
	if cmd.debugLog == "" {
		return logger, func() {}, nil
	}
	f, err := os.Create(cmd.debugLog)
	if err != nil {
		return nil, nil, err
	}
	logger.Out = io.MultiWriter(stderr, f)
	logger.Level = logrus.DebugLevel
	return logger, func() { f.Close() }, nil
}

func (cmd *reportcmd) run(logger logrus.FieldLogger) error {
	t0 := time.Now()
	cfg := DefaultConfig()
	if cmd.configFile != "" {
		var err error
		cfg, err = LoadConfig(cmd.configFile)
		if err != nil {
			return err
		}
	}
	if cmd.controlsSet {
		cfg.Controls = splitList(cmd.controls)
	}

	cohort, err := LoadCohort(cmd.inputDir, cfg.Inputs, logger)
	if err != nil {
		return err
	}
	samples := FilterControls(cohort.Samples, cfg.Controls)
	logger.Infof("loaded %d samples (%d after omitting controls %v)", len(cohort.Samples), len(samples), cfg.Controls)

	p := Pipeline{
		Logger:           logger,
		PhaseOrder:       cfg.PhaseOrder,
		Families:         DefaultFamilies(cohort.Kingdoms),
		Threads:          cmd.threads,
		CollapseBaseline: cmd.collapseBaseline,
	}
	res, err := p.Run(samples)
	if err != nil {
		return err
	}
	for _, name := range res.Skipped {
		logger.Warnf("no data for %s, omitted from report", name)
	}

	err = os.MkdirAll(cmd.outputDir, 0777)
	if err != nil {
		return err
	}
	err = writeReport(cmd.outputDir, cohort, res, cfg.Controls, cfg.PhaseOrder)
	if err != nil {
		return err
	}
	if cmd.metricsFile != "" {
		m := newRunMetrics()
		m.observe(len(cohort.Samples), res)
		m.lastRun.SetToCurrentTime()
		m.runtime.Set(time.Since(t0).Seconds())
		err = m.writeTextfile(cmd.metricsFile)
		if err != nil {
			return err
		}
	}
	return nil
}

// writeReport writes every report output file into outdir.
func writeReport(outdir string, cohort *Cohort, res *Result, controls []string, order []string) error {
	err := writeFile(filepath.Join(outdir, "samples.csv"), func(w io.Writer) error {
		return writeSamplesCSV(w, res.Samples)
	})
	if err != nil {
		return err
	}
	var quantities []Quantity
	for _, fs := range res.Summaries {
		quantities = append(quantities, fs.Family.Quantities...)
		for _, out := range []struct {
			suffix string
			table  *SummaryTable
		}{
			{"", fs.Absolute},
			{".rel", fs.Relative},
			{".rel.collapsed", fs.Collapsed},
		} {
			if out.table == nil {
				continue
			}
			err = writeFile(filepath.Join(outdir, "summary."+fs.Family.Name+out.suffix+".csv"), func(w io.Writer) error {
				return writeSummaryCSV(w, out.table)
			})
			if err != nil {
				return err
			}
		}
		data, rows, cols := meansMatrix(fs, order)
		err = writeNumpyFloat64(filepath.Join(outdir, "means."+fs.Family.Name+".npy"), data, rows, cols)
		if err != nil {
			return err
		}
	}
	err = writeFile(filepath.Join(outdir, "subjects.csv"), func(w io.Writer) error {
		return writeSubjectsCSV(w, subjectTrends(res.Samples, quantities, order), quantities)
	})
	if err != nil {
		return err
	}
	if cohort.TaxaRanks != nil {
		err = writeFile(filepath.Join(outdir, "taxa_ranks.csv"), func(w io.Writer) error {
			return writeRankCSV(w, cohort.TaxaRanks, "num_taxa")
		})
		if err != nil {
			return err
		}
	}
	if cohort.TaxaReads != nil {
		err = writeFile(filepath.Join(outdir, "taxa_reads.csv"), func(w io.Writer) error {
			return writeRankCSV(w, cohort.TaxaReads, "reads_at_rank")
		})
		if err != nil {
			return err
		}
	}
	ov := newOverview(res, controls)
	ov.Inputs = cohort.Inputs
	return writeFile(filepath.Join(outdir, "report.json"), func(w io.Writer) error {
		return writeReportJSON(w, ov, res)
	})
}

func writeFile(fnm string, write func(io.Writer) error) error {
	logrus.Infof("writing %s", fnm)
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	err = write(bufw)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
