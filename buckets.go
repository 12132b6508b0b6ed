// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// bucketscmd writes the bucketed, fold-change-annotated sample table
// without the cohort summaries.
type bucketscmd struct{}

func (cmd *bucketscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputDir := flags.String("input-dir", ".", "input `directory` (or Keep collection path)")
	controls := flags.String("controls", strings.Join(DefaultControls, ","), "comma-separated control `subjects` to omit")
	outputFilename := flags.String("o", "-", "output `file`")
	configFile := flags.String("config", "", "YAML `file` with phase_order, controls, and input file names")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	cfg := DefaultConfig()
	if *configFile != "" {
		cfg, err = LoadConfig(*configFile)
		if err != nil {
			return 1
		}
	}
	flags.Visit(func(f *flag.Flag) {
		if f.Name == "controls" {
			cfg.Controls = splitList(*controls)
		}
	})

	logger := logrus.New()
	logger.Out = stderr
	cohort, err := LoadCohort(*inputDir, cfg.Inputs, logger)
	if err != nil {
		return 1
	}
	p := Pipeline{
		Logger:     logger,
		PhaseOrder: cfg.PhaseOrder,
		Families:   DefaultFamilies(cohort.Kingdoms),
	}
	res, err := p.Run(FilterControls(cohort.Samples, cfg.Controls))
	if err != nil {
		return 1
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	err = writeSamplesCSV(bufw, res.Samples)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}
