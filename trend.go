// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat/distuv"
)

var trendConfig = &glm.Config{
	Family:         glm.NewFamily(glm.GaussianFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

// Trend is a least-squares fit of a quantity's fold-change against
// phase position (0 for the first bucket in the phase order).
type Trend struct {
	Quantity string
	N        int
	// Change in fold-change per phase step.
	Slope float64
	// Likelihood ratio test against an intercept-only model.
	PValue float64
}

// fitTrend fits the relative value of q against phase position over
// every bucketed sample that has one. Slope and PValue are NaN when
// there are fewer than 3 points or only one distinct position.
func fitTrend(samples []Sample, q Quantity, order []string) (t Trend) {
	t = Trend{Quantity: q.RelName(), Slope: math.NaN(), PValue: math.NaN()}
	pos := phaseIndex(order)
	var outcome, constants, position []statmodel.Dtype
	distinct := map[int]bool{}
	for _, s := range samples {
		p, ok := pos[s.Bucket]
		if !ok {
			continue
		}
		v := s.Value(q.RelColumn())
		if math.IsNaN(v) {
			continue
		}
		outcome = append(outcome, v)
		constants = append(constants, 1)
		position = append(position, float64(p))
		distinct[p] = true
	}
	t.N = len(outcome)
	if t.N < 3 || len(distinct) < 2 {
		return
	}
	defer func() {
		if recover() != nil {
			// singular design
			t.Slope, t.PValue = math.NaN(), math.NaN()
		}
	}()

	names := []string{"outcome", "constants", "position"}
	dataset := statmodel.NewDataset([][]statmodel.Dtype{outcome, constants, position}, names)
	null, err := glm.NewGLM(dataset, "outcome", names[1:2], trendConfig)
	if err != nil {
		return
	}
	full, err := glm.NewGLM(dataset, "outcome", names[1:], trendConfig)
	if err != nil {
		return
	}
	nullFit, fullFit := null.Fit(), full.Fit()
	t.Slope = fullFit.Params()[1]
	dist := distuv.ChiSquared{K: 1}
	t.PValue = dist.Survival(-2 * (nullFit.LogLike() - fullFit.LogLike()))
	return
}
