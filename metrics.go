// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"github.com/prometheus/client_golang/prometheus"
)

// runMetrics describes one report run in Prometheus text format, for
// node_exporter's textfile collector.
type runMetrics struct {
	reg      *prometheus.Registry
	samples  *prometheus.GaugeVec
	subjects prometheus.Gauge
	buckets  *prometheus.GaugeVec
	skipped  *prometheus.GaugeVec
	lastRun  prometheus.Gauge
	runtime  prometheus.Gauge
}

func newRunMetrics() *runMetrics {
	m := &runMetrics{
		reg: prometheus.NewRegistry(),
		samples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "phasetrend",
			Name:      "samples",
			Help:      "Number of samples, by stage.",
		}, []string{"stage"}),
		subjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phasetrend",
			Name:      "subjects",
			Help:      "Number of subjects analyzed.",
		}),
		buckets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "phasetrend",
			Name:      "bucket_samples",
			Help:      "Number of samples assigned to each bucket.",
		}, []string{"bucket"}),
		skipped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "phasetrend",
			Name:      "family_skipped",
			Help:      "1 if a quantity family had no data.",
		}, []string{"family"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phasetrend",
			Name:      "last_run_timestamp_seconds",
			Help:      "Time the report was generated.",
		}),
		runtime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phasetrend",
			Name:      "run_duration_seconds",
			Help:      "Time spent loading and summarizing.",
		}),
	}
	m.reg.MustRegister(m.samples, m.subjects, m.buckets, m.skipped, m.lastRun, m.runtime)
	return m
}

// observe records the outcome of a pipeline run over loaded samples.
func (m *runMetrics) observe(loaded int, res *Result) {
	m.samples.WithLabelValues("loaded").Set(float64(loaded))
	m.samples.WithLabelValues("analyzed").Set(float64(len(res.Samples)))
	m.subjects.Set(float64(len(Subjects(res.Samples))))
	for _, s := range res.Samples {
		m.buckets.WithLabelValues(s.Bucket).Inc()
	}
	for _, name := range res.Skipped {
		m.skipped.WithLabelValues(name).Set(1)
	}
}

func (m *runMetrics) writeTextfile(fnm string) error {
	return prometheus.WriteToTextfile(fnm, m.reg)
}
