// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// formatFloat renders NaN as an empty cell.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeSamplesCSV(w io.Writer, samples []Sample) error {
	attrSet, valueSet := map[string]bool{}, map[string]bool{}
	for _, s := range samples {
		for k := range s.Attrs {
			attrSet[k] = true
		}
		for k := range s.Values {
			valueSet[k] = true
		}
	}
	attrs, values := sortedKeys(attrSet), sortedKeys(valueSet)
	cw := csv.NewWriter(w)
	header := append([]string{"subject", "day", "bucket"}, attrs...)
	header = append(header, values...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range samples {
		rec := []string{s.Subject, formatFloat(s.Day), s.Bucket}
		for _, k := range attrs {
			rec = append(rec, s.Attrs[k])
		}
		for _, k := range values {
			rec = append(rec, formatFloat(s.Value(k)))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeSummaryCSV(w io.Writer, t *SummaryTable) error {
	cw := csv.NewWriter(w)
	header := []string{"bucket", "n_rows", "n_subjects"}
	for _, k := range t.Keys {
		header = append(header, "mean_"+k, "std_"+k, "se_"+k, "n_"+k)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		rec := []string{row.Bucket, strconv.Itoa(row.NRows), strconv.Itoa(row.NSubjects)}
		for _, k := range t.Keys {
			st, ok := row.Stats[k]
			if !ok {
				rec = append(rec, "", "", "", "")
				continue
			}
			rec = append(rec, formatFloat(st.Mean), formatFloat(st.Std), formatFloat(st.SE), strconv.Itoa(st.N))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeSubjectsCSV(w io.Writer, points []SubjectPoint, quantities []Quantity) error {
	cw := csv.NewWriter(w)
	header := []string{"subject", "bucket", "day", "library", "acc", "trace_url"}
	for _, q := range quantities {
		header = append(header, q.Name)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, p := range points {
		rec := []string{p.Subject, p.Bucket, formatFloat(p.Day), p.Library, p.Accession, p.TraceURL}
		for _, q := range quantities {
			v, ok := p.Values[q.Name]
			if !ok {
				v = math.NaN()
			}
			rec = append(rec, formatFloat(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeRankCSV(w io.Writer, rows []RankCount, countCol string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"rank", countCol}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Rank, formatFloat(r.Count)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// meansMatrix lays out a family's bucket means as a len(order) x
// 2*len(quantities) row-major matrix: absolute means, then relative
// means (uncollapsed). Buckets missing from a table are NaN.
func meansMatrix(fs FamilySummary, order []string) (data []float64, rows, cols int) {
	rows, cols = len(order), 2*len(fs.Family.Quantities)
	data = make([]float64, rows*cols)
	for i := range data {
		data[i] = math.NaN()
	}
	pos := phaseIndex(order)
	for half, t := range []*SummaryTable{fs.Absolute, fs.Relative} {
		if t == nil {
			continue
		}
		for _, row := range t.Rows {
			r, ok := pos[row.Bucket]
			if !ok {
				continue
			}
			for ki, k := range t.Keys {
				if st, ok := row.Stats[k]; ok {
					data[r*cols+half*len(t.Keys)+ki] = st.Mean
				}
			}
		}
	}
	return
}

func writeNumpyFloat64(fnm string, out []float64, rows, cols int) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"rows":     rows,
		"cols":     cols,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = []int{rows, cols}
	if err = npw.WriteFloat64(out); err != nil {
		return err
	}
	if err = bufw.Flush(); err != nil {
		return err
	}
	return output.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// jsonFloat is a float64 that encodes NaN as null.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(f))
}

type jsonStat struct {
	Mean jsonFloat `json:"mean"`
	Std  jsonFloat `json:"std"`
	SE   jsonFloat `json:"se"`
	N    int       `json:"n"`
}

type jsonRow struct {
	Bucket    string              `json:"bucket"`
	NRows     int                 `json:"n_rows"`
	NSubjects int                 `json:"n_subjects"`
	Stats     map[string]jsonStat `json:"stats"`
}

func jsonTable(t *SummaryTable) []jsonRow {
	if t == nil {
		return nil
	}
	rows := make([]jsonRow, 0, len(t.Rows))
	for _, row := range t.Rows {
		jr := jsonRow{Bucket: row.Bucket, NRows: row.NRows, NSubjects: row.NSubjects, Stats: map[string]jsonStat{}}
		for k, st := range row.Stats {
			jr.Stats[k] = jsonStat{jsonFloat(st.Mean), jsonFloat(st.Std), jsonFloat(st.SE), st.N}
		}
		rows = append(rows, jr)
	}
	return rows
}

type jsonFamily struct {
	Family    string
	Absolute  []jsonRow
	Relative  []jsonRow
	Collapsed []jsonRow `json:",omitempty"`
	Trend     jsonTrend
}

type jsonTrend struct {
	Quantity string
	N        int
	Slope    jsonFloat
	PValue   jsonFloat
}

type jsonReport struct {
	Overview  Overview
	Summaries []jsonFamily
}

func writeReportJSON(w io.Writer, ov Overview, res *Result) error {
	rpt := jsonReport{Overview: ov}
	for _, fs := range res.Summaries {
		rpt.Summaries = append(rpt.Summaries, jsonFamily{fs.Family.Name, jsonTable(fs.Absolute), jsonTable(fs.Relative), jsonTable(fs.Collapsed),
			jsonTrend{fs.Trend.Quantity, fs.Trend.N, jsonFloat(fs.Trend.Slope), jsonFloat(fs.Trend.PValue)}})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rpt)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
