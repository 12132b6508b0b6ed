// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
	"gonum.org/v1/gonum/floats"
)

var errMissingColumn = errors.New("missing required column")

// InputNames are the file names looked up in the input directory (first
// in its data/ subdirectory). Each may also be found with a ".gz" suffix.
type InputNames struct {
	Composition string `yaml:"composition"`
	SubjectMap  string `yaml:"subject_map"`
	Species     string `yaml:"species"`
	Kingdoms    string `yaml:"kingdoms"`
	TaxaRanks   string `yaml:"taxa_ranks"`
	TaxaReads   string `yaml:"taxa_reads"`
}

var DefaultInputNames = InputNames{
	Composition: "sample_to_virus_and_cellular_org_pct.csv",
	SubjectMap:  "subject_to_sample.csv",
	Species:     "sample_to_num_of_virus_species.csv",
	Kingdoms:    "reads_total_count_per_superkingdom.csv",
	TaxaRanks:   "virus_taxa_count_by_rank.csv",
	TaxaReads:   "self_count_per_taxa_rank.csv",
}

// DefaultControls are the control subjects left out of the analysis.
var DefaultControls = []string{"CAN", "CAC", "CAM", "CAK", "CAA"}

// Names used in the composition input's "name" column.
var compositionColumns = map[string]string{
	"Viruses":            "pct_vir",
	"cellular organisms": "pct_cel",
}

const totalReadsColumn = "total_reads_all_kingdoms"

// RankCount is one row of a per-rank distribution (distinct taxa, or
// reads assigned directly to the rank).
type RankCount struct {
	Rank  string
	Count float64
}

// Cohort is the merged, cleaned input: one Sample per sequencing run
// joined to its subject and day, plus optional auxiliary tables.
type Cohort struct {
	Samples   []Sample
	Kingdoms  []string
	TaxaRanks []RankCount
	TaxaReads []RankCount
	// BLAKE2b-256 digest of each input file read, keyed by path.
	Inputs map[string]string
}

type cohortLoader struct {
	dir    string
	names  InputNames
	logger logrus.FieldLogger
	inputs map[string]string
}

// LoadCohort reads the cohort input files found in dir. The composition
// and subject map files are required; the others are optional.
func LoadCohort(dir string, names InputNames, logger logrus.FieldLogger) (*Cohort, error) {
	ld := &cohortLoader{dir: dir, names: names, logger: logger, inputs: map[string]string{}}
	samples, err := ld.loadSamples()
	if err != nil {
		return nil, err
	}
	cohort := &Cohort{Inputs: ld.inputs}
	samples, err = ld.mergeSpecies(samples)
	if err != nil {
		return nil, err
	}
	samples, cohort.Kingdoms, err = ld.mergeKingdoms(samples)
	if err != nil {
		return nil, err
	}
	sortSamples(samples)
	cohort.Samples = samples
	cohort.TaxaRanks, err = ld.loadRankCounts(names.TaxaRanks, "num_taxa", true)
	if err != nil {
		return nil, err
	}
	cohort.TaxaReads, err = ld.loadRankCounts(names.TaxaReads, "reads_at_rank", false)
	if err != nil {
		return nil, err
	}
	ld.logger.Debugf("loaded %d samples, %d subjects, kingdoms %v", len(samples), len(Subjects(samples)), cohort.Kingdoms)
	return cohort, nil
}

// resolve returns the path of the named input, preferring
// <dir>/data/<name> over <dir>/<name>, or "" if neither exists.
func (ld *cohortLoader) resolve(name string) string {
	if name == "" {
		return ""
	}
	for _, base := range []string{filepath.Join(ld.dir, "data"), ld.dir} {
		for _, suffix := range []string{"", ".gz"} {
			fnm := filepath.Join(base, name) + suffix
			if exists(fnm) {
				return fnm
			}
		}
	}
	return ""
}

type csvTable struct {
	name   string
	header []string
	col    map[string]int
	rows   [][]string
}

func (t *csvTable) has(name string) bool {
	_, ok := t.col[name]
	return ok
}

func (t *csvTable) require(names ...string) error {
	for _, name := range names {
		if !t.has(name) {
			return fmt.Errorf("%s: %w %q", t.name, errMissingColumn, name)
		}
	}
	return nil
}

func (t *csvTable) get(row []string, name string) string {
	i, ok := t.col[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *csvTable) float(row []string, name string) float64 {
	return parseFloat(t.get(row, name))
}

// parseFloat returns NaN for empty or unparseable input.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// readTable reads a CSV (or, if the name contains ".tsv", TSV) file with
// a header row, and records the digest of its content.
func (ld *cohortLoader) readTable(fnm string) (*csvTable, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	rdr := csv.NewReader(io.TeeReader(f, h))
	if strings.Contains(filepath.Base(fnm), ".tsv") {
		rdr.Comma = '\t'
	}
	rdr.FieldsPerRecord = -1
	rdr.LazyQuotes = true
	records, err := rdr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: no header row", fnm)
	}
	t := &csvTable{name: fnm, header: records[0], col: map[string]int{}, rows: records[1:]}
	for i, name := range t.header {
		name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
		t.header[i] = name
		if _, dup := t.col[name]; !dup {
			t.col[name] = i
		}
	}
	ld.inputs[fnm] = hex.EncodeToString(h.Sum(nil))
	ld.logger.WithFields(logrus.Fields{
		"file": fnm,
		"rows": len(t.rows),
	}).Debug("read input table")
	return t, nil
}

// loadSamples pivots the composition table to one row per (acc,
// sample_name) and inner-joins it with the subject map on
// sample_name == library.
func (ld *cohortLoader) loadSamples() ([]Sample, error) {
	compFnm := ld.resolve(ld.names.Composition)
	if compFnm == "" {
		return nil, fmt.Errorf("composition input %q not found in %s", ld.names.Composition, ld.dir)
	}
	mapFnm := ld.resolve(ld.names.SubjectMap)
	if mapFnm == "" {
		return nil, fmt.Errorf("subject map %q not found in %s", ld.names.SubjectMap, ld.dir)
	}
	comp, err := ld.readTable(compFnm)
	if err != nil {
		return nil, err
	}
	if err = comp.require("acc", "sample_name", "name", "pct"); err != nil {
		return nil, err
	}
	smap, err := ld.readTable(mapFnm)
	if err != nil {
		return nil, err
	}
	if err = smap.require("library", "subject", "day"); err != nil {
		return nil, err
	}

	type runKey struct{ acc, sample string }
	type pctSum struct {
		sum float64
		n   int
	}
	var runs []runKey
	pcts := map[runKey]map[string]*pctSum{}
	seenCols := map[string]bool{}
	for _, row := range comp.rows {
		col, ok := compositionColumns[comp.get(row, "name")]
		if !ok {
			continue
		}
		v := comp.float(row, "pct")
		if math.IsNaN(v) {
			continue
		}
		key := runKey{comp.get(row, "acc"), comp.get(row, "sample_name")}
		if pcts[key] == nil {
			pcts[key] = map[string]*pctSum{}
			runs = append(runs, key)
		}
		seenCols[col] = true
		ps := pcts[key][col]
		if ps == nil {
			ps = &pctSum{}
			pcts[key][col] = ps
		}
		ps.sum += v
		ps.n++
	}

	byLibrary := map[string][][]string{}
	for _, row := range smap.rows {
		lib := smap.get(row, "library")
		byLibrary[lib] = append(byLibrary[lib], row)
	}

	var samples []Sample
	for _, key := range runs {
		values := map[string]float64{}
		for col := range seenCols {
			values[col] = math.NaN()
			if ps := pcts[key][col]; ps != nil {
				values[col] = ps.sum / float64(ps.n)
			}
		}
		for _, row := range byLibrary[key.sample] {
			attrs := map[string]string{"acc": key.acc, "sample_name": key.sample}
			for i, name := range smap.header {
				if name == "subject" || name == "day" || name == "" || i >= len(row) {
					continue
				}
				attrs[name] = strings.TrimSpace(row[i])
			}
			vcopy := make(map[string]float64, len(values))
			for k, v := range values {
				vcopy[k] = v
			}
			samples = append(samples, Sample{
				Subject: smap.get(row, "subject"),
				Day:     smap.float(row, "day"),
				Attrs:   attrs,
				Values:  vcopy,
			})
		}
	}
	ld.logger.Debugf("merged %d composition runs with subject map: %d samples", len(runs), len(samples))
	return samples, nil
}

// mergeSpecies left-joins the per-sample virus species count, if that
// input is present.
func (ld *cohortLoader) mergeSpecies(samples []Sample) ([]Sample, error) {
	fnm := ld.resolve(ld.names.Species)
	if fnm == "" {
		ld.logger.Debug("no species input found; proceeding without num_virus_species")
		return samples, nil
	}
	t, err := ld.readTable(fnm)
	if err != nil {
		return nil, err
	}
	var col string
	for _, c := range []string{"tax_id_normalized_to_class_level_count", "num_virus_species"} {
		if t.has(c) {
			col = c
			break
		}
	}
	if col == "" || !t.has("sample_name") {
		ld.logger.Warnf("%s: missing sample_name or species count column; skipping", fnm)
		return samples, nil
	}
	counts := map[string]float64{}
	for _, row := range t.rows {
		name := t.get(row, "sample_name")
		if _, dup := counts[name]; !dup {
			counts[name] = t.float(row, col)
		}
	}
	out := make([]Sample, len(samples))
	for i, s := range samples {
		v, ok := counts[s.Attr("sample_name")]
		if !ok {
			v = math.NaN()
		}
		out[i] = s.with(map[string]float64{"num_virus_species": v})
	}
	ld.logger.Debugf("merged species data using column %s", col)
	return out, nil
}

// mergeKingdoms adds one read-count column per superkingdom (0 where a
// sample has no count), the total over all kingdoms, and each kingdom's
// fraction of that total (NaN where the total is 0).
func (ld *cohortLoader) mergeKingdoms(samples []Sample) ([]Sample, []string, error) {
	fnm := ld.resolve(ld.names.Kingdoms)
	if fnm == "" {
		ld.logger.Debug("no superkingdom input found")
		return samples, nil, nil
	}
	t, err := ld.readTable(fnm)
	if err != nil {
		return nil, nil, err
	}
	if err = t.require("sample_name", "name", "total_count"); err != nil {
		return nil, nil, err
	}
	reads := map[string]map[string]float64{}
	seen := map[string]bool{}
	var kingdoms []string
	for _, row := range t.rows {
		name, kingdom := t.get(row, "sample_name"), t.get(row, "name")
		if kingdom == "" {
			continue
		}
		if !seen[kingdom] {
			seen[kingdom] = true
			kingdoms = append(kingdoms, kingdom)
		}
		v := t.float(row, "total_count")
		if math.IsNaN(v) {
			continue
		}
		if reads[name] == nil {
			reads[name] = map[string]float64{}
		}
		if _, dup := reads[name][kingdom]; !dup {
			reads[name][kingdom] = v
		}
	}
	sort.Strings(kingdoms)

	out := make([]Sample, len(samples))
	counts := make([]float64, len(kingdoms))
	for i, s := range samples {
		cols := make(map[string]float64, 2*len(kingdoms)+1)
		for ki, k := range kingdoms {
			counts[ki] = reads[s.Attr("sample_name")][k]
			cols[k] = counts[ki]
		}
		total := floats.Sum(counts)
		cols[totalReadsColumn] = total
		for ki, k := range kingdoms {
			if total > 0 {
				cols[k+"_frac"] = counts[ki] / total
			} else {
				cols[k+"_frac"] = math.NaN()
			}
		}
		out[i] = s.with(cols)
	}
	return out, kingdoms, nil
}

// loadRankCounts reads an optional rank distribution table, sorted by
// count descending (missing counts last).
func (ld *cohortLoader) loadRankCounts(name, countCol string, dropEmptyRank bool) ([]RankCount, error) {
	fnm := ld.resolve(name)
	if fnm == "" {
		ld.logger.Debugf("%s not found", name)
		return nil, nil
	}
	t, err := ld.readTable(fnm)
	if err != nil {
		return nil, err
	}
	if err = t.require("rank", countCol); err != nil {
		return nil, err
	}
	var out []RankCount
	for _, row := range t.rows {
		rank := t.get(row, "rank")
		if dropEmptyRank && rank == "" {
			continue
		}
		out = append(out, RankCount{Rank: rank, Count: t.float(row, countCol)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Count, out[j].Count
		if math.IsNaN(b) {
			return !math.IsNaN(a)
		}
		return a > b
	})
	return out, nil
}

// sortSamples orders samples by subject, then day (missing days last).
func sortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if math.IsNaN(b.Day) {
			return !math.IsNaN(a.Day)
		}
		return a.Day < b.Day
	})
}

// FilterControls drops the samples of the given subjects.
func FilterControls(samples []Sample, controls []string) []Sample {
	drop := make(map[string]bool, len(controls))
	for _, c := range controls {
		drop[c] = true
	}
	var out []Sample
	for _, s := range samples {
		if !drop[s.Subject] {
			out = append(out, s)
		}
	}
	return out
}
