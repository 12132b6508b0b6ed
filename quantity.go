// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import "sort"

// Quantity is one measured variable. Name is the key used in summary
// tables (mean_<Name>, se_<Name>, ...); Column is the sample value
// column it is read from.
type Quantity struct {
	Name   string
	Column string
}

// RelColumn is the sample column holding the fold-change values.
func (q Quantity) RelColumn() string { return q.Column + "_rel" }

// RelName is the summary key for the fold-change values.
func (q Quantity) RelName() string { return q.Name + "_rel" }

// Family is a group of quantities summarized into one table. The first
// quantity is primary: it determines n_rows and which buckets survive
// reindexing.
type Family struct {
	Name       string
	Quantities []Quantity
	// JointRelative counts a sample in the fold-change table only if
	// every quantity has a fold-change. Otherwise each quantity is
	// filtered on its own.
	JointRelative bool
}

var (
	CompositionFamily = Family{
		Name:          "composition",
		JointRelative: true,
		Quantities: []Quantity{
			{Name: "vir", Column: "pct_vir"},
			{Name: "cel", Column: "pct_cel"},
		},
	}
	SpeciesFamily = Family{
		Name: "species",
		Quantities: []Quantity{
			{Name: "num_virus_species", Column: "num_virus_species"},
		},
	}
)

// KingdomFamily summarizes one superkingdom's read count and its fraction
// of all kingdom reads.
func KingdomFamily(kingdom string) Family {
	return Family{
		Name: "kingdom." + kingdom,
		Quantities: []Quantity{
			{Name: kingdom, Column: kingdom},
			{Name: kingdom + "_frac", Column: kingdom + "_frac"},
		},
	}
}

// DefaultFamilies returns the composition and species families followed
// by one family per kingdom, kingdoms in sorted order.
func DefaultFamilies(kingdoms []string) []Family {
	fams := []Family{CompositionFamily, SpeciesFamily}
	sorted := append([]string(nil), kingdoms...)
	sort.Strings(sorted)
	for _, k := range sorted {
		fams = append(fams, KingdomFamily(k))
	}
	return fams
}

// present returns a copy of fam restricted to the quantities whose
// column exists in at least one sample. ok is false if none do.
func (fam Family) present(samples []Sample) (Family, bool) {
	out := Family{Name: fam.Name, JointRelative: fam.JointRelative}
	for _, q := range fam.Quantities {
		for _, s := range samples {
			if s.HasColumn(q.Column) {
				out.Quantities = append(out.Quantities, q)
				break
			}
		}
	}
	return out, len(out.Quantities) > 0
}

func (fam Family) keys(relative bool) []string {
	keys := make([]string, len(fam.Quantities))
	for i, q := range fam.Quantities {
		if relative {
			keys[i] = q.RelName()
		} else {
			keys[i] = q.Name
		}
	}
	return keys
}
