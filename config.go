// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"

	"gopkg.in/yaml.v3"
)

// Config holds the study-specific settings that can be supplied with
// -config instead of the built-in defaults. Empty fields keep their
// defaults.
type Config struct {
	PhaseOrder []string   `yaml:"phase_order"`
	Controls   []string   `yaml:"controls"`
	Inputs     InputNames `yaml:"inputs"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		PhaseOrder: append([]string(nil), PhaseOrder...),
		Controls:   append([]string(nil), DefaultControls...),
		Inputs:     DefaultInputNames,
	}
}

// LoadConfig reads a YAML config file and fills unset fields from
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return parseConfig(data, path)
}

func parseConfig(data []byte, name string) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("%s: %w", name, err)
	}
	def := DefaultConfig()
	if cfg.PhaseOrder == nil {
		cfg.PhaseOrder = def.PhaseOrder
	}
	if cfg.Controls == nil {
		cfg.Controls = def.Controls
	}
	for _, f := range []struct {
		got *string
		def string
	}{
		{&cfg.Inputs.Composition, def.Inputs.Composition},
		{&cfg.Inputs.SubjectMap, def.Inputs.SubjectMap},
		{&cfg.Inputs.Species, def.Inputs.Species},
		{&cfg.Inputs.Kingdoms, def.Inputs.Kingdoms},
		{&cfg.Inputs.TaxaRanks, def.Inputs.TaxaRanks},
		{&cfg.Inputs.TaxaReads, def.Inputs.TaxaReads},
	} {
		if *f.got == "" {
			*f.got = f.def
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if len(cfg.PhaseOrder) == 0 {
		return fmt.Errorf("phase_order is empty")
	}
	seen := map[string]bool{}
	for _, b := range cfg.PhaseOrder {
		switch {
		case b == "":
			return fmt.Errorf("phase_order contains an empty label")
		case b == bucketOther || b == bucketBaseline:
			return fmt.Errorf("phase_order cannot contain reserved label %q", b)
		case seen[b]:
			return fmt.Errorf("phase_order contains %q twice", b)
		}
		seen[b] = true
	}
	return nil
}
