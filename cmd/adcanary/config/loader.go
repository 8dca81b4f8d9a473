// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Load reads and structurally validates a run configuration file.
//
// # Description
//
// Load performs three steps: read the file, strict-decode the YAML
// (unknown keys are an error, catching typos like "budget_cap"), and run
// the validator/v10 structural pass over required fields.
//
// Load does NOT check safety semantics. A config that parses cleanly can
// still fail preflight validation; that is by intent so the validate
// command can report every finding at once instead of dying on the first.
//
// # Inputs
//
//   - path: Path to the YAML run configuration
//
// # Outputs
//
//   - *RunConfig: The decoded configuration
//   - error: Non-nil on read, parse, or structural failure
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and structurally validates run configuration bytes.
// Split out from Load so tests and the daemon can feed configs directly.
func Parse(data []byte) (*RunConfig, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var cfg RunConfig
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse run config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("run config failed structural validation: %w", err)
	}

	return &cfg, nil
}
