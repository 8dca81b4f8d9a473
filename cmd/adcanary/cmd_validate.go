// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/peakform/adcanary/cmd/adcanary/config"
	"github.com/peakform/adcanary/cmd/adcanary/internal/adsapi"
	"github.com/peakform/adcanary/cmd/adcanary/internal/preflight"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
	"github.com/peakform/adcanary/pkg/ux"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	validateStrict bool // Treat warnings as blocking
	validateDryRun bool // Skip backend checks
	enforceGDPR    bool // Enforce audience consent checks
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// noopProbe stands in for the backend in --dry-run mode.
type noopProbe struct{}

func (noopProbe) Healthz(ctx context.Context) error { return nil }

// noopLister reports every list as healthy in --dry-run mode.
type noopLister struct{}

func (noopLister) AudienceList(ctx context.Context, listID string) (adsapi.AudienceList, error) {
	return adsapi.AudienceList{Exists: true, Status: "ENABLED", Type: "CRM_BASED", Size: 1000000, CanTarget: true}, nil
}

// runValidateCommand loads the config, runs the full pre-flight, writes
// the JSON report to stdout, and exits 0 iff validation passed (with
// --strict, iff it passed without warnings).
func runValidateCommand(cmd *cobra.Command, args []string) {
	report, err := executeValidation(cmd.Context())
	if err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("validate: "+err.Error()))
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(report)

	fmt.Fprintln(os.Stderr, ux.Verdict(report.Passed, "validation"))
	for _, finding := range report.Findings {
		fmt.Fprintln(os.Stderr, ux.SeverityLine(string(finding.Severity), finding.Message))
	}

	passed := report.Passed
	if validateStrict {
		passed = report.PassedStrict()
	}
	if !passed {
		os.Exit(1)
	}
}

// executeValidation runs the main validator and, when an audience is
// configured, the audience validator, merging the findings into one
// report.
func executeValidation(ctx context.Context) (preflight.Report, error) {
	cfg, err := loadRunConfig()
	if err != nil {
		return preflight.Report{}, err
	}

	var (
		probe  preflight.EnvironmentProbe
		lister preflight.AudienceLister
	)
	if validateDryRun {
		probe = noopProbe{}
		lister = noopLister{}
	} else {
		client := adsapi.New(os.Getenv("ADS_API_BASE_URL"))
		probe = client
		lister = client
	}

	validator := preflight.NewValidator(safety.DefaultLimits(), probe, os.Getenv, time.Now)
	report := validator.Validate(ctx, cfg)

	if cfg.Audience != nil {
		audienceValidator := preflight.NewAudienceValidator(
			safety.DefaultLimits(), lister, enforceGDPR, validateStrict, time.Now)
		audienceReport := audienceValidator.Validate(ctx, cfg.Audience)

		merged := append(report.Findings, audienceReport.Findings...)
		report = preflight.NewReport(merged, report.GeneratedAt)

		for _, suggestion := range audienceReport.FixSuggestions {
			fmt.Fprintln(os.Stderr, ux.Styles.Muted.Render("  fix: "+suggestion))
		}
	}
	return report, nil
}

// loadRunConfig loads the YAML config and applies the --tenant override.
func loadRunConfig() (*config.RunConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if tenantOverride != "" {
		cfg.Tenant = tenantOverride
	}
	return cfg, nil
}
