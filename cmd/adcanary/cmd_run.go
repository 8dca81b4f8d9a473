// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/peakform/adcanary/cmd/adcanary/config"
	"github.com/peakform/adcanary/cmd/adcanary/internal/adsapi"
	"github.com/peakform/adcanary/cmd/adcanary/internal/manager"
	"github.com/peakform/adcanary/cmd/adcanary/internal/orchestrator"
	"github.com/peakform/adcanary/cmd/adcanary/internal/report"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
	"github.com/peakform/adcanary/pkg/logging"
	"github.com/peakform/adcanary/pkg/ux"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

const defaultReportDir = "reports"

var (
	runStrict        bool          // Refuse to start on validation warnings
	reportDir        string        // Where final reports land
	managerAddr      string        // Rollback manager listen/target address
	lockDir          string        // Per-tenant lock directory
	cooldownDuration time.Duration // Override for the cooldown phase
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runRunCommand executes the full canary lifecycle:
//
//  1. pre-flight validation (same gates as the validate command)
//  2. per-tenant run lock
//  3. rollback manager daemon alongside the run
//  4. orchestrated Preparation -> Active -> Cooldown -> Complete
//  5. durable final report, echoed as JSON on stdout
//
// Exit code 0 means the run completed and the change may graduate;
// anything else means it must not.
func runRunCommand(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{
		Level:   slog.LevelInfo,
		LogDir:  logDir,
		Service: "adcanary",
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Gate: a run starts only through a passing validation.
	validation, err := executeValidation(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("run: "+err.Error()))
		os.Exit(1)
	}
	passed := validation.Passed
	if runStrict {
		passed = validation.PassedStrict()
	}
	if !passed {
		fmt.Fprintln(os.Stderr, ux.Verdict(false, "pre-flight validation"))
		for _, finding := range validation.Findings {
			fmt.Fprintln(os.Stderr, ux.SeverityLine(string(finding.Severity), finding.Message))
		}
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, ux.Verdict(true, "pre-flight validation"))

	cfg, err := loadRunConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("run: "+err.Error()))
		os.Exit(1)
	}

	lock := manager.NewRunLock(lockDir, cfg.Tenant)
	if err := lock.Acquire(); err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("run: "+err.Error()))
		os.Exit(1)
	}
	defer lock.Release()

	backend := adsapi.New(os.Getenv("ADS_API_BASE_URL"), adsapi.WithLogger(logger))

	opts, err := orchestratorOptions(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("run: "+err.Error()))
		os.Exit(1)
	}
	orch := orchestrator.New(cfg, backend, opts, logger)

	// The manager daemon lives for the duration of the run.
	srv := manager.NewServer(managerAddr, orch, logger)
	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		if err := srv.Serve(ctx); err != nil {
			logger.Warn("rollback manager exited", "error", err)
		}
	}()

	final, runErr := orch.Run(ctx)
	stop() // release signal handling; also ends the manager
	<-managerDone

	writer, err := report.NewWriter(reportDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("run: "+err.Error()))
	} else if path, err := writer.Write(final); err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("run: persist report: "+err.Error()))
	} else {
		fmt.Fprintln(os.Stderr, ux.Styles.Muted.Render("report: "+path))
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(final)

	fmt.Fprintln(os.Stderr, ux.StateLine(string(final.FinalState)))
	fmt.Fprintln(os.Stderr, ux.Verdict(final.Outcome == report.OutcomePromote, "canary run"))

	if runErr != nil || final.FinalState == safety.StateAborted || final.Outcome == report.OutcomeRejected {
		os.Exit(1)
	}
}

// orchestratorOptions derives the run parameters from the validated
// config: the first budget cap and CPC ceiling are the originals the
// rollback restores, and the promote window sets the active duration.
func orchestratorOptions(cfg *config.RunConfig) (orchestrator.Options, error) {
	budget, err := parseFirstAmount(cfg.BudgetCaps)
	if err != nil {
		return orchestrator.Options{}, fmt.Errorf("budget caps: %w", err)
	}
	cpc, err := parseFirstAmount(cfg.CPCCeilings)
	if err != nil {
		return orchestrator.Options{}, fmt.Errorf("cpc ceilings: %w", err)
	}

	return orchestrator.Options{
		ActiveDuration:   time.Duration(cfg.PromoteWindow.DurationMinutes) * time.Minute,
		CooldownDuration: cooldownDuration,
		OriginalBudget:   budget,
		OriginalCPC:      cpc,
		OriginalSchedule: cfg.Schedule.StartExpr,
	}, nil
}

func parseFirstAmount(amounts []string) (float64, error) {
	if len(amounts) == 0 {
		return 0, fmt.Errorf("no amounts configured")
	}
	return config.ParseAmount(amounts[0])
}
