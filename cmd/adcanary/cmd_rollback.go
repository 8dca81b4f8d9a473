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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/peakform/adcanary/cmd/adcanary/internal/adsapi"
	"github.com/peakform/adcanary/cmd/adcanary/internal/manager"
	"github.com/peakform/adcanary/cmd/adcanary/internal/rollback"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
	"github.com/peakform/adcanary/pkg/logging"
	"github.com/peakform/adcanary/pkg/ux"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	statusJSON   bool   // Raw JSON status output
	manualReason string // Audit reason for manual rollback
)

// =============================================================================
// STANDALONE MANAGER
// =============================================================================

// standaloneRun adapts a bare rollback executor to the manager's
// RunControl. Used when the manager is started without an orchestrated
// run: there is no lifecycle to report, only the ability to unwind.
type standaloneRun struct {
	id       string
	executor *rollback.Executor
}

func (s *standaloneRun) RunID() string          { return s.id }
func (s *standaloneRun) State() safety.RunState { return safety.StateActive }

func (s *standaloneRun) History() []rollback.Record {
	return s.executor.History().Records()
}

func (s *standaloneRun) ManualRollback(ctx context.Context, reason string) (rollback.Record, error) {
	return s.executor.ExecuteManual(ctx, reason), nil
}

// runRollbackStart serves a standalone rollback manager for the tenant
// in the config file. This covers the "the run process died but the
// canary is still live" situation: the standalone manager can still
// execute the urgent reversal from the config's original values.
func runRollbackStart(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{
		Level:   slog.LevelInfo,
		LogDir:  logDir,
		Service: "rollback-manager",
	})
	defer logger.Close()

	cfg, err := loadRunConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("rollback-manager: "+err.Error()))
		os.Exit(1)
	}

	budget, err := parseFirstAmount(cfg.BudgetCaps)
	if err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("rollback-manager: budget caps: "+err.Error()))
		os.Exit(1)
	}
	cpc, err := parseFirstAmount(cfg.CPCCeilings)
	if err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("rollback-manager: cpc ceilings: "+err.Error()))
		os.Exit(1)
	}

	lock := manager.NewRunLock(lockDir, cfg.Tenant)
	if err := lock.Acquire(); err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("rollback-manager: "+err.Error()))
		os.Exit(1)
	}
	defer lock.Release()

	backend := adsapi.New(os.Getenv("ADS_API_BASE_URL"), adsapi.WithLogger(logger))
	baseline := safety.Baseline{DailyBudget: budget, CPCCeiling: cpc}
	executor := rollback.NewExecutor(backend, cfg.Tenant, baseline, cfg.Schedule.StartExpr, nil, nil, logger)

	run := &standaloneRun{id: "standalone-" + uuid.NewString(), executor: executor}
	srv := manager.NewServer(managerAddr, run, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("rollback-manager: "+err.Error()))
		os.Exit(1)
	}
}

// =============================================================================
// CLIENT COMMANDS
// =============================================================================

func runRollbackStop(cmd *cobra.Command, args []string) {
	client := manager.NewClient(managerAddr)
	if err := client.Stop(cmd.Context()); err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("stop: "+err.Error()))
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, ux.Styles.Success.Render("rollback manager stopping"))
}

func runRollbackStatus(cmd *cobra.Command, args []string) {
	client := manager.NewClient(managerAddr)
	status, err := client.Status(cmd.Context())
	if err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("status: "+err.Error()))
		os.Exit(1)
	}

	if statusJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(status)
		return
	}

	fmt.Println(ux.Styles.Title.Render("run " + status.RunID))
	fmt.Println(ux.StateLine(string(status.State)))
	if len(status.Rollbacks) == 0 {
		fmt.Println(ux.Styles.Muted.Render("no rollbacks executed"))
		return
	}
	for _, record := range status.Rollbacks {
		line := fmt.Sprintf("%s %s (%s)", record.StartedAt.Format("15:04:05"), record.Trigger, record.Severity)
		if !record.Complete {
			line += " INCOMPLETE"
		}
		fmt.Println(ux.SeverityLine(record.Severity.String(), line))
	}
}

func runRollbackManual(cmd *cobra.Command, args []string) {
	client := manager.NewClient(managerAddr)
	record, err := client.ManualRollback(cmd.Context(), manualReason)
	if err != nil {
		fmt.Fprintln(os.Stderr, ux.Styles.Error.Render("manual-rollback: "+err.Error()))
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(record)
	fmt.Fprintln(os.Stderr, ux.Verdict(record.Complete, "manual rollback"))
}
