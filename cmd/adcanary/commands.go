// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	tenantOverride string
	configPath     string
	logDir         string

	rootCmd = &cobra.Command{
		Use:   "adcanary",
		Short: "A safety harness for canary runs of advertising automation",
		Long: `adcanary wraps one campaign change in a validated, time-boxed,
continuously monitored canary window and reverses it automatically
when a safety threshold trips.`,
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Run pre-flight validation against a run config",
		Run:   runValidateCommand, // Defined in cmd_validate.go
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Execute a full canary run (validate, activate, monitor, report)",
		Run:   runRunCommand, // Defined in cmd_run.go
	}

	// --- Rollback Manager ---
	rollbackManagerCmd = &cobra.Command{
		Use:   "rollback-manager",
		Short: "Control the rollback-manager daemon for an in-flight run",
	}
	rollbackStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start a standalone rollback manager for a tenant",
		Run:   runRollbackStart, // Defined in cmd_rollback.go
	}
	rollbackStopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the rollback-manager daemon",
		Run:   runRollbackStop, // Defined in cmd_rollback.go
	}
	rollbackStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the state and rollback history of the current run",
		Run:   runRollbackStatus, // Defined in cmd_rollback.go
	}
	rollbackManualCmd = &cobra.Command{
		Use:   "manual-rollback",
		Short: "Ask the manager to unwind the current run now",
		Run:   runRollbackManual, // Defined in cmd_rollback.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&tenantOverride, "tenant", "",
		"Tenant identifier (overrides the config file value)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "",
		"Directory for JSON log files (default: stderr only)")

	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to the run config YAML (required)")
	validateCmd.MarkFlagRequired("config")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false,
		"Treat warnings as blocking")
	validateCmd.Flags().BoolVar(&validateDryRun, "dry-run", false,
		"Skip backend checks; validate config shape only")
	validateCmd.Flags().BoolVar(&enforceGDPR, "gdpr", false,
		"Enforce GDPR consent checks on audience configs")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to the run config YAML (required)")
	runCmd.MarkFlagRequired("config")
	runCmd.Flags().BoolVar(&runStrict, "strict", false,
		"Refuse to start if validation produced warnings")
	runCmd.Flags().BoolVar(&enforceGDPR, "gdpr", false,
		"Enforce GDPR consent checks on audience configs")
	runCmd.Flags().StringVar(&reportDir, "report-dir", defaultReportDir,
		"Directory for final report files")
	runCmd.Flags().StringVar(&managerAddr, "manager-addr", "",
		"Listen address for the rollback manager (default 127.0.0.1:8412)")
	runCmd.Flags().StringVar(&lockDir, "lock-dir", "",
		"Directory for per-tenant run locks (default: system temp)")
	runCmd.Flags().DurationVar(&cooldownDuration, "cooldown", 0,
		"Cooldown duration after the window closes (default 5m)")

	rootCmd.AddCommand(rollbackManagerCmd)
	rollbackManagerCmd.AddCommand(rollbackStartCmd)
	rollbackStartCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to the run config YAML (required)")
	rollbackStartCmd.MarkFlagRequired("config")
	rollbackStartCmd.Flags().StringVar(&managerAddr, "addr", "",
		"Listen address (default 127.0.0.1:8412)")
	rollbackStartCmd.Flags().StringVar(&lockDir, "lock-dir", "",
		"Directory for per-tenant run locks (default: system temp)")

	rollbackManagerCmd.AddCommand(rollbackStopCmd)
	rollbackStopCmd.Flags().StringVar(&managerAddr, "addr", "",
		"Manager address (default 127.0.0.1:8412)")

	rollbackManagerCmd.AddCommand(rollbackStatusCmd)
	rollbackStatusCmd.Flags().StringVar(&managerAddr, "addr", "",
		"Manager address (default 127.0.0.1:8412)")
	rollbackStatusCmd.Flags().BoolVar(&statusJSON, "json", false,
		"Emit the raw status JSON instead of the styled view")

	rollbackManagerCmd.AddCommand(rollbackManualCmd)
	rollbackManualCmd.Flags().StringVar(&managerAddr, "addr", "",
		"Manager address (default 127.0.0.1:8412)")
	rollbackManualCmd.Flags().StringVar(&manualReason, "reason", "",
		"Audit reason recorded with the rollback")
}
