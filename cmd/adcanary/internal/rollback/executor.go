// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rollback reverses a canary's changes when a safety trigger
// fires.
//
// Reversal is compensation, not a transaction: each severity tier maps
// to a fixed sequence of steps, every step is attempted even when an
// earlier one fails, and the record of what actually happened is the
// deliverable. The one ordering guarantee is absolute: the PROMOTE flag
// is disabled first in every tier, so no later failure can leave the
// automation live.
package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/peakform/adcanary/cmd/adcanary/config"
	"github.com/peakform/adcanary/cmd/adcanary/internal/adsapi"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
	"github.com/peakform/adcanary/pkg/logging"
)

// stepTimeout bounds each reversal step so one hung backend call cannot
// stall the steps behind it.
const stepTimeout = 15 * time.Second

var rollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "adcanary",
	Name:      "rollbacks_total",
	Help:      "Rollback executions by trigger and severity.",
}, []string{"trigger", "severity"})

var rollbackStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "adcanary",
	Name:      "rollback_step_failures_total",
	Help:      "Individual reversal steps that failed.",
}, []string{"step"})

var rollbackDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "adcanary",
	Name:      "rollback_duration_seconds",
	Help:      "Wall time of full rollback executions.",
	Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
})

// =============================================================================
// Executor
// =============================================================================

// step is one reversal action. All steps are best-effort.
type step struct {
	name string
	run  func(ctx context.Context) error
}

// Executor reverses canary changes against the backend.
//
// # Description
//
// Execute picks the step sequence for the firing's severity tier, runs
// every step in order regardless of individual failures, appends the
// audit record to the history, and returns the record. It never returns
// an error: a failed reversal step is a fact for the record and the
// operator, not a reason to stop reversing.
//
// # Thread Safety
//
// Execute serializes through the history's lock only at append time;
// concurrent Execute calls are legal but the orchestrator never issues
// them (one rollback ends the run).
type Executor struct {
	backend adsapi.Backend
	tenant  string
	logger  *logging.Logger
	history *History
	now     func() time.Time

	// baseline carries the original values the reversal restores.
	baseline safety.Baseline

	// originalSchedule is the pre-run schedule expression.
	originalSchedule string

	// stopMonitor halts the monitoring loop. Must be idempotent; the
	// IMMEDIATE tier calls it as its final step and the orchestrator
	// calls it again on shutdown.
	stopMonitor func()
}

// NewExecutor constructs an Executor bound to one run's baseline.
func NewExecutor(backend adsapi.Backend, tenant string, baseline safety.Baseline, originalSchedule string, history *History, stopMonitor func(), logger *logging.Logger) *Executor {
	if history == nil {
		history = &History{}
	}
	if stopMonitor == nil {
		stopMonitor = func() {}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Executor{
		backend:          backend,
		tenant:           tenant,
		baseline:         baseline,
		originalSchedule: originalSchedule,
		history:          history,
		stopMonitor:      stopMonitor,
		logger:           logger,
		now:              time.Now,
	}
}

// History returns the executor's append-only record log.
func (e *Executor) History() *History {
	return e.history
}

// Execute reverses the canary for the given trigger at the given
// severity and returns the audit record.
func (e *Executor) Execute(ctx context.Context, trigger safety.TriggerName, severity safety.Severity, reason string) Record {
	started := e.now()
	e.logger.Warn("rollback starting",
		"trigger", string(trigger), "severity", severity.String(), "reason", reason)
	rollbacksTotal.WithLabelValues(string(trigger), severity.String()).Inc()

	steps := e.stepsFor(trigger, severity, reason)
	results := make([]StepResult, 0, len(steps))
	complete := true

	for _, s := range steps {
		stepStart := e.now()
		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		err := s.run(stepCtx)
		cancel()

		result := StepResult{Name: s.name, OK: err == nil, Duration: e.now().Sub(stepStart)}
		if err != nil {
			result.Error = err.Error()
			complete = false
			rollbackStepFailures.WithLabelValues(s.name).Inc()
			e.logger.Error("rollback step failed", "step", s.name, "error", err)
		} else {
			e.logger.Info("rollback step done", "step", s.name)
		}
		results = append(results, result)
	}

	record := Record{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Severity:  severity,
		Reason:    reason,
		StartedAt: started,
		EndedAt:   e.now(),
		Steps:     results,
		Complete:  complete,
	}
	e.history.Append(record)
	rollbackDuration.Observe(record.EndedAt.Sub(record.StartedAt).Seconds())

	if complete {
		e.logger.Info("rollback complete", "trigger", string(trigger), "steps", len(results))
	} else {
		e.logger.Error("rollback finished with failed steps; manual cleanup required",
			"trigger", string(trigger), "record_id", record.ID)
	}
	return record
}

// ExecuteManual runs an operator-initiated rollback. Manual requests
// get the URGENT bundle: full reversal, but no campaign pause, since the
// operator asked to unwind the canary, not to stop the campaign.
func (e *Executor) ExecuteManual(ctx context.Context, reason string) Record {
	if reason == "" {
		reason = "manual rollback requested"
	}
	return e.Execute(ctx, safety.TriggerManual, safety.SeverityUrgent, reason)
}

// stepsFor maps a firing to its reversal sequence. Disabling PROMOTE is
// always the first step of every tier.
func (e *Executor) stepsFor(trigger safety.TriggerName, severity safety.Severity, reason string) []step {
	disablePromote := step{
		name: "disable promote flag",
		run: func(ctx context.Context) error {
			return e.backend.SetConfigFlag(ctx, e.tenant, config.PromoteFlagKey, false, reason)
		},
	}
	pauseCampaign := step{
		name: "pause campaign",
		run: func(ctx context.Context) error {
			return e.backend.PauseCampaign(ctx, e.tenant, reason)
		},
	}
	clearAudience := step{
		name: "clear audience",
		run: func(ctx context.Context) error {
			return e.backend.ClearAudience(ctx, e.tenant, reason)
		},
	}

	switch severity {
	case safety.SeverityImmediate:
		return []step{
			disablePromote,
			pauseCampaign,
			clearAudience,
			{
				name: "stop monitoring",
				run: func(ctx context.Context) error {
					e.stopMonitor()
					return nil
				},
			},
		}

	case safety.SeverityUrgent:
		steps := []step{
			disablePromote,
			{
				name: "reset budget",
				run: func(ctx context.Context) error {
					return e.backend.ResetBudget(ctx, e.tenant, e.baseline.DailyBudget, reason)
				},
			},
			clearAudience,
			{
				name: "reset schedule",
				run: func(ctx context.Context) error {
					return e.backend.ResetSchedule(ctx, e.tenant, e.originalSchedule, reason)
				},
			},
		}
		// An error flood means the campaign itself is misbehaving, not
		// just the canary's settings; stop it serving.
		if trigger == safety.TriggerErrorFlood {
			steps = append(steps, pauseCampaign)
		}
		return steps

	case safety.SeverityScheduled:
		// Only the live switch comes off now; the remaining reversal
		// rides out the window and happens in cooldown.
		return []step{disablePromote}
	}

	// Unknown severities get the most conservative treatment.
	e.logger.Error("unknown rollback severity, treating as immediate", "severity", fmt.Sprint(severity))
	return e.stepsFor(trigger, safety.SeverityImmediate, reason)
}
