// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakform/adcanary/cmd/adcanary/config"
	"github.com/peakform/adcanary/cmd/adcanary/internal/adsapi"
	"github.com/peakform/adcanary/cmd/adcanary/internal/report"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
)

// =============================================================================
// Test Fixtures
// =============================================================================

func testRunConfig() *config.RunConfig {
	return &config.RunConfig{
		Tenant:      "acme",
		Campaign:    "Spring Sale",
		BudgetCaps:  []string{"5.00"},
		CPCCeilings: []string{"0.25"},
		Flags:       config.SafeFlagDefaults(),
	}
}

// fastOptions compresses the lifecycle so a full run takes well under a
// second.
func fastOptions() Options {
	return Options{
		ActiveDuration:   200 * time.Millisecond,
		CooldownDuration: 60 * time.Millisecond,
		ActiveInterval:   15 * time.Millisecond,
		CooldownInterval: 20 * time.Millisecond,
		SpendRepollDelay: 10 * time.Millisecond,
		OriginalBudget:   5.00,
		OriginalCPC:      0.25,
		OriginalSchedule: "weekdays 09:00",
	}
}

func promoteWrites(mock *adsapi.Mock) []adsapi.MutationCall {
	var out []adsapi.MutationCall
	for _, call := range mock.MutationCalls() {
		if call.Op == "set_config" && call.Key == config.PromoteFlagKey {
			out = append(out, call)
		}
	}
	return out
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestRun_CleanLifecycle(t *testing.T) {
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			return adsapi.Metrics{Spend: 1.00, AvgCPC: 0.10, CTR: 0.02, QualityScore: 7}, nil
		},
	}

	o := New(testRunConfig(), mock, fastOptions(), nil)
	final, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, safety.StateComplete, final.FinalState)
	assert.Equal(t, report.OutcomePromote, final.Outcome)
	assert.Empty(t, final.Firings)
	assert.Empty(t, final.Rollbacks)
	assert.Contains(t, final.Notes, "delayed spend re-poll clean")
	assert.Contains(t, final.Notes, "no active schedule window remains")

	// PROMOTE went on exactly once and came off at window close.
	writes := promoteWrites(mock)
	require.NotEmpty(t, writes)
	assert.True(t, writes[0].Value, "first promote write must enable the flag")
	assert.False(t, writes[len(writes)-1].Value, "last promote write must disable the flag")
	assert.False(t, mock.Flag(config.PromoteFlagKey))
}

func TestRun_BudgetBreachAborts(t *testing.T) {
	var calls atomic.Int64
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			// Baseline fetch is clean; every monitor poll sees a breach.
			if calls.Add(1) == 1 {
				return adsapi.Metrics{Spend: 0.50, CTR: 0.02, QualityScore: 7}, nil
			}
			return adsapi.Metrics{Spend: 6.00, CTR: 0.02, QualityScore: 7}, nil
		},
	}

	o := New(testRunConfig(), mock, fastOptions(), nil)
	final, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, safety.StateAborted, final.FinalState)
	assert.Equal(t, report.OutcomeRejected, final.Outcome)
	require.Len(t, final.Rollbacks, 1, "one breach must produce exactly one rollback")
	assert.Equal(t, safety.TriggerBudgetBreach, final.Rollbacks[0].Trigger)
	assert.Equal(t, safety.SeverityImmediate, final.Rollbacks[0].Severity)
	assert.False(t, mock.Flag(config.PromoteFlagKey))
}

func TestRun_ScheduledTriggerDefersReversal(t *testing.T) {
	var calls atomic.Int64
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			// Quality starts at 7 and slides to 4 after the baseline.
			if calls.Add(1) == 1 {
				return adsapi.Metrics{Spend: 0.50, CTR: 0.02, QualityScore: 7}, nil
			}
			return adsapi.Metrics{Spend: 0.60, CTR: 0.02, QualityScore: 4}, nil
		},
	}

	o := New(testRunConfig(), mock, fastOptions(), nil)
	final, err := o.Run(context.Background())
	require.NoError(t, err)

	// The run rides out its window despite the scheduled firing.
	assert.Equal(t, safety.StateComplete, final.FinalState)
	assert.Equal(t, report.OutcomeRejected, final.Outcome)

	require.GreaterOrEqual(t, len(final.Rollbacks), 2)
	assert.Equal(t, safety.SeverityScheduled, final.Rollbacks[0].Severity)
	assert.Equal(t, safety.SeverityUrgent, final.Rollbacks[1].Severity, "deferred reversal runs at window close")
	assert.False(t, mock.Flag(config.PromoteFlagKey))
}

func TestRun_ManualRollbackAborts(t *testing.T) {
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			return adsapi.Metrics{Spend: 1.00, CTR: 0.02, QualityScore: 7}, nil
		},
	}

	opts := fastOptions()
	opts.ActiveDuration = 2 * time.Second // long enough to interrupt
	o := New(testRunConfig(), mock, opts, nil)

	done := make(chan report.FinalReport, 1)
	go func() {
		final, _ := o.Run(context.Background())
		done <- final
	}()

	require.Eventually(t, func() bool {
		return o.State() == safety.StateActive
	}, time.Second, 5*time.Millisecond)

	record, err := o.ManualRollback(context.Background(), "operator said stop")
	require.NoError(t, err)
	assert.Equal(t, safety.TriggerManual, record.Trigger)

	final := <-done
	assert.Equal(t, safety.StateAborted, final.FinalState)
	assert.Equal(t, report.OutcomeRejected, final.Outcome)
	assert.False(t, mock.Flag(config.PromoteFlagKey))
}

func TestRun_ManualRollbackAfterFinishFails(t *testing.T) {
	mock := &adsapi.Mock{}
	o := New(testRunConfig(), mock, fastOptions(), nil)
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	_, err = o.ManualRollback(context.Background(), "too late")
	assert.Error(t, err)
}

func TestRun_CancellationUnwinds(t *testing.T) {
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			return adsapi.Metrics{Spend: 1.00, CTR: 0.02, QualityScore: 7}, nil
		},
	}

	opts := fastOptions()
	opts.ActiveDuration = 2 * time.Second
	o := New(testRunConfig(), mock, opts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan report.FinalReport, 1)
	go func() {
		final, _ := o.Run(ctx)
		done <- final
	}()

	require.Eventually(t, func() bool {
		return o.State() == safety.StateActive
	}, time.Second, 5*time.Millisecond)
	cancel()

	final := <-done
	assert.Equal(t, safety.StateAborted, final.FinalState)
	require.NotEmpty(t, final.Rollbacks, "cancellation must still unwind the canary")
	assert.False(t, mock.Flag(config.PromoteFlagKey))
}

func TestRun_MonitorPanicRollsBackUrgent(t *testing.T) {
	var calls atomic.Int64
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			// Baseline fetch succeeds; every later poll blows up.
			if calls.Add(1) == 1 {
				return adsapi.Metrics{Spend: 0.50, CTR: 0.02, QualityScore: 7}, nil
			}
			panic("metrics decoder blew up")
		},
	}

	o := New(testRunConfig(), mock, fastOptions(), nil)
	final, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, safety.StateAborted, final.FinalState)
	require.Len(t, final.Rollbacks, 1)
	assert.Equal(t, safety.TriggerManual, final.Rollbacks[0].Trigger)
	assert.Equal(t, safety.SeverityUrgent, final.Rollbacks[0].Severity,
		"a monitor failure unwinds at the urgent tier")
	assert.False(t, mock.Flag(config.PromoteFlagKey))
}

func TestRun_WaitsForPromoteWindowStart(t *testing.T) {
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			return adsapi.Metrics{Spend: 1.00, AvgCPC: 0.10, CTR: 0.02, QualityScore: 7}, nil
		},
	}

	cfg := testRunConfig()
	cfg.PromoteWindow.StartAt = time.Now().Add(250 * time.Millisecond)
	o := New(cfg, mock, fastOptions(), nil)

	done := make(chan report.FinalReport, 1)
	go func() {
		final, _ := o.Run(context.Background())
		done <- final
	}()

	// Well inside the wait: still preparing, PROMOTE untouched.
	time.Sleep(75 * time.Millisecond)
	assert.Equal(t, safety.StatePreparation, o.State(), "run must hold until the window opens")
	assert.Empty(t, promoteWrites(mock), "promote must stay off before start_at")

	final := <-done
	assert.Equal(t, safety.StateComplete, final.FinalState)
	writes := promoteWrites(mock)
	require.NotEmpty(t, writes)
	assert.True(t, writes[0].Value)
}

func TestRun_CancelDuringPromoteWaitNeverEnablesFlag(t *testing.T) {
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			return adsapi.Metrics{Spend: 1.00, CTR: 0.02, QualityScore: 7}, nil
		},
	}

	cfg := testRunConfig()
	cfg.PromoteWindow.StartAt = time.Now().Add(time.Hour)
	o := New(cfg, mock, fastOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	final, err := o.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, safety.StateAborted, final.FinalState)
	assert.Empty(t, promoteWrites(mock))
}

func TestRun_FailedBaselineAbortsBeforeMutating(t *testing.T) {
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			return adsapi.Metrics{}, context.DeadlineExceeded
		},
	}

	o := New(testRunConfig(), mock, fastOptions(), nil)
	final, err := o.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, safety.StateAborted, final.FinalState)
	assert.Empty(t, mock.MutationCalls(), "no mutations may happen without a baseline")
}

// =============================================================================
// State Machine
// =============================================================================

func TestState_StartsInPreparation(t *testing.T) {
	o := New(testRunConfig(), &adsapi.Mock{}, fastOptions(), nil)
	assert.Equal(t, safety.StatePreparation, o.State())
}

func TestHaltMonitoring_IsIdempotent(t *testing.T) {
	mock := &adsapi.Mock{}
	o := New(testRunConfig(), mock, fastOptions(), nil)
	_, err := o.Run(context.Background())
	require.NoError(t, err)

	before := len(o.History())
	o.haltMonitoring()
	o.haltMonitoring()
	assert.Equal(t, before, len(o.History()), "repeated stops must not add rollback records")
}
