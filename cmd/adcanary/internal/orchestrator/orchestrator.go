// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator drives a canary run through its lifecycle:
// Preparation -> Active -> Cooldown -> Complete, or Aborted from any of
// them.
//
// The orchestrator is the only component that ever enables the PROMOTE
// flag, and it pairs that privilege with the obligation to prove the
// flag is off again before the run can complete. Monitoring runs in its
// own goroutine; a tripped trigger hands control to the rollback
// executor and, for the urgent tiers, ends the run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/peakform/adcanary/cmd/adcanary/config"
	"github.com/peakform/adcanary/cmd/adcanary/internal/adsapi"
	"github.com/peakform/adcanary/cmd/adcanary/internal/probe"
	"github.com/peakform/adcanary/cmd/adcanary/internal/report"
	"github.com/peakform/adcanary/cmd/adcanary/internal/rollback"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
	"github.com/peakform/adcanary/cmd/adcanary/internal/triggers"
	"github.com/peakform/adcanary/pkg/logging"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	monitorCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adcanary",
		Name:      "monitor_cycles_total",
		Help:      "Completed monitoring evaluations.",
	})

	triggerFirings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adcanary",
		Name:      "trigger_firings_total",
		Help:      "Safety trigger firings by trigger name.",
	}, []string{"trigger"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adcanary",
		Name:      "runs_total",
		Help:      "Finished canary runs by outcome.",
	}, []string{"outcome"})

	runStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "adcanary",
		Name:      "run_state",
		Help:      "Current lifecycle state of the run (1 for the active state).",
	}, []string{"state"})
)

// =============================================================================
// Configuration
// =============================================================================

// Options holds the run parameters the orchestrator needs beyond the
// validated RunConfig. Interval fields exist so tests can compress time;
// zero values take the production defaults.
type Options struct {
	// RunID is generated when empty.
	RunID string

	// ActiveDuration is the length of the live window.
	ActiveDuration time.Duration

	// CooldownDuration is how long to keep watching after the window
	// closes. Default 5 minutes.
	CooldownDuration time.Duration

	// ActiveInterval is the monitor cadence during the live window.
	// Default 15 seconds.
	ActiveInterval time.Duration

	// CooldownInterval is the monitor cadence during cooldown.
	// Default 30 seconds.
	CooldownInterval time.Duration

	// SpendRepollDelay is the wait before the final spend re-poll that
	// catches late spend attribution. Default 2 minutes.
	SpendRepollDelay time.Duration

	// OriginalBudget and OriginalCPC are the pre-run values the rollback
	// executor restores.
	OriginalBudget float64
	OriginalCPC    float64

	// OriginalSchedule is the pre-run schedule expression.
	OriginalSchedule string
}

func (o *Options) applyDefaults() {
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.CooldownDuration <= 0 {
		o.CooldownDuration = 5 * time.Minute
	}
	if o.ActiveInterval <= 0 {
		o.ActiveInterval = 15 * time.Second
	}
	if o.CooldownInterval <= 0 {
		o.CooldownInterval = 30 * time.Second
	}
	if o.SpendRepollDelay <= 0 {
		o.SpendRepollDelay = 2 * time.Minute
	}
}

// errRunAborted ends the monitor group when a rollback kills the run.
var errRunAborted = errors.New("run aborted")

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator owns one canary run from baseline capture to final report.
//
// # Thread Safety
//
// State, firings, and notes are mutex-guarded: the monitor goroutine,
// the phase timer, and the manager's status reads all touch them. Run
// itself must only be called once per Orchestrator.
type Orchestrator struct {
	cfg     *config.RunConfig
	opts    Options
	backend adsapi.Backend
	probe   *probe.MetricsProbe
	logger  *logging.Logger

	mu       sync.Mutex
	state    safety.RunState
	firings  []triggers.Firing
	notes    []string
	executor *rollback.Executor
	aborted  bool

	// scheduledPending marks that a SCHEDULED trigger disabled the
	// promote flag mid-window and the rest of the reversal is owed at
	// cooldown entry. scheduledReversed marks that debt paid; neither
	// ever resets, so a scheduled trigger rolls back exactly once.
	scheduledPending  bool
	scheduledReversed bool

	stopOnce    sync.Once
	stopMonitor context.CancelFunc
}

// New constructs an orchestrator for a validated run config.
func New(cfg *config.RunConfig, backend adsapi.Backend, opts Options, logger *logging.Logger) *Orchestrator {
	opts.applyDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		opts:    opts,
		backend: backend,
		probe:   probe.NewMetricsProbe(backend, cfg.Tenant, logger),
		logger:  logger.With("run_id", opts.RunID, "tenant", cfg.Tenant),
		state:   safety.StatePreparation,
	}
}

// State returns the current lifecycle phase.
func (o *Orchestrator) State() safety.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// RunID returns the run identifier.
func (o *Orchestrator) RunID() string {
	return o.opts.RunID
}

// History returns the rollback audit trail, which is empty until the
// run enters its active window.
func (o *Orchestrator) History() []rollback.Record {
	o.mu.Lock()
	executor := o.executor
	o.mu.Unlock()
	if executor == nil {
		return nil
	}
	return executor.History().Records()
}

// ManualRollback unwinds the run on operator request and aborts it.
// Returns an error if the run is not in a phase where rollback applies.
func (o *Orchestrator) ManualRollback(ctx context.Context, reason string) (rollback.Record, error) {
	o.mu.Lock()
	executor := o.executor
	state := o.state
	o.mu.Unlock()

	if executor == nil || state.Terminal() {
		return rollback.Record{}, fmt.Errorf("no active run to roll back (state %s)", state)
	}
	record := executor.ExecuteManual(ctx, reason)
	o.abort("manual rollback")
	return record, nil
}

// =============================================================================
// Run Lifecycle
// =============================================================================

// Run executes the full lifecycle and returns the final report. The
// report is returned even on error so the caller can persist what
// happened.
func (o *Orchestrator) Run(ctx context.Context) (report.FinalReport, error) {
	started := time.Now()
	o.logger.Info("canary run starting", "campaign", o.cfg.Campaign)

	baseline, err := o.probe.Baseline(ctx, o.opts.OriginalBudget, o.opts.OriginalCPC)
	if err != nil {
		o.setState(safety.StateAborted)
		return o.finalReport(started, baseline), fmt.Errorf("preparation failed: %w", err)
	}

	monitorCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.stopMonitor = cancel
	o.executor = rollback.NewExecutor(o.backend, o.cfg.Tenant, baseline, o.opts.OriginalSchedule,
		nil, o.haltMonitoring, o.logger)
	o.mu.Unlock()

	// Hold in Preparation until the configured window opens.
	if wait := time.Until(o.cfg.PromoteWindow.StartAt); wait > 0 {
		o.logger.Info("waiting for promote window to open",
			"start_at", o.cfg.PromoteWindow.StartAt, "wait", wait.Round(time.Millisecond).String())
		select {
		case <-ctx.Done():
			o.setState(safety.StateAborted)
			return o.finalReport(started, baseline), fmt.Errorf("cancelled before promote window opened: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	// The one place in the codebase that turns PROMOTE on.
	if err := o.backend.SetConfigFlag(ctx, o.cfg.Tenant, config.PromoteFlagKey, true, "canary active window open"); err != nil {
		o.setState(safety.StateAborted)
		return o.finalReport(started, baseline), fmt.Errorf("enable promote flag: %w", err)
	}

	o.setState(safety.StateActive)
	windowStart := time.Now()

	g, gctx := errgroup.WithContext(monitorCtx)
	g.Go(func() error {
		return o.monitor(gctx, baseline, windowStart)
	})
	g.Go(func() error {
		return o.phaseTimer(gctx)
	})

	groupErr := g.Wait()
	o.haltMonitoring()

	switch {
	case errors.Is(groupErr, errRunAborted) || o.isAborted():
		o.setState(safety.StateAborted)
	case groupErr != nil && ctx.Err() != nil:
		// External cancellation: unwind before leaving.
		o.logger.Warn("run cancelled, unwinding")
		o.rollbackLocked(context.WithoutCancel(ctx), safety.TriggerManual, safety.SeverityUrgent, "run cancelled")
		o.setState(safety.StateAborted)
	default:
		o.finishCooldown(ctx, baseline, windowStart)
	}

	final := o.finalReport(started, baseline)
	runsTotal.WithLabelValues(string(final.Outcome)).Inc()
	o.logger.Info("canary run finished", "state", string(final.FinalState), "outcome", string(final.Outcome))
	return final, nil
}

// phaseTimer advances Active -> Cooldown on schedule and ends the
// monitoring group when cooldown expires.
func (o *Orchestrator) phaseTimer(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(o.opts.ActiveDuration):
	}

	o.enterCooldown(ctx)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(o.opts.CooldownDuration):
	}

	// Natural end of the run; stop the monitor goroutine.
	o.stopOnceFunc()
	return nil
}

// enterCooldown transitions the state and performs the promote-flag
// read-back: the window is only considered closed once the backend
// confirms PROMOTE is off.
func (o *Orchestrator) enterCooldown(ctx context.Context) {
	o.setState(safety.StateCooldown)

	if err := o.backend.SetConfigFlag(ctx, o.cfg.Tenant, config.PromoteFlagKey, false, "canary window closed"); err != nil {
		o.logger.Error("failed to disable promote flag at window close", "error", err)
		o.note("promote flag disable failed at window close: " + err.Error())
	}

	on, err := o.backend.GetConfigFlag(ctx, o.cfg.Tenant, config.PromoteFlagKey)
	switch {
	case err != nil:
		o.logger.Error("promote flag read-back failed", "error", err)
		o.note("promote flag read-back failed: " + err.Error())
	case on:
		o.logger.Error("promote flag still enabled after disable; forcing again")
		o.note("promote flag required a second disable at window close")
		if err := o.backend.SetConfigFlag(ctx, o.cfg.Tenant, config.PromoteFlagKey, false, "canary window closed (retry)"); err != nil {
			o.note("second promote flag disable also failed: " + err.Error())
		}
	}

	// A scheduled trigger during the window deferred its reversal to
	// this moment.
	o.mu.Lock()
	pending := o.scheduledPending && !o.scheduledReversed
	if pending {
		o.scheduledReversed = true
	}
	executor := o.executor
	o.mu.Unlock()
	if pending && executor != nil {
		o.logger.Info("running deferred reversal for scheduled trigger")
		executor.Execute(ctx, safety.TriggerQualityScoreDrop, safety.SeverityUrgent, "deferred reversal at window close")
	}
}

// monitor polls metrics on the phase-appropriate cadence and reacts to
// trigger firings. A panic here must not leave the canary live, so the
// recovery path runs an urgent rollback before ending the run.
func (o *Orchestrator) monitor(ctx context.Context, baseline safety.Baseline, windowStart time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("monitor panicked, rolling back", "panic", fmt.Sprint(r))
			o.rollbackLocked(context.WithoutCancel(ctx), safety.TriggerManual, safety.SeverityUrgent,
				fmt.Sprintf("monitor failure: %v", r))
			o.abort("monitor failure")
			err = errRunAborted
		}
	}()

	for {
		interval := o.opts.ActiveInterval
		if o.State() == safety.StateCooldown {
			interval = o.opts.CooldownInterval
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		snapshot, err := o.probe.Snapshot(ctx)
		if err != nil {
			// Only possible before the first successful fetch, and the
			// baseline already succeeded, so treat it as transient.
			o.logger.Warn("monitor snapshot failed", "error", err)
			continue
		}
		monitorCycles.Inc()

		firings := triggers.Evaluate(baseline, snapshot, windowStart, time.Now())
		if len(firings) == 0 {
			continue
		}
		o.recordFirings(firings)

		worst, _ := triggers.Worst(firings)
		o.logger.Warn("safety trigger fired",
			"trigger", string(worst.Trigger), "severity", worst.Severity.String(), "reason", worst.Reason)

		if worst.Severity == safety.SeverityScheduled {
			// Kill the switch now, finish the reversal at window close,
			// keep observing.
			o.mu.Lock()
			alreadyPending := o.scheduledPending
			o.scheduledPending = true
			executor := o.executor
			o.mu.Unlock()
			if !alreadyPending && executor != nil {
				executor.Execute(ctx, worst.Trigger, worst.Severity, worst.Reason)
			}
			continue
		}

		// Mark the abort before returning: the phase timer may observe the
		// group cancellation first, and its context error must not be
		// mistaken for a natural end of the run.
		o.rollbackLocked(ctx, worst.Trigger, worst.Severity, worst.Reason)
		o.abort(worst.Reason)
		return errRunAborted
	}
}

// finishCooldown runs the delayed spend re-poll and closes out the run.
// Late spend attribution is the classic way a canary "passes" and then
// blows its budget five minutes later.
func (o *Orchestrator) finishCooldown(ctx context.Context, baseline safety.Baseline, windowStart time.Time) {
	select {
	case <-ctx.Done():
	case <-time.After(o.opts.SpendRepollDelay):
	}

	snapshot, err := o.probe.Snapshot(ctx)
	if err != nil {
		o.note("delayed spend re-poll failed: " + err.Error())
	} else {
		// Only the budget matters here; pace and performance rules are
		// meaningless after the window.
		breached := false
		for _, f := range triggers.Evaluate(baseline, snapshot, windowStart, time.Now()) {
			if f.Trigger == safety.TriggerBudgetBreach {
				o.recordFirings([]triggers.Firing{f})
				o.note("late spend attribution breached the budget after the window closed")
				o.rollbackLocked(ctx, f.Trigger, f.Severity, f.Reason)
				breached = true
			}
		}
		if breached {
			o.setState(safety.StateAborted)
			return
		}
		o.note("delayed spend re-poll clean")
	}

	// The ads backend exposes no schedule read endpoint, so "no active
	// window remains" is asserted against the run's own clock rather
	// than confirmed remotely.
	if remaining := time.Until(windowStart.Add(o.opts.ActiveDuration)); remaining > 0 {
		o.note(fmt.Sprintf("schedule window still open at cooldown close (%s remaining)", remaining.Round(time.Second)))
	} else {
		o.note("no active schedule window remains")
	}

	o.setState(safety.StateComplete)
}

// =============================================================================
// Internals
// =============================================================================

func (o *Orchestrator) setState(next safety.RunState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == next {
		return
	}
	if !o.state.CanTransitionTo(next) {
		// Illegal transitions indicate a lifecycle bug; log loudly and
		// refuse rather than corrupt the state machine.
		o.logger.Error("illegal state transition refused", "from", string(o.state), "to", string(next))
		return
	}
	o.logger.Info("state transition", "from", string(o.state), "to", string(next))
	runStateGauge.WithLabelValues(string(o.state)).Set(0)
	runStateGauge.WithLabelValues(string(next)).Set(1)
	o.state = next
}

func (o *Orchestrator) recordFirings(firings []triggers.Firing) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, f := range firings {
		triggerFirings.WithLabelValues(string(f.Trigger)).Inc()
		o.firings = append(o.firings, f)
	}
}

func (o *Orchestrator) rollbackLocked(ctx context.Context, trigger safety.TriggerName, severity safety.Severity, reason string) {
	o.mu.Lock()
	executor := o.executor
	o.mu.Unlock()
	if executor != nil {
		executor.Execute(ctx, trigger, severity, reason)
	}
}

func (o *Orchestrator) note(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notes = append(o.notes, text)
}

// abort marks the run dead and stops monitoring. The Run goroutine
// observes the flag after the monitor group drains.
func (o *Orchestrator) abort(reason string) {
	o.mu.Lock()
	o.aborted = true
	o.mu.Unlock()
	o.logger.Warn("aborting run", "reason", reason)
	o.haltMonitoring()
}

func (o *Orchestrator) isAborted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.aborted
}

// haltMonitoring cancels the monitor goroutine. Idempotent; it is the
// stop hook handed to the rollback executor.
func (o *Orchestrator) haltMonitoring() {
	o.stopOnceFunc()
}

func (o *Orchestrator) stopOnceFunc() {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		cancel := o.stopMonitor
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

func (o *Orchestrator) finalReport(started time.Time, baseline safety.Baseline) report.FinalReport {
	o.mu.Lock()
	state := o.state
	firings := append([]triggers.Firing(nil), o.firings...)
	notes := append([]string(nil), o.notes...)
	o.mu.Unlock()

	var rollbacks []rollback.Record
	if h := o.History(); h != nil {
		rollbacks = h
	}

	finalSnapshot, _ := o.probe.Last()
	outcome := report.DeriveOutcome(state, firings, rollbacks, finalSnapshot.Stale)
	return report.FinalReport{
		RunID:         o.opts.RunID,
		Tenant:        o.cfg.Tenant,
		Campaign:      o.cfg.Campaign,
		FinalState:    state,
		StartedAt:     started,
		EndedAt:       time.Now(),
		Baseline:      baseline,
		FinalSnapshot: finalSnapshot,
		Deltas:        report.Deltas(baseline, finalSnapshot),
		Firings:       firings,
		Rollbacks:     rollbacks,
		Outcome:       outcome,
		Recommendations: report.DeriveRecommendations(
			outcome, firings, rollbacks, finalSnapshot.Stale),
		Notes: notes,
	}
}
