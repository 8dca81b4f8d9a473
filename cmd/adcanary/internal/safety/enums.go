// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import "fmt"

// =============================================================================
// Severity Tiers
// =============================================================================

// Severity classifies a trigger firing and selects the rollback bundle
// applied to it.
//
// # Tiers
//
//   - SeverityImmediate: reversal must complete within ~30 seconds
//   - SeverityUrgent: reversal must complete within ~2 minutes
//   - SeverityScheduled: only the promote flag is disabled now; the rest of
//     the reversal waits for the natural end of the active window
type Severity int

const (
	// SeverityScheduled defers full reversal to the end of the window.
	SeverityScheduled Severity = iota

	// SeverityUrgent reverses budgets, schedules, and audiences promptly.
	SeverityUrgent

	// SeverityImmediate is the fastest tier: kill the promote flag, pause
	// the campaign, clear audiences, stop monitoring.
	SeverityImmediate
)

// String returns the wire name of the severity tier.
func (s Severity) String() string {
	switch s {
	case SeverityImmediate:
		return "IMMEDIATE"
	case SeverityUrgent:
		return "URGENT"
	case SeverityScheduled:
		return "SCHEDULED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler so severities serialize as
// their wire names in JSON reports.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a wire name back into a severity, so persisted
// reports round-trip.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "IMMEDIATE":
		*s = SeverityImmediate
	case "URGENT":
		*s = SeverityUrgent
	case "SCHEDULED":
		*s = SeverityScheduled
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// =============================================================================
// Trigger Names
// =============================================================================

// TriggerName identifies one of the monitored safety conditions.
type TriggerName string

const (
	TriggerBudgetBreach     TriggerName = "BUDGET_BREACH"
	TriggerCPCSpike         TriggerName = "CPC_SPIKE"
	TriggerErrorFlood       TriggerName = "ERROR_FLOOD"
	TriggerPerformanceDrop  TriggerName = "PERFORMANCE_DROP"
	TriggerSpendPace        TriggerName = "SPEND_PACE"
	TriggerQualityScoreDrop TriggerName = "QUALITY_SCORE_DROP"

	// TriggerManual marks an operator-initiated rollback. It is never
	// produced by the evaluator; it enters through the manager surface.
	TriggerManual TriggerName = "MANUAL"
)

// IsValid reports whether the name is one of the known triggers.
func (n TriggerName) IsValid() bool {
	switch n {
	case TriggerBudgetBreach, TriggerCPCSpike, TriggerErrorFlood,
		TriggerPerformanceDrop, TriggerSpendPace, TriggerQualityScoreDrop,
		TriggerManual:
		return true
	}
	return false
}

// =============================================================================
// Run States
// =============================================================================

// RunState is the lifecycle phase of a single canary run.
//
// Transitions are monotonic: Preparation -> Active -> Cooldown -> Complete.
// Any non-terminal state may jump directly to Aborted. No state is ever
// revisited.
type RunState string

const (
	StatePreparation RunState = "PREPARATION"
	StateActive      RunState = "ACTIVE"
	StateCooldown    RunState = "COOLDOWN"
	StateComplete    RunState = "COMPLETE"
	StateAborted     RunState = "ABORTED"
)

// Terminal reports whether the run has finished.
func (s RunState) Terminal() bool {
	return s == StateComplete || s == StateAborted
}

// CanTransitionTo reports whether moving to next is a legal transition.
func (s RunState) CanTransitionTo(next RunState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateAborted {
		return true
	}
	switch s {
	case StatePreparation:
		return next == StateActive
	case StateActive:
		return next == StateCooldown
	case StateCooldown:
		return next == StateComplete
	}
	return false
}
