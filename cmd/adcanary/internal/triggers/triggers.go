// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package triggers evaluates metric snapshots against the safety
// thresholds that force a rollback.
//
// Evaluation is pure: no I/O, no clocks, no state between calls. Given
// the same baseline, snapshot, and timestamps it always returns the same
// firings, which is what makes the trigger table directly testable
// against the documented boundary values.
package triggers

import (
	"fmt"
	"time"

	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
)

// =============================================================================
// Thresholds
// =============================================================================

// Threshold multipliers. These are the contract between monitoring and
// the operators reading rollback reports, so they are named constants
// rather than config: a run cannot loosen its own tripwires.
const (
	// BudgetBreachMultiplier fires when spend exceeds 110% of the cap.
	BudgetBreachMultiplier = 1.10

	// CPCSpikeMultiplier fires when average CPC exceeds 120% of the ceiling.
	CPCSpikeMultiplier = 1.20

	// PerformanceDropFraction fires when CTR falls below half of baseline.
	PerformanceDropFraction = 0.50

	// SpendPaceFraction fires when more than half the daily budget is gone
	// within the first hour of the active window.
	SpendPaceFraction = 0.50

	// QualityScoreDropPoints fires when the quality score falls by at
	// least this many points from baseline.
	QualityScoreDropPoints = 2.0
)

// ErrorFloodCount errors within ErrorFloodWindow is a flood.
const (
	ErrorFloodCount  = 3
	ErrorFloodWindow = 5 * time.Minute
)

// SpendPaceWindow bounds how long after the active window opens the
// spend-pace rule applies. Past this point high spend is only a
// budget-breach concern.
const SpendPaceWindow = time.Hour

// =============================================================================
// Firings
// =============================================================================

// Firing is one tripped safety condition.
type Firing struct {
	Trigger  safety.TriggerName `json:"trigger"`
	Severity safety.Severity    `json:"severity"`

	// Observed and Threshold are the values behind the decision, in the
	// trigger's own unit (dollars, ratio, count, points).
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`

	// Reason is the human-readable one-liner for logs and reports.
	Reason string `json:"reason"`
}

// Evaluate checks every trigger against the snapshot and returns all
// firings ordered by severity, most severe first. An empty slice means
// the canary is within limits.
//
// windowStart is when the active window opened; now is the evaluation
// time. Both are passed in rather than read from a clock so the engine
// stays pure.
func Evaluate(baseline safety.Baseline, current safety.MetricsSnapshot, windowStart, now time.Time) []Firing {
	var firings []Firing

	if f, ok := budgetBreach(baseline, current); ok {
		firings = append(firings, f)
	}
	if f, ok := cpcSpike(baseline, current); ok {
		firings = append(firings, f)
	}
	if f, ok := errorFlood(current, now); ok {
		firings = append(firings, f)
	}
	if f, ok := performanceDrop(baseline, current); ok {
		firings = append(firings, f)
	}
	if f, ok := spendPace(baseline, current, windowStart, now); ok {
		firings = append(firings, f)
	}
	if f, ok := qualityScoreDrop(baseline, current); ok {
		firings = append(firings, f)
	}

	sortBySeverity(firings)
	return firings
}

// Worst returns the highest-severity firing, or false for an empty slice.
func Worst(firings []Firing) (Firing, bool) {
	if len(firings) == 0 {
		return Firing{}, false
	}
	return firings[0], true
}

// =============================================================================
// Individual Rules
// =============================================================================

func budgetBreach(baseline safety.Baseline, current safety.MetricsSnapshot) (Firing, bool) {
	threshold := baseline.DailyBudget * BudgetBreachMultiplier
	if current.Spend <= threshold {
		return Firing{}, false
	}
	return Firing{
		Trigger:   safety.TriggerBudgetBreach,
		Severity:  safety.SeverityImmediate,
		Observed:  current.Spend,
		Threshold: threshold,
		Reason:    fmt.Sprintf("spend $%.2f exceeds %.0f%% of the $%.2f cap", current.Spend, BudgetBreachMultiplier*100, baseline.DailyBudget),
	}, true
}

func cpcSpike(baseline safety.Baseline, current safety.MetricsSnapshot) (Firing, bool) {
	threshold := baseline.CPCCeiling * CPCSpikeMultiplier
	if current.AvgCPC <= threshold {
		return Firing{}, false
	}
	return Firing{
		Trigger:   safety.TriggerCPCSpike,
		Severity:  safety.SeverityImmediate,
		Observed:  current.AvgCPC,
		Threshold: threshold,
		Reason:    fmt.Sprintf("avg CPC $%.2f exceeds %.0f%% of the $%.2f ceiling", current.AvgCPC, CPCSpikeMultiplier*100, baseline.CPCCeiling),
	}, true
}

func errorFlood(current safety.MetricsSnapshot, now time.Time) (Firing, bool) {
	cutoff := now.Add(-ErrorFloodWindow)
	recent := 0
	for _, e := range current.RecentErrors {
		if !e.Timestamp.Before(cutoff) {
			recent++
		}
	}
	if recent < ErrorFloodCount {
		return Firing{}, false
	}
	return Firing{
		Trigger:   safety.TriggerErrorFlood,
		Severity:  safety.SeverityUrgent,
		Observed:  float64(recent),
		Threshold: ErrorFloodCount,
		Reason:    fmt.Sprintf("%d campaign errors within %s", recent, ErrorFloodWindow),
	}, true
}

// performanceDrop requires a non-zero baseline CTR: a campaign that never
// had clicks cannot "drop", and dividing by zero CTR would fire on every
// snapshot.
func performanceDrop(baseline safety.Baseline, current safety.MetricsSnapshot) (Firing, bool) {
	if baseline.Snapshot.CTR <= 0 {
		return Firing{}, false
	}
	threshold := baseline.Snapshot.CTR * PerformanceDropFraction
	if current.CTR >= threshold {
		return Firing{}, false
	}
	return Firing{
		Trigger:   safety.TriggerPerformanceDrop,
		Severity:  safety.SeverityUrgent,
		Observed:  current.CTR,
		Threshold: threshold,
		Reason:    fmt.Sprintf("CTR %.4f fell below %.0f%% of baseline %.4f", current.CTR, PerformanceDropFraction*100, baseline.Snapshot.CTR),
	}, true
}

func spendPace(baseline safety.Baseline, current safety.MetricsSnapshot, windowStart, now time.Time) (Firing, bool) {
	elapsed := now.Sub(windowStart)
	if elapsed > SpendPaceWindow {
		return Firing{}, false
	}
	threshold := baseline.DailyBudget * SpendPaceFraction
	if current.Spend <= threshold {
		return Firing{}, false
	}
	return Firing{
		Trigger:   safety.TriggerSpendPace,
		Severity:  safety.SeverityUrgent,
		Observed:  current.Spend,
		Threshold: threshold,
		Reason: fmt.Sprintf("spend $%.2f is over %.0f%% of the daily budget after only %s",
			current.Spend, SpendPaceFraction*100, elapsed.Round(time.Minute)),
	}, true
}

func qualityScoreDrop(baseline safety.Baseline, current safety.MetricsSnapshot) (Firing, bool) {
	drop := baseline.Snapshot.QualityScore - current.QualityScore
	if drop < QualityScoreDropPoints {
		return Firing{}, false
	}
	return Firing{
		Trigger:   safety.TriggerQualityScoreDrop,
		Severity:  safety.SeverityScheduled,
		Observed:  drop,
		Threshold: QualityScoreDropPoints,
		Reason:    fmt.Sprintf("quality score dropped %.1f points from baseline %.1f", drop, baseline.Snapshot.QualityScore),
	}, true
}

// sortBySeverity orders firings most severe first. Insertion sort: the
// slice never exceeds six entries.
func sortBySeverity(firings []Firing) {
	for i := 1; i < len(firings); i++ {
		for j := i; j > 0 && firings[j].Severity > firings[j-1].Severity; j-- {
			firings[j], firings[j-1] = firings[j-1], firings[j]
		}
	}
}
