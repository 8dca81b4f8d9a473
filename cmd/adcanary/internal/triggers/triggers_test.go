// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package triggers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
)

var (
	windowStart = time.Date(2025, time.March, 11, 10, 0, 0, 0, time.UTC)

	// baseline: $5.00 budget, $0.25 CPC ceiling, CTR 2%, quality 7.
	testBaseline = safety.Baseline{
		Snapshot: safety.MetricsSnapshot{
			Timestamp:    windowStart,
			CTR:          0.02,
			QualityScore: 7,
		},
		DailyBudget: 5.00,
		CPCCeiling:  0.25,
	}
)

func fired(firings []Firing, name safety.TriggerName) bool {
	for _, f := range firings {
		if f.Trigger == name {
			return true
		}
	}
	return false
}

// =============================================================================
// Boundary Tables
// =============================================================================

func TestBudgetBreach_Boundaries(t *testing.T) {
	// Threshold is 5.00 * 1.10 = 5.50, exclusive.
	tests := []struct {
		spend float64
		want  bool
	}{
		{5.49, false},
		{5.50, false},
		{5.51, true},
		{5.60, true},
	}
	for _, tt := range tests {
		current := safety.MetricsSnapshot{Spend: tt.spend}
		firings := Evaluate(testBaseline, current, windowStart, windowStart.Add(90*time.Minute))
		assert.Equal(t, tt.want, fired(firings, safety.TriggerBudgetBreach), "spend %.2f", tt.spend)
	}
}

func TestCPCSpike_Boundaries(t *testing.T) {
	// Threshold is 0.25 * 1.20 = 0.30, exclusive.
	tests := []struct {
		avgCPC float64
		want   bool
	}{
		{0.29, false},
		{0.30, false},
		{0.31, true},
	}
	for _, tt := range tests {
		current := safety.MetricsSnapshot{AvgCPC: tt.avgCPC}
		firings := Evaluate(testBaseline, current, windowStart, windowStart.Add(90*time.Minute))
		assert.Equal(t, tt.want, fired(firings, safety.TriggerCPCSpike), "cpc %.2f", tt.avgCPC)
	}
}

func TestErrorFlood(t *testing.T) {
	now := windowStart.Add(30 * time.Minute)
	recent := func(age time.Duration) safety.CampaignError {
		return safety.CampaignError{Timestamp: now.Add(-age), Message: "err"}
	}

	tests := []struct {
		name   string
		errors []safety.CampaignError
		want   bool
	}{
		{
			name:   "two recent errors is not a flood",
			errors: []safety.CampaignError{recent(time.Minute), recent(2 * time.Minute)},
			want:   false,
		},
		{
			name:   "three recent errors floods",
			errors: []safety.CampaignError{recent(time.Minute), recent(2 * time.Minute), recent(4 * time.Minute)},
			want:   true,
		},
		{
			name: "old errors do not count",
			errors: []safety.CampaignError{
				recent(time.Minute), recent(2 * time.Minute), recent(6 * time.Minute),
			},
			want: false,
		},
		{
			name: "error exactly at the window edge counts",
			errors: []safety.CampaignError{
				recent(time.Minute), recent(2 * time.Minute), recent(5 * time.Minute),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := safety.MetricsSnapshot{RecentErrors: tt.errors}
			firings := Evaluate(testBaseline, current, windowStart, now)
			assert.Equal(t, tt.want, fired(firings, safety.TriggerErrorFlood))
		})
	}
}

func TestPerformanceDrop(t *testing.T) {
	// Baseline CTR 0.02; threshold 0.01, exclusive below.
	tests := []struct {
		ctr  float64
		want bool
	}{
		{0.020, false},
		{0.010, false},
		{0.009, true},
	}
	for _, tt := range tests {
		current := safety.MetricsSnapshot{CTR: tt.ctr}
		firings := Evaluate(testBaseline, current, windowStart, windowStart.Add(90*time.Minute))
		assert.Equal(t, tt.want, fired(firings, safety.TriggerPerformanceDrop), "ctr %.3f", tt.ctr)
	}
}

func TestPerformanceDrop_ZeroBaselineNeverFires(t *testing.T) {
	baseline := testBaseline
	baseline.Snapshot.CTR = 0

	current := safety.MetricsSnapshot{CTR: 0}
	firings := Evaluate(baseline, current, windowStart, windowStart.Add(time.Minute))
	assert.False(t, fired(firings, safety.TriggerPerformanceDrop))
}

func TestSpendPace(t *testing.T) {
	// Budget $5.00; pace threshold $2.50, exclusive; only within the
	// first hour of the window.
	tests := []struct {
		name    string
		spend   float64
		elapsed time.Duration
		want    bool
	}{
		{"fast spend early", 2.60, 30 * time.Minute, true},
		{"at threshold does not fire", 2.50, 30 * time.Minute, false},
		{"fast spend at the hour mark", 2.60, time.Hour, true},
		{"fast spend at 90 minutes is not a pace problem", 2.60, 90 * time.Minute, false},
		{"slow spend early", 1.00, 30 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := safety.MetricsSnapshot{Spend: tt.spend}
			firings := Evaluate(testBaseline, current, windowStart, windowStart.Add(tt.elapsed))
			assert.Equal(t, tt.want, fired(firings, safety.TriggerSpendPace))
		})
	}
}

func TestQualityScoreDrop(t *testing.T) {
	// Baseline quality 7; a drop of 2+ points fires.
	tests := []struct {
		score float64
		want  bool
	}{
		{7.0, false},
		{5.5, false},
		{5.0, true},
		{4.0, true},
	}
	for _, tt := range tests {
		current := safety.MetricsSnapshot{QualityScore: tt.score, CTR: 0.02}
		firings := Evaluate(testBaseline, current, windowStart, windowStart.Add(90*time.Minute))
		assert.Equal(t, tt.want, fired(firings, safety.TriggerQualityScoreDrop), "score %.1f", tt.score)
	}
}

// =============================================================================
// Ordering and Aggregation
// =============================================================================

func TestEvaluate_OrdersBySeverity(t *testing.T) {
	// Quality drop (SCHEDULED), CTR collapse (URGENT), and budget breach
	// (IMMEDIATE) all at once.
	current := safety.MetricsSnapshot{
		Spend:        6.00,
		CTR:          0.005,
		QualityScore: 4,
	}
	firings := Evaluate(testBaseline, current, windowStart, windowStart.Add(90*time.Minute))
	require.Len(t, firings, 3)

	assert.Equal(t, safety.SeverityImmediate, firings[0].Severity)
	assert.Equal(t, safety.SeverityUrgent, firings[1].Severity)
	assert.Equal(t, safety.SeverityScheduled, firings[2].Severity)

	worst, ok := Worst(firings)
	require.True(t, ok)
	assert.Equal(t, safety.TriggerBudgetBreach, worst.Trigger)
}

func TestEvaluate_CleanSnapshot(t *testing.T) {
	current := safety.MetricsSnapshot{
		Spend:        1.00,
		AvgCPC:       0.10,
		CTR:          0.02,
		QualityScore: 7,
	}
	firings := Evaluate(testBaseline, current, windowStart, windowStart.Add(30*time.Minute))
	assert.Empty(t, firings)

	_, ok := Worst(firings)
	assert.False(t, ok)
}

func TestEvaluate_IsDeterministic(t *testing.T) {
	current := safety.MetricsSnapshot{Spend: 6.00, CTR: 0.005, QualityScore: 4}
	now := windowStart.Add(90 * time.Minute)

	first := Evaluate(testBaseline, current, windowStart, now)
	second := Evaluate(testBaseline, current, windowStart, now)
	assert.Equal(t, first, second)
}
