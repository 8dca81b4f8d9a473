// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Severity Tests
// =============================================================================

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityImmediate, "IMMEDIATE"},
		{SeverityUrgent, "URGENT"},
		{SeverityScheduled, "SCHEDULED"},
		{Severity(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.severity.String())
		})
	}
}

func TestSeverity_TextRoundTrip(t *testing.T) {
	for _, severity := range []Severity{SeverityImmediate, SeverityUrgent, SeverityScheduled} {
		text, err := severity.MarshalText()
		assert.NoError(t, err)

		var back Severity
		assert.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, severity, back)
	}

	var s Severity
	assert.Error(t, s.UnmarshalText([]byte("CRITICAL")))
}

func TestSeverity_Ordering(t *testing.T) {
	// The rollback dispatcher sorts firings highest tier first; the enum
	// values must preserve that ordering.
	assert.Greater(t, SeverityImmediate, SeverityUrgent)
	assert.Greater(t, SeverityUrgent, SeverityScheduled)
}

// =============================================================================
// TriggerName Tests
// =============================================================================

func TestTriggerName_IsValid(t *testing.T) {
	valid := []TriggerName{
		TriggerBudgetBreach, TriggerCPCSpike, TriggerErrorFlood,
		TriggerPerformanceDrop, TriggerSpendPace, TriggerQualityScoreDrop,
		TriggerManual,
	}
	for _, n := range valid {
		t.Run(string(n), func(t *testing.T) {
			assert.True(t, n.IsValid())
		})
	}

	assert.False(t, TriggerName("").IsValid())
	assert.False(t, TriggerName("budget_breach").IsValid())
	assert.False(t, TriggerName("CPC-SPIKE").IsValid())
}

// =============================================================================
// RunState Tests
// =============================================================================

func TestRunState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from RunState
		to   RunState
		want bool
	}{
		{"preparation to active", StatePreparation, StateActive, true},
		{"active to cooldown", StateActive, StateCooldown, true},
		{"cooldown to complete", StateCooldown, StateComplete, true},
		{"preparation to abort", StatePreparation, StateAborted, true},
		{"active to abort", StateActive, StateAborted, true},
		{"cooldown to abort", StateCooldown, StateAborted, true},
		{"no skipping phases", StatePreparation, StateCooldown, false},
		{"no going backwards", StateCooldown, StateActive, false},
		{"complete is terminal", StateComplete, StateAborted, false},
		{"aborted is terminal", StateAborted, StateActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRunState_Terminal(t *testing.T) {
	assert.True(t, StateComplete.Terminal())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StatePreparation.Terminal())
	assert.False(t, StateActive.Terminal())
	assert.False(t, StateCooldown.Terminal())
}
