// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rollback

import (
	"sync"
	"time"

	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
)

// =============================================================================
// Rollback Records
// =============================================================================

// StepResult is the outcome of one reversal step.
type StepResult struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Record is the audit trail of one rollback execution. Records are
// immutable once appended to the history.
type Record struct {
	ID        string             `json:"id"`
	Trigger   safety.TriggerName `json:"trigger"`
	Severity  safety.Severity    `json:"severity"`
	Reason    string             `json:"reason"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at"`
	Steps     []StepResult       `json:"steps"`

	// Complete is true only if every step succeeded. A partial rollback
	// still counts as executed, but operators must finish it by hand.
	Complete bool `json:"complete"`
}

// History is the append-only log of rollback executions for a run.
//
// # Thread Safety
//
// Safe for concurrent use. The manager's status endpoint reads it while
// the orchestrator's monitor goroutine may be appending.
type History struct {
	mu      sync.Mutex
	records []Record
}

// Append adds a record. Records are never modified or removed.
func (h *History) Append(record Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)
}

// Records returns a copy of all records in append order.
func (h *History) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

// Len returns the number of recorded rollbacks.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}
