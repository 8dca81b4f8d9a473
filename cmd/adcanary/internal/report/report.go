// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package report assembles and persists the final record of a canary run.
//
// A run that leaves no durable report might as well not have happened:
// the report file is what the operator reviews before deciding whether
// the change under trial graduates. Persistence is atomic (write to a
// temp file, then rename) so a crash mid-write never leaves a truncated
// report behind.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/peakform/adcanary/cmd/adcanary/internal/rollback"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
	"github.com/peakform/adcanary/cmd/adcanary/internal/triggers"
)

// =============================================================================
// Delta Analysis
// =============================================================================

// Delta compares one metric between baseline and final snapshot.
type Delta struct {
	Metric   string  `json:"metric"`
	Baseline float64 `json:"baseline"`
	Final    float64 `json:"final"`
	Change   float64 `json:"change"`

	// ChangePct is the relative change; zero when the baseline is zero.
	ChangePct float64 `json:"change_pct"`
}

func delta(metric string, baseline, final float64) Delta {
	d := Delta{Metric: metric, Baseline: baseline, Final: final, Change: final - baseline}
	if baseline != 0 {
		d.ChangePct = (final - baseline) / baseline * 100
	}
	return d
}

// Deltas computes the standard metric comparisons between the run's
// baseline and its final snapshot.
func Deltas(baseline safety.Baseline, final safety.MetricsSnapshot) []Delta {
	b := baseline.Snapshot
	return []Delta{
		delta("spend", b.Spend, final.Spend),
		delta("clicks", float64(b.Clicks), float64(final.Clicks)),
		delta("impressions", float64(b.Impressions), float64(final.Impressions)),
		delta("avg_cpc", b.AvgCPC, final.AvgCPC),
		delta("ctr", b.CTR, final.CTR),
		delta("quality_score", b.QualityScore, final.QualityScore),
	}
}

// =============================================================================
// Final Report
// =============================================================================

// Outcome is the operator-facing verdict on the change under trial.
type Outcome string

const (
	// OutcomePromote means the change behaved within limits all the way
	// through; graduating it is reasonable.
	OutcomePromote Outcome = "PROMOTE"

	// OutcomeHold means the run completed but with observations worth a
	// human look before graduating.
	OutcomeHold Outcome = "HOLD"

	// OutcomeRejected means a trigger fired and the change was rolled
	// back; it must not graduate as-is.
	OutcomeRejected Outcome = "REJECTED"
)

// FinalReport is the complete durable record of one canary run.
type FinalReport struct {
	RunID    string `json:"run_id"`
	Tenant   string `json:"tenant"`
	Campaign string `json:"campaign"`

	FinalState safety.RunState `json:"final_state"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    time.Time       `json:"ended_at"`

	Baseline      safety.Baseline        `json:"baseline"`
	FinalSnapshot safety.MetricsSnapshot `json:"final_snapshot"`
	Deltas        []Delta                `json:"deltas"`

	// Firings is every trigger evaluation that tripped during the run,
	// in the order observed.
	Firings []triggers.Firing `json:"firings"`

	// Rollbacks is the audit trail of reversal executions.
	Rollbacks []rollback.Record `json:"rollbacks"`

	Outcome Outcome `json:"outcome"`

	// Recommendations are the operator actions the outcome implies.
	Recommendations Recommendations `json:"recommendations"`

	// Notes carries free-form observations from the orchestrator, such
	// as stale-metrics stretches or the delayed-spend re-poll result.
	Notes []string `json:"notes,omitempty"`
}

// DeriveOutcome computes the verdict from the run's end state and
// observations.
func DeriveOutcome(finalState safety.RunState, firings []triggers.Firing, rollbacks []rollback.Record, finalStale int) Outcome {
	if finalState == safety.StateAborted || len(rollbacks) > 0 {
		return OutcomeRejected
	}
	if len(firings) > 0 || finalStale > 0 {
		return OutcomeHold
	}
	return OutcomePromote
}

// =============================================================================
// Recommendations
// =============================================================================

// Recommendations lists operator actions derived from the outcome:
// Immediate items come before anything else happens to the campaign,
// Next items once those are handled.
type Recommendations struct {
	Immediate []string `json:"immediate"`
	Next      []string `json:"next"`
}

// DeriveRecommendations maps the run's observations to operator actions.
func DeriveRecommendations(outcome Outcome, firings []triggers.Firing, rollbacks []rollback.Record, finalStale int) Recommendations {
	rec := Recommendations{Immediate: []string{}, Next: []string{}}

	for _, r := range rollbacks {
		if !r.Complete {
			rec.Immediate = append(rec.Immediate,
				fmt.Sprintf("rollback %s recorded step failures; re-run manual rollback and verify the tenant state by hand", r.ID))
		}
	}

	switch outcome {
	case OutcomeRejected:
		rec.Immediate = append(rec.Immediate,
			"verify PROMOTE is disabled in the tenant config store")
		for _, f := range firings {
			rec.Next = append(rec.Next,
				fmt.Sprintf("investigate the %s firing (%s) before retrying", f.Trigger, f.Reason))
		}
		rec.Next = append(rec.Next,
			"re-run the canary only after the root cause is addressed")
	case OutcomeHold:
		if finalStale > 0 {
			rec.Immediate = append(rec.Immediate,
				"re-pull final metrics; the last snapshot was stale")
		}
		for _, f := range firings {
			rec.Next = append(rec.Next,
				fmt.Sprintf("review the %s firing (%s) recorded during the run", f.Trigger, f.Reason))
		}
		rec.Next = append(rec.Next, "review the metric deltas before graduating the change")
	case OutcomePromote:
		rec.Next = append(rec.Next,
			"graduate the change and remove the canary caps in one reviewed step")
	}
	return rec
}

// =============================================================================
// Persistence
// =============================================================================

// Writer persists final reports to a directory, one file per run.
type Writer struct {
	dir string
}

// NewWriter creates the report directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Write persists the report as {dir}/{runID}.json and returns the path.
// The write is atomic: a temp file in the same directory is renamed over
// the final name, so readers never see a partial document.
func (w *Writer) Write(r FinalReport) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	final := filepath.Join(w.dir, r.RunID+".json")
	tmp, err := os.CreateTemp(w.dir, r.RunID+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp report: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("publish report: %w", err)
	}
	return final, nil
}

// Read loads a previously written report by run ID.
func (w *Writer) Read(runID string) (FinalReport, error) {
	var r FinalReport
	data, err := os.ReadFile(filepath.Join(w.dir, runID+".json"))
	if err != nil {
		return r, fmt.Errorf("read report: %w", err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}
