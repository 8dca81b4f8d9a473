// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import "time"

// =============================================================================
// Metrics Snapshot
// =============================================================================

// CampaignError is one recent error reported by the tenant backend.
type CampaignError struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// MetricsSnapshot is one normalized observation of the canary campaign.
//
// # Description
//
// A snapshot is a value: the probe produces a fresh one on every tick and
// the orchestrator replaces its current snapshot wholesale. The baseline
// snapshot captured at the end of Preparation is never mutated.
//
// # Ownership
//
// Snapshots for a run are owned exclusively by that run's orchestrator.
// They are never shared across runs.
type MetricsSnapshot struct {
	Timestamp    time.Time       `json:"timestamp"`
	Spend        float64         `json:"spend"`
	Clicks       int64           `json:"clicks"`
	Impressions  int64           `json:"impressions"`
	AvgCPC       float64         `json:"avg_cpc"`
	CTR          float64         `json:"ctr"`
	QualityScore float64         `json:"quality_score"`
	RecentErrors []CampaignError `json:"recent_errors,omitempty"`

	// Stale counts how many consecutive fetch failures this snapshot has
	// survived. Zero means the snapshot is fresh.
	Stale int `json:"stale,omitempty"`
}

// Baseline pairs the pre-run snapshot with the caps the run was configured
// with. The trigger evaluator compares current observations against it.
type Baseline struct {
	Snapshot    MetricsSnapshot `json:"snapshot"`
	DailyBudget float64         `json:"daily_budget"`
	CPCCeiling  float64         `json:"cpc_ceiling"`
}
