// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package probe turns raw backend reads into the metric snapshots the
// trigger engine evaluates.
//
// The probe is deliberately forgiving about transient backend failures:
// after the first successful fetch it always has a snapshot to hand back,
// marked stale when it could not be refreshed, so a flaky metrics API
// never kills an in-flight canary on its own. The staleness counter is
// the orchestrator's signal to escalate if the blindness persists.
package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/peakform/adcanary/cmd/adcanary/internal/adsapi"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
	"github.com/peakform/adcanary/pkg/logging"
)

// MetricsProbe fetches and merges campaign metrics and recent errors for
// one tenant.
//
// # Thread Safety
//
// Safe for concurrent use; the cached snapshot is mutex-guarded. In
// practice only the orchestrator's monitor goroutine calls Snapshot.
type MetricsProbe struct {
	backend adsapi.Backend
	tenant  string
	logger  *logging.Logger
	now     func() time.Time

	mu   sync.Mutex
	last *safety.MetricsSnapshot
}

// NewMetricsProbe constructs a probe for the given tenant.
func NewMetricsProbe(backend adsapi.Backend, tenant string, logger *logging.Logger) *MetricsProbe {
	if logger == nil {
		logger = logging.Default()
	}
	return &MetricsProbe{backend: backend, tenant: tenant, logger: logger, now: time.Now}
}

// Snapshot fetches the current metrics and error list and merges them.
//
// # Error Handling
//
// If either backend read fails and a previous snapshot exists, that
// snapshot is returned with its Stale counter incremented and no error;
// monitoring continues on old data. If the very first fetch fails there
// is nothing to fall back to, so the error is returned and the caller
// decides whether to abort.
func (p *MetricsProbe) Snapshot(ctx context.Context) (safety.MetricsSnapshot, error) {
	metrics, merr := p.backend.Metrics(ctx, p.tenant)
	recent, eerr := p.backend.RecentErrors(ctx, p.tenant)

	p.mu.Lock()
	defer p.mu.Unlock()

	if merr != nil || eerr != nil {
		err := merr
		if err == nil {
			err = eerr
		}
		if p.last == nil {
			return safety.MetricsSnapshot{}, fmt.Errorf("initial metrics fetch for %s: %w", p.tenant, err)
		}
		p.last.Stale++
		p.logger.Warn("metrics fetch failed, serving stale snapshot",
			"tenant", p.tenant, "stale_count", p.last.Stale, "error", err)
		return *p.last, nil
	}

	snapshot := safety.MetricsSnapshot{
		Timestamp:    p.now(),
		Spend:        metrics.Spend,
		Clicks:       metrics.Clicks,
		Impressions:  metrics.Impressions,
		AvgCPC:       metrics.AvgCPC,
		CTR:          metrics.CTR,
		QualityScore: metrics.QualityScore,
		RecentErrors: recent,
	}
	p.last = &snapshot
	return snapshot, nil
}

// Baseline captures the pre-run reference point: the current snapshot
// plus the original budget and CPC ceiling the rollback executor restores.
func (p *MetricsProbe) Baseline(ctx context.Context, dailyBudget, cpcCeiling float64) (safety.Baseline, error) {
	snapshot, err := p.Snapshot(ctx)
	if err != nil {
		return safety.Baseline{}, fmt.Errorf("capture baseline: %w", err)
	}
	return safety.Baseline{
		Snapshot:    snapshot,
		DailyBudget: dailyBudget,
		CPCCeiling:  cpcCeiling,
	}, nil
}

// Last returns the most recent snapshot, or false if none was ever taken.
func (p *MetricsProbe) Last() (safety.MetricsSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return safety.MetricsSnapshot{}, false
	}
	return *p.last, true
}
