// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakform/adcanary/cmd/adcanary/internal/adsapi"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
)

func TestSnapshot_MergesMetricsAndErrors(t *testing.T) {
	now := time.Date(2025, time.March, 11, 10, 0, 0, 0, time.UTC)
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			assert.Equal(t, "acme", tenant)
			return adsapi.Metrics{Spend: 2.50, Clicks: 40, AvgCPC: 0.0625, CTR: 0.02, QualityScore: 7}, nil
		},
		RecentErrorsFunc: func(ctx context.Context, tenant string) ([]safety.CampaignError, error) {
			return []safety.CampaignError{{Timestamp: now, Message: "creative disapproved"}}, nil
		},
	}

	p := NewMetricsProbe(mock, "acme", nil)
	p.now = func() time.Time { return now }

	snapshot, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now, snapshot.Timestamp)
	assert.InDelta(t, 2.50, snapshot.Spend, 1e-9)
	assert.Len(t, snapshot.RecentErrors, 1)
	assert.Equal(t, 0, snapshot.Stale)
}

func TestSnapshot_FirstFetchFailureErrors(t *testing.T) {
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			return adsapi.Metrics{}, errors.New("503")
		},
	}

	p := NewMetricsProbe(mock, "acme", nil)
	_, err := p.Snapshot(context.Background())
	assert.Error(t, err)

	_, ok := p.Last()
	assert.False(t, ok)
}

func TestSnapshot_FailureAfterSuccessServesStale(t *testing.T) {
	fail := false
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			if fail {
				return adsapi.Metrics{}, errors.New("timeout")
			}
			return adsapi.Metrics{Spend: 1.00}, nil
		},
	}

	p := NewMetricsProbe(mock, "acme", nil)
	ctx := context.Background()

	first, err := p.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, first.Stale)

	fail = true
	second, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.00, second.Spend, 1e-9)
	assert.Equal(t, 1, second.Stale)

	third, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Stale)

	// Recovery resets the staleness counter.
	fail = false
	fourth, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, fourth.Stale)
}

func TestSnapshot_ErrorEndpointFailureAlsoStale(t *testing.T) {
	fail := false
	mock := &adsapi.Mock{
		RecentErrorsFunc: func(ctx context.Context, tenant string) ([]safety.CampaignError, error) {
			if fail {
				return nil, errors.New("500")
			}
			return nil, nil
		},
	}

	p := NewMetricsProbe(mock, "acme", nil)
	ctx := context.Background()

	_, err := p.Snapshot(ctx)
	require.NoError(t, err)

	fail = true
	snapshot, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Stale)
}

func TestBaseline_CapturesOriginals(t *testing.T) {
	mock := &adsapi.Mock{
		MetricsFunc: func(ctx context.Context, tenant string) (adsapi.Metrics, error) {
			return adsapi.Metrics{Spend: 0.10, AvgCPC: 0.05, CTR: 0.025}, nil
		},
	}

	p := NewMetricsProbe(mock, "acme", nil)
	baseline, err := p.Baseline(context.Background(), 5.00, 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 5.00, baseline.DailyBudget, 1e-9)
	assert.InDelta(t, 0.25, baseline.CPCCeiling, 1e-9)
	assert.InDelta(t, 0.025, baseline.Snapshot.CTR, 1e-9)
}
