// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package adsapi

import (
	"context"
	"sync"

	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
)

// Mock is a configurable Backend for tests.
//
// # Description
//
// Every operation can be overridden via its function field; unset
// operations succeed with zero values. All calls are recorded so tests
// can assert on ordering — the rollback executor's "PROMOTE first"
// guarantee is asserted through MutationCalls.
//
// # Example
//
//	mock := &Mock{
//	    MetricsFunc: func(ctx context.Context, tenant string) (Metrics, error) {
//	        return Metrics{Spend: 5.60}, nil
//	    },
//	}
type Mock struct {
	MetricsFunc       func(ctx context.Context, tenant string) (Metrics, error)
	RecentErrorsFunc  func(ctx context.Context, tenant string) ([]safety.CampaignError, error)
	GetConfigFlagFunc func(ctx context.Context, tenant, key string) (bool, error)
	SetConfigFlagFunc func(ctx context.Context, tenant, key string, value bool, reason string) error
	PauseCampaignFunc func(ctx context.Context, tenant, reason string) error
	ResetBudgetFunc   func(ctx context.Context, tenant string, originalBudget float64, reason string) error
	ResetScheduleFunc func(ctx context.Context, tenant, originalSchedule, reason string) error
	ClearAudienceFunc func(ctx context.Context, tenant, reason string) error
	AudienceListFunc  func(ctx context.Context, listID string) (AudienceList, error)
	HealthzFunc       func(ctx context.Context) error

	mu    sync.Mutex
	calls []MutationCall
	flags map[string]bool
}

// MutationCall records one backend call in arrival order.
type MutationCall struct {
	Op     string
	Key    string
	Value  bool
	Reason string
}

// Compile-time interface satisfaction check
var _ Backend = (*Mock)(nil)

// MutationCalls returns a copy of all recorded calls in order.
func (m *Mock) MutationCalls() []MutationCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MutationCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Flag returns the last value written for a config key via SetConfigFlag,
// or false if never written.
func (m *Mock) Flag(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[key]
}

func (m *Mock) record(call MutationCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *Mock) Metrics(ctx context.Context, tenant string) (Metrics, error) {
	if m.MetricsFunc != nil {
		return m.MetricsFunc(ctx, tenant)
	}
	return Metrics{}, nil
}

func (m *Mock) RecentErrors(ctx context.Context, tenant string) ([]safety.CampaignError, error) {
	if m.RecentErrorsFunc != nil {
		return m.RecentErrorsFunc(ctx, tenant)
	}
	return nil, nil
}

func (m *Mock) GetConfigFlag(ctx context.Context, tenant, key string) (bool, error) {
	if m.GetConfigFlagFunc != nil {
		return m.GetConfigFlagFunc(ctx, tenant, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[key], nil
}

func (m *Mock) SetConfigFlag(ctx context.Context, tenant, key string, value bool, reason string) error {
	m.record(MutationCall{Op: "set_config", Key: key, Value: value, Reason: reason})
	var err error
	if m.SetConfigFlagFunc != nil {
		err = m.SetConfigFlagFunc(ctx, tenant, key, value, reason)
	}
	if err == nil {
		m.mu.Lock()
		if m.flags == nil {
			m.flags = make(map[string]bool)
		}
		m.flags[key] = value
		m.mu.Unlock()
	}
	return err
}

func (m *Mock) PauseCampaign(ctx context.Context, tenant, reason string) error {
	m.record(MutationCall{Op: "pause_campaign", Reason: reason})
	if m.PauseCampaignFunc != nil {
		return m.PauseCampaignFunc(ctx, tenant, reason)
	}
	return nil
}

func (m *Mock) ResetBudget(ctx context.Context, tenant string, originalBudget float64, reason string) error {
	m.record(MutationCall{Op: "reset_budget", Reason: reason})
	if m.ResetBudgetFunc != nil {
		return m.ResetBudgetFunc(ctx, tenant, originalBudget, reason)
	}
	return nil
}

func (m *Mock) ResetSchedule(ctx context.Context, tenant, originalSchedule, reason string) error {
	m.record(MutationCall{Op: "reset_schedule", Reason: reason})
	if m.ResetScheduleFunc != nil {
		return m.ResetScheduleFunc(ctx, tenant, originalSchedule, reason)
	}
	return nil
}

func (m *Mock) ClearAudience(ctx context.Context, tenant, reason string) error {
	m.record(MutationCall{Op: "clear_audience", Reason: reason})
	if m.ClearAudienceFunc != nil {
		return m.ClearAudienceFunc(ctx, tenant, reason)
	}
	return nil
}

func (m *Mock) AudienceList(ctx context.Context, listID string) (AudienceList, error) {
	if m.AudienceListFunc != nil {
		return m.AudienceListFunc(ctx, listID)
	}
	return AudienceList{Exists: true, Status: "ENABLED", Type: "CRM_BASED", Size: 5000, CanTarget: true}, nil
}

func (m *Mock) Healthz(ctx context.Context) error {
	if m.HealthzFunc != nil {
		return m.HealthzFunc(ctx)
	}
	return nil
}
