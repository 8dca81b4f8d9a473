// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package preflight

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakform/adcanary/cmd/adcanary/config"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
)

// =============================================================================
// Test Fixtures
// =============================================================================

// testClock is a Tuesday at 10:00 local time, squarely inside business
// hours, so the baseline config produces zero schedule warnings.
var testClock = time.Date(2025, time.March, 11, 10, 0, 0, 0, time.Local)

type stubProbe struct{ err error }

func (p stubProbe) Healthz(ctx context.Context) error { return p.err }

func testEnv(vars map[string]string) func(string) string {
	return func(name string) string { return vars[name] }
}

func goodEnv() func(string) string {
	return testEnv(map[string]string{
		"ADS_API_TOKEN":    "abcdef0123456789abcdef",
		"ADS_API_BASE_URL": "https://ads.internal.example.com",
	})
}

// goodConfig returns a config that passes every check with zero findings.
func goodConfig() *config.RunConfig {
	return &config.RunConfig{
		Tenant:            "acme-corp",
		Campaign:          "Spring Sale 2025",
		BudgetCaps:        []string{"3.00", "5.00"},
		CPCCeilings:       []string{"0.25"},
		Schedule:          config.ScheduleConfig{StartExpr: "weekdays 09:00", DurationMinutes: 60},
		ExcludedCampaigns: []string{"Brand Protection", "Always On"},
		Flags:             config.SafeFlagDefaults(),
		PromoteWindow: config.PromoteWindow{
			StartAt:         testClock.Add(30 * time.Minute),
			DurationMinutes: 60,
		},
	}
}

func newTestValidator(probe EnvironmentProbe, env func(string) string) *Validator {
	return NewValidator(safety.DefaultLimits(), probe, env, func() time.Time { return testClock })
}

// =============================================================================
// Happy Path
// =============================================================================

func TestValidate_CleanConfigPasses(t *testing.T) {
	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), goodConfig())

	assert.True(t, report.Passed)
	assert.Equal(t, RecommendProceed, report.Recommendation)
	assert.Empty(t, report.Findings)
}

// =============================================================================
// Environment Checks
// =============================================================================

func TestValidate_Secrets(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		wantCode string
	}{
		{
			name:     "missing token",
			env:      map[string]string{"ADS_API_BASE_URL": "https://ads.example.com"},
			wantCode: CodeEnvSecretMissing,
		},
		{
			name: "token too short",
			env: map[string]string{
				"ADS_API_TOKEN":    "short",
				"ADS_API_BASE_URL": "https://ads.example.com",
			},
			wantCode: CodeEnvSecretMalformed,
		},
		{
			name: "token contains whitespace",
			env: map[string]string{
				"ADS_API_TOKEN":    "abcdef 0123456789abcdef",
				"ADS_API_BASE_URL": "https://ads.example.com",
			},
			wantCode: CodeEnvSecretMalformed,
		},
		{
			name: "base url not http",
			env: map[string]string{
				"ADS_API_TOKEN":    "abcdef0123456789abcdef",
				"ADS_API_BASE_URL": "ftp://ads.example.com",
			},
			wantCode: CodeEnvSecretMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(stubProbe{}, testEnv(tt.env))
			report := v.Validate(context.Background(), goodConfig())
			assert.False(t, report.Passed)
			assert.True(t, report.HasCode(tt.wantCode))
		})
	}
}

func TestValidate_SecretValuesNeverLeaked(t *testing.T) {
	secret := "hunter2hunter2hunter2"
	v := newTestValidator(stubProbe{}, testEnv(map[string]string{
		"ADS_API_TOKEN":    secret + " ", // whitespace, so malformed
		"ADS_API_BASE_URL": "https://ads.example.com",
	}))
	report := v.Validate(context.Background(), goodConfig())

	require.True(t, report.HasCode(CodeEnvSecretMalformed))
	for _, f := range report.Findings {
		assert.NotContains(t, f.Message, secret)
		for _, detail := range f.Details {
			if s, ok := detail.(string); ok {
				assert.NotContains(t, s, secret)
			}
		}
	}
}

func TestValidate_ProbeFailureIsCritical(t *testing.T) {
	v := newTestValidator(stubProbe{err: errors.New("connection refused")}, goodEnv())
	report := v.Validate(context.Background(), goodConfig())

	assert.False(t, report.Passed)
	assert.True(t, report.HasCode(CodeEnvProbeFailed))
}

func TestValidate_NilProbeIsCritical(t *testing.T) {
	v := newTestValidator(nil, goodEnv())
	report := v.Validate(context.Background(), goodConfig())
	assert.True(t, report.HasCode(CodeEnvProbeFailed))
}

// =============================================================================
// Flag Checks
// =============================================================================

func TestValidate_PromoteMustBeFalse(t *testing.T) {
	cfg := goodConfig()
	cfg.Flags[config.PromoteFlagKey] = true

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)

	assert.False(t, report.Passed)
	assert.True(t, report.HasCode(CodePromoteEnabled))
}

func TestValidate_PromoteMustBePresent(t *testing.T) {
	cfg := goodConfig()
	delete(cfg.Flags, config.PromoteFlagKey)

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)
	assert.True(t, report.HasCode(CodePromoteEnabled))
}

func TestValidate_DirtyFlagBundle(t *testing.T) {
	cfg := goodConfig()
	cfg.Flags["AUTOPILOT"] = true

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)

	assert.False(t, report.Passed)
	assert.True(t, report.HasCode(CodeFlagUnsafe))
}

// =============================================================================
// Cap Checks
// =============================================================================

func TestValidate_Budgets(t *testing.T) {
	tests := []struct {
		name     string
		caps     []string
		wantCode string
		critical bool
	}{
		{"over limit", []string{"10.01"}, CodeBudgetCapExceeded, true},
		{"at limit passes", []string{"10.00"}, "", false},
		{"unparseable", []string{"ten dollars"}, CodeBudgetCapInvalid, true},
		{"negative", []string{"-3.00"}, CodeBudgetCapInvalid, true},
		{"sub-cent", []string{"3.001"}, CodeBudgetCapInvalid, true},
		{"too low warns", []string{"0.50"}, CodeBudgetCapLow, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := goodConfig()
			cfg.BudgetCaps = tt.caps

			v := newTestValidator(stubProbe{}, goodEnv())
			report := v.Validate(context.Background(), cfg)

			if tt.wantCode == "" {
				assert.True(t, report.Passed)
				return
			}
			assert.True(t, report.HasCode(tt.wantCode))
			assert.Equal(t, !tt.critical, report.Passed)
		})
	}
}

func TestValidate_CPCCeilings(t *testing.T) {
	tests := []struct {
		name     string
		ceilings []string
		wantCode string
		critical bool
	}{
		{"over limit", []string{"0.51"}, CodeCPCCeilingExceeded, true},
		{"at limit passes", []string{"0.50"}, "", false},
		{"too low warns", []string{"0.01"}, CodeCPCCeilingLow, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := goodConfig()
			cfg.CPCCeilings = tt.ceilings

			v := newTestValidator(stubProbe{}, goodEnv())
			report := v.Validate(context.Background(), cfg)

			if tt.wantCode == "" {
				assert.True(t, report.Passed)
				return
			}
			assert.True(t, report.HasCode(tt.wantCode))
			assert.Equal(t, !tt.critical, report.Passed)
		})
	}
}

// =============================================================================
// Schedule and Window Checks
// =============================================================================

func TestValidate_WindowTooLong(t *testing.T) {
	cfg := goodConfig()
	cfg.Schedule.DurationMinutes = 121

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)

	assert.False(t, report.Passed)
	assert.True(t, report.HasCode(CodeWindowTooLong))
}

func TestValidate_ShortWindowWarns(t *testing.T) {
	cfg := goodConfig()
	cfg.Schedule.DurationMinutes = 15

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)

	assert.True(t, report.Passed)
	assert.True(t, report.HasCode(CodeWindowShort))
}

func TestValidate_WeekendStartWarns(t *testing.T) {
	cfg := goodConfig()
	// Saturday morning, still business hours.
	cfg.PromoteWindow.StartAt = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.Local)

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)

	assert.True(t, report.Passed)
	assert.True(t, report.HasCode(CodeWeekendSchedule))
}

func TestValidate_OffHoursStartWarns(t *testing.T) {
	cfg := goodConfig()
	cfg.PromoteWindow.StartAt = time.Date(2025, time.March, 11, 22, 0, 0, 0, time.Local)

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)

	assert.True(t, report.Passed)
	assert.True(t, report.HasCode(CodeOffHoursSchedule))
}

func TestValidate_StartBufferTooShort(t *testing.T) {
	cfg := goodConfig()
	cfg.PromoteWindow.StartAt = testClock.Add(2 * time.Minute)

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)

	assert.True(t, report.Passed)
	assert.True(t, report.HasCode(CodeStartBufferShort))
}

func TestValidate_WindowSpillsPastBusinessHours(t *testing.T) {
	cfg := goodConfig()
	cfg.PromoteWindow.StartAt = time.Date(2025, time.March, 11, 16, 30, 0, 0, time.Local)
	cfg.PromoteWindow.DurationMinutes = 90

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)

	assert.True(t, report.Passed)
	assert.True(t, report.HasCode(CodeWindowEndsOffHours))
}

// =============================================================================
// Exclusion List Checks
// =============================================================================

func TestValidate_CampaignInOwnExclusionList(t *testing.T) {
	cfg := goodConfig()
	cfg.ExcludedCampaigns = append(cfg.ExcludedCampaigns, "  spring sale 2025 ")

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)

	assert.False(t, report.Passed)
	assert.True(t, report.HasCode(CodeCampaignExcluded))
}

func TestValidate_EmptyExclusionListWarns(t *testing.T) {
	cfg := goodConfig()
	cfg.ExcludedCampaigns = nil

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)

	assert.True(t, report.Passed)
	assert.True(t, report.HasCode(CodeExclusionsEmpty))
}

// =============================================================================
// Identifier Checks
// =============================================================================

func TestValidate_BadTenant(t *testing.T) {
	cfg := goodConfig()
	cfg.Tenant = "ACME Corp!"

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)

	assert.False(t, report.Passed)
	assert.True(t, report.HasCode(CodeTenantInvalid))
}

// =============================================================================
// Report Derivation
// =============================================================================

func TestValidate_RecommendationTiers(t *testing.T) {
	// Three warnings and no criticals should land on REVIEW.
	cfg := goodConfig()
	cfg.Schedule.DurationMinutes = 15
	cfg.ExcludedCampaigns = nil
	cfg.PromoteWindow.StartAt = testClock.Add(time.Minute)

	v := newTestValidator(stubProbe{}, goodEnv())
	report := v.Validate(context.Background(), cfg)

	require.True(t, report.Passed)
	assert.GreaterOrEqual(t, report.WarningCount(), 3)
	assert.Equal(t, RecommendReview, report.Recommendation)
	assert.False(t, report.PassedStrict())
}

func TestNewReport_EmptyFindings(t *testing.T) {
	report := NewReport(nil, testClock)
	assert.True(t, report.Passed)
	assert.True(t, report.PassedStrict())
	assert.Equal(t, RecommendProceed, report.Recommendation)
	assert.NotNil(t, report.Findings)
}
