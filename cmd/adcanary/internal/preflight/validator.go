// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package preflight

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/peakform/adcanary/cmd/adcanary/config"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
	"github.com/peakform/adcanary/pkg/validation"
)

// =============================================================================
// Interfaces
// =============================================================================

// EnvironmentProbe checks that the tenant backend is reachable before the
// run mutates anything. adsapi.Client satisfies it via Healthz.
type EnvironmentProbe interface {
	Healthz(ctx context.Context) error
}

// =============================================================================
// Environment Secrets
// =============================================================================

// requiredSecrets are the environment variables every run needs. The
// validator checks presence and shape, never values, and nothing from
// these ever appears in a finding beyond its name.
var requiredSecrets = []string{"ADS_API_TOKEN", "ADS_API_BASE_URL"}

const minTokenLength = 16

// businessDayStart and businessDayEnd bound the hours considered safe for
// a supervised canary window (local time of the promote-window start).
const (
	businessDayStart = 9
	businessDayEnd   = 17
)

// =============================================================================
// Validator
// =============================================================================

// Validator is the stateless pre-flight checker for a canary run.
//
// # Description
//
// Validate inspects a RunConfig against the injected safety limits and
// produces a Report. Given identical inputs (config, environment, clock)
// the same findings are produced; the clock and environment reader are
// injectable so tests pin them.
//
// # Error Handling
//
// Validate never returns an error and never panics outward: the one
// external call (the environment probe) converts failure into a critical
// finding, and any internal panic is recovered into a critical finding,
// so callers can always rely on Report.Passed.
type Validator struct {
	limits safety.Limits
	probe  EnvironmentProbe

	// Env reads an environment variable. Defaults to os.Getenv via New.
	env func(string) string

	// Now returns the current time. Injected for determinism in tests.
	now func() time.Time
}

// NewValidator constructs a Validator. probe may be nil, which yields a
// critical finding (no environment check possible is itself a failure).
func NewValidator(limits safety.Limits, probe EnvironmentProbe, env func(string) string, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{limits: limits, probe: probe, env: env, now: now}
}

// Validate runs every pre-flight check and returns the full report.
func (v *Validator) Validate(ctx context.Context, cfg *config.RunConfig) (report Report) {
	var findings []Finding

	defer func() {
		if r := recover(); r != nil {
			findings = append(findings, Finding{
				Severity: SeverityCritical,
				Code:     CodeValidatorPanic,
				Message:  fmt.Sprintf("validator internal error: %v", r),
			})
			report = NewReport(findings, v.now())
		}
	}()

	findings = append(findings, v.checkIdentifiers(cfg)...)
	findings = append(findings, v.checkSecrets()...)
	findings = append(findings, v.checkFlags(cfg)...)
	findings = append(findings, v.checkBudgets(cfg)...)
	findings = append(findings, v.checkCPCs(cfg)...)
	findings = append(findings, v.checkSchedule(cfg)...)
	findings = append(findings, v.checkExclusions(cfg)...)
	findings = append(findings, v.checkPromoteWindow(cfg)...)
	findings = append(findings, v.checkEnvironment(ctx)...)

	return NewReport(findings, v.now())
}

// =============================================================================
// Individual Checks
// =============================================================================

func (v *Validator) checkIdentifiers(cfg *config.RunConfig) []Finding {
	var findings []Finding
	if err := validation.ValidateTenant(cfg.Tenant); err != nil {
		findings = append(findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeTenantInvalid,
			Message:  err.Error(),
			Details:  map[string]any{"tenant": cfg.Tenant},
		})
	}
	if err := validation.ValidateCampaignName(cfg.Campaign); err != nil {
		findings = append(findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeCampaignInvalid,
			Message:  err.Error(),
		})
	}
	return findings
}

func (v *Validator) checkSecrets() []Finding {
	var findings []Finding
	for _, name := range requiredSecrets {
		value := v.env(name)
		if value == "" {
			findings = append(findings, Finding{
				Severity: SeverityCritical,
				Code:     CodeEnvSecretMissing,
				Message:  fmt.Sprintf("required environment secret %s is not set", name),
				Details:  map[string]any{"secret": name},
			})
			continue
		}
		if malformed := secretMalformed(name, value); malformed != "" {
			findings = append(findings, Finding{
				Severity: SeverityCritical,
				Code:     CodeEnvSecretMalformed,
				Message:  fmt.Sprintf("environment secret %s is malformed: %s", name, malformed),
				Details:  map[string]any{"secret": name},
			})
		}
	}
	return findings
}

// secretMalformed returns a reason string if the value fails its shape
// check, or "" if it is acceptable. Values are never included.
func secretMalformed(name, value string) string {
	switch name {
	case "ADS_API_TOKEN":
		if len(value) < minTokenLength {
			return fmt.Sprintf("shorter than %d characters", minTokenLength)
		}
		if strings.ContainsAny(value, " \t\n") {
			return "contains whitespace"
		}
	case "ADS_API_BASE_URL":
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "not an http(s) URL"
		}
	}
	return ""
}

func (v *Validator) checkFlags(cfg *config.RunConfig) []Finding {
	var findings []Finding

	if promote, ok := cfg.Flags[config.PromoteFlagKey]; !ok || promote {
		findings = append(findings, Finding{
			Severity: SeverityCritical,
			Code:     CodePromoteEnabled,
			Message:  "PROMOTE must be present and false before a canary run starts",
			Details:  map[string]any{"present": ok},
		})
	}

	for key, safe := range config.SafeFlagDefaults() {
		if key == config.PromoteFlagKey {
			continue // handled above with its own code
		}
		if got, ok := cfg.Flags[key]; !ok || got != safe {
			findings = append(findings, Finding{
				Severity: SeverityCritical,
				Code:     CodeFlagUnsafe,
				Message:  fmt.Sprintf("feature flag %s must be %t at run start", key, safe),
				Details:  map[string]any{"flag": key, "required": safe},
			})
		}
	}
	return findings
}

func (v *Validator) checkBudgets(cfg *config.RunConfig) []Finding {
	var findings []Finding
	for i, raw := range cfg.BudgetCaps {
		amount, err := config.ParseAmount(raw)
		if err != nil {
			findings = append(findings, Finding{
				Severity: SeverityCritical,
				Code:     CodeBudgetCapInvalid,
				Message:  fmt.Sprintf("budget cap %d: %v", i, err),
				Details:  map[string]any{"index": i, "raw": raw},
			})
			continue
		}
		if amount > v.limits.MaxDailyBudget {
			findings = append(findings, Finding{
				Severity: SeverityCritical,
				Code:     CodeBudgetCapExceeded,
				Message:  fmt.Sprintf("budget cap %.2f exceeds safety limit %.2f", amount, v.limits.MaxDailyBudget),
				Details:  map[string]any{"field": "budget_caps", "index": i, "value": amount, "limit": v.limits.MaxDailyBudget},
			})
		}
		if amount < 1.00 {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Code:     CodeBudgetCapLow,
				Message:  fmt.Sprintf("budget cap %.2f is below $1; the canary may collect no signal", amount),
				Details:  map[string]any{"index": i, "value": amount},
			})
		}
	}
	return findings
}

func (v *Validator) checkCPCs(cfg *config.RunConfig) []Finding {
	var findings []Finding
	for i, raw := range cfg.CPCCeilings {
		amount, err := config.ParseAmount(raw)
		if err != nil {
			findings = append(findings, Finding{
				Severity: SeverityCritical,
				Code:     CodeCPCCeilingInvalid,
				Message:  fmt.Sprintf("cpc ceiling %d: %v", i, err),
				Details:  map[string]any{"index": i, "raw": raw},
			})
			continue
		}
		if amount > v.limits.MaxCPCCeiling {
			findings = append(findings, Finding{
				Severity: SeverityCritical,
				Code:     CodeCPCCeilingExceeded,
				Message:  fmt.Sprintf("cpc ceiling %.2f exceeds safety limit %.2f", amount, v.limits.MaxCPCCeiling),
				Details:  map[string]any{"field": "cpc_ceilings", "index": i, "value": amount, "limit": v.limits.MaxCPCCeiling},
			})
		}
		if amount < 0.05 {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Code:     CodeCPCCeilingLow,
				Message:  fmt.Sprintf("cpc ceiling %.2f is below $0.05; ads may stop serving entirely", amount),
				Details:  map[string]any{"index": i, "value": amount},
			})
		}
	}
	return findings
}

func (v *Validator) checkSchedule(cfg *config.RunConfig) []Finding {
	var findings []Finding
	duration := cfg.Schedule.DurationMinutes

	if duration > v.limits.MaxWindowMinutes {
		findings = append(findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeWindowTooLong,
			Message:  fmt.Sprintf("schedule duration %d min exceeds safety limit %d min", duration, v.limits.MaxWindowMinutes),
			Details:  map[string]any{"field": "schedule.duration_minutes", "value": duration, "limit": v.limits.MaxWindowMinutes},
		})
	} else if duration < 30 {
		findings = append(findings, Finding{
			Severity: SeverityWarning,
			Code:     CodeWindowShort,
			Message:  fmt.Sprintf("schedule duration %d min is under 30 minutes; results may be noise", duration),
			Details:  map[string]any{"value": duration},
		})
	}

	start := cfg.PromoteWindow.StartAt
	if start.IsZero() {
		return findings
	}
	if wd := start.Weekday(); wd == time.Saturday || wd == time.Sunday {
		findings = append(findings, Finding{
			Severity: SeverityWarning,
			Code:     CodeWeekendSchedule,
			Message:  "canary window starts on a weekend; traffic patterns will not match baseline",
			Details:  map[string]any{"weekday": wd.String()},
		})
	}
	if hour := start.Hour(); hour < businessDayStart || hour >= businessDayEnd {
		findings = append(findings, Finding{
			Severity: SeverityWarning,
			Code:     CodeOffHoursSchedule,
			Message:  fmt.Sprintf("canary window starts at %02d:00, outside business hours (%02d:00-%02d:00)", hour, businessDayStart, businessDayEnd),
			Details:  map[string]any{"hour": hour},
		})
	}
	return findings
}

func (v *Validator) checkExclusions(cfg *config.RunConfig) []Finding {
	var findings []Finding

	if len(cfg.ExcludedCampaigns) == 0 {
		findings = append(findings, Finding{
			Severity: SeverityWarning,
			Code:     CodeExclusionsEmpty,
			Message:  "exclusion list is empty; every other campaign is unguarded against the automation",
		})
		return findings
	}

	for _, excluded := range cfg.ExcludedCampaigns {
		if strings.EqualFold(strings.TrimSpace(excluded), strings.TrimSpace(cfg.Campaign)) {
			findings = append(findings, Finding{
				Severity: SeverityCritical,
				Code:     CodeCampaignExcluded,
				Message:  fmt.Sprintf("canary campaign %q appears in its own exclusion list", cfg.Campaign),
				Details:  map[string]any{"field": "excluded_campaigns", "campaign": cfg.Campaign},
			})
			break
		}
	}
	return findings
}

func (v *Validator) checkPromoteWindow(cfg *config.RunConfig) []Finding {
	var findings []Finding
	start := cfg.PromoteWindow.StartAt
	if start.IsZero() {
		return findings
	}

	buffer := start.Sub(v.now())
	required := time.Duration(v.limits.RequiredStartBufferMinutes) * time.Minute
	if buffer < required {
		findings = append(findings, Finding{
			Severity: SeverityWarning,
			Code:     CodeStartBufferShort,
			Message: fmt.Sprintf("promote window starts in %s; %s of lead time is required to abort cleanly",
				buffer.Round(time.Second), required),
			Details: map[string]any{"buffer_seconds": int(buffer.Seconds()), "required_minutes": v.limits.RequiredStartBufferMinutes},
		})
	}

	end := start.Add(time.Duration(cfg.PromoteWindow.DurationMinutes) * time.Minute)
	if end.Hour() >= businessDayEnd || end.Hour() < businessDayStart || end.Weekday() != start.Weekday() {
		findings = append(findings, Finding{
			Severity: SeverityWarning,
			Code:     CodeWindowEndsOffHours,
			Message:  "promote window extends past business hours; nobody will be watching the tail of the run",
			Details:  map[string]any{"end": end.Format(time.RFC3339)},
		})
	}
	return findings
}

func (v *Validator) checkEnvironment(ctx context.Context) []Finding {
	if v.probe == nil {
		return []Finding{{
			Severity: SeverityCritical,
			Code:     CodeEnvProbeFailed,
			Message:  "no environment probe configured; backend availability cannot be verified",
		}}
	}
	if err := v.probe.Healthz(ctx); err != nil {
		return []Finding{{
			Severity: SeverityCritical,
			Code:     CodeEnvProbeFailed,
			Message:  fmt.Sprintf("environment health probe failed: %v", err),
		}}
	}
	return nil
}
