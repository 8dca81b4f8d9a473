// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines the run configuration for a single canary attempt
// and its YAML loader.
//
// A RunConfig is created once per canary run, supplied by the caller, and
// immutable for the run's lifetime. Loading only rejects malformed YAML and
// structurally invalid documents; the safety semantics (caps within limits,
// exclusion lists, promote-window buffers) are the preflight validator's
// job, which reports findings instead of errors.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PromoteFlagKey is the tenant configuration key gating live mutations.
// It must be false at RunConfig creation time; the orchestrator is the only
// component that ever enables it, and every rollback path disables it first.
const PromoteFlagKey = "PROMOTE"

// AudienceModeObserve is the only audience mode a canary may use. OBSERVE
// reports on overlap without altering targeting or bids beyond the declared
// modifier.
const AudienceModeObserve = "OBSERVE"

type RunConfig struct {
	// Tenant is the tenant identifier the run operates on behalf of.
	Tenant string `yaml:"tenant" validate:"required"`

	// Campaign is the single campaign this canary run may touch.
	Campaign string `yaml:"campaign" validate:"required"`

	// BudgetCaps are the daily budget caps to apply, as decimal dollar
	// strings (e.g. "3.00"). Strings, not floats: the caller's sheet
	// exports them as text and we validate the exact value they typed.
	BudgetCaps []string `yaml:"budget_caps" validate:"required,min=1"`

	// CPCCeilings are the cost-per-click ceilings, decimal dollar strings.
	CPCCeilings []string `yaml:"cpc_ceilings" validate:"required,min=1"`

	// Schedule is the ad schedule window the canary applies.
	Schedule ScheduleConfig `yaml:"schedule"`

	// ExcludedCampaigns are campaigns the automation must never touch.
	// The canary campaign itself must NOT appear here.
	ExcludedCampaigns []string `yaml:"excluded_campaigns"`

	// Audience optionally attaches an audience list to the campaign.
	Audience *AudienceConfig `yaml:"audience,omitempty"`

	// Flags is the feature-flag bundle the run starts from. It must match
	// the safe defaults (see SafeFlagDefaults), in particular PROMOTE=false.
	Flags map[string]bool `yaml:"flags"`

	// PromoteWindow bounds when and for how long the promote flag may be on.
	PromoteWindow PromoteWindow `yaml:"promote_window"`
}

// ScheduleConfig is the ad schedule change under trial.
type ScheduleConfig struct {
	// StartExpr is the schedule start expression as the caller wrote it
	// (e.g. "weekdays 09:00"). Echoed into reports, not parsed here.
	StartExpr string `yaml:"start_expr"`

	// DurationMinutes is the schedule window length.
	DurationMinutes int `yaml:"duration_minutes" validate:"required,gt=0"`
}

// PromoteWindow bounds the live portion of the run.
type PromoteWindow struct {
	// StartAt is when the Active phase may begin, RFC3339.
	StartAt time.Time `yaml:"start_at" validate:"required"`

	// DurationMinutes is the Active window length.
	DurationMinutes int `yaml:"duration_minutes" validate:"required,gt=0"`
}

// AudienceConfig describes an audience-attachment under trial.
type AudienceConfig struct {
	// ListID is the audience list identifier. Purely numeric.
	ListID string `yaml:"list_id" validate:"required"`

	// Mode must be OBSERVE for canary runs.
	Mode string `yaml:"mode" validate:"required"`

	// BidModifier is the bid adjustment, as a fraction (0.05 = +5%).
	BidModifier float64 `yaml:"bid_modifier"`

	// Consent carries the GDPR metadata for the list.
	Consent *ConsentConfig `yaml:"consent,omitempty"`

	// CustomerRecords is an optional batch of uploaded records to
	// spot-check before attachment.
	CustomerRecords []CustomerRecord `yaml:"customer_records,omitempty"`
}

// ConsentConfig is the GDPR metadata validated when enforcement is enabled.
type ConsentConfig struct {
	Purposes      []string `yaml:"purposes"`
	LawfulBasis   string   `yaml:"lawful_basis"`
	RetentionDays int      `yaml:"retention_days"`
}

// CustomerRecord is one uploaded audience record.
type CustomerRecord struct {
	// HashedEmail is the sha256 hex digest of the normalized email.
	HashedEmail string `yaml:"hashed_email"`

	// ConsentTimestamp is when consent was collected. Zero means unknown.
	ConsentTimestamp time.Time `yaml:"consent_timestamp,omitempty"`
}

// SafeFlagDefaults is the flag bundle a run must start from. Anything else
// means a previous run left the tenant dirty, and the canary must not start.
func SafeFlagDefaults() map[string]bool {
	return map[string]bool{
		PromoteFlagKey: false,
		"LIVE_BIDDING": false,
		"AUTOPILOT":    false,
	}
}

// ParseAmount parses a decimal dollar string ("3.00") into a float64.
//
// Rejects negatives, empty strings, and anything with more than two
// decimal places, since the backend rounds to cents.
func ParseAmount(s string) (float64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("amount cannot be empty")
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("amount cannot be negative: %q", s)
	}
	if dot := strings.IndexByte(trimmed, '.'); dot >= 0 && len(trimmed)-dot-1 > 2 {
		return 0, fmt.Errorf("amount %q has sub-cent precision", s)
	}
	return value, nil
}
