// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package preflight gates entry into a canary run.
//
// The validator turns a run configuration into a pass/fail verdict with
// categorized findings. It never returns an error for a bad config: every
// problem becomes a finding in the report so the caller sees all of them
// at once, and `Passed` is the single bit the orchestrator trusts.
package preflight

import "time"

// =============================================================================
// Findings
// =============================================================================

// FindingSeverity classifies one validation finding.
type FindingSeverity string

const (
	SeverityCritical FindingSeverity = "CRITICAL"
	SeverityWarning  FindingSeverity = "WARNING"
	SeverityInfo     FindingSeverity = "INFO"
)

// Finding is one validation observation. Details carries the structured
// values behind the message (field name, limit, observed value) so reports
// stay machine-parseable.
type Finding struct {
	Severity FindingSeverity `json:"severity"`
	Code     string          `json:"code"`
	Message  string          `json:"message"`
	Details  map[string]any  `json:"details,omitempty"`
}

// Finding codes. Stable identifiers; reports and tests key on these.
const (
	CodeEnvSecretMissing   = "ENV_SECRET_MISSING"
	CodeEnvSecretMalformed = "ENV_SECRET_MALFORMED"
	CodeEnvProbeFailed     = "ENV_PROBE_FAILED"
	CodeFlagUnsafe         = "FLAG_UNSAFE"
	CodePromoteEnabled     = "PROMOTE_ENABLED"
	CodeTenantInvalid      = "TENANT_INVALID"
	CodeCampaignInvalid    = "CAMPAIGN_NAME_INVALID"
	CodeBudgetCapExceeded  = "BUDGET_CAP_EXCEEDED"
	CodeBudgetCapLow       = "BUDGET_CAP_LOW"
	CodeBudgetCapInvalid   = "BUDGET_CAP_INVALID"
	CodeCPCCeilingExceeded = "CPC_CEILING_EXCEEDED"
	CodeCPCCeilingLow      = "CPC_CEILING_LOW"
	CodeCPCCeilingInvalid  = "CPC_CEILING_INVALID"
	CodeWindowTooLong      = "WINDOW_TOO_LONG"
	CodeWindowShort        = "WINDOW_SHORT"
	CodeOffHoursSchedule   = "OFF_HOURS_SCHEDULE"
	CodeWeekendSchedule    = "WEEKEND_SCHEDULE"
	CodeCampaignExcluded   = "CAMPAIGN_EXCLUDED"
	CodeExclusionsEmpty    = "EXCLUSION_LIST_EMPTY"
	CodeStartBufferShort   = "START_BUFFER_SHORT"
	CodeWindowEndsOffHours = "WINDOW_ENDS_OFF_HOURS"
	CodeValidatorPanic     = "VALIDATOR_PANIC"

	CodeAudienceModeUnsafe   = "AUDIENCE_MODE_UNSAFE"
	CodeBidModifierExceeded  = "BID_MODIFIER_EXCEEDED"
	CodeListIDInvalid        = "LIST_ID_INVALID"
	CodeListLookupFailed     = "LIST_LOOKUP_FAILED"
	CodeListMissing          = "LIST_MISSING"
	CodeListDisabled         = "LIST_DISABLED"
	CodeListTypeIncompatible = "LIST_TYPE_INCOMPATIBLE"
	CodeListTooSmall         = "LIST_TOO_SMALL"
	CodeConsentMissing       = "CONSENT_MISSING"
	CodeConsentPurposes      = "CONSENT_PURPOSES_INSUFFICIENT"
	CodeConsentLawfulBasis   = "CONSENT_LAWFUL_BASIS_INVALID"
	CodeConsentRetention     = "CONSENT_RETENTION_EXCESSIVE"
	CodeRecordSampleFailed   = "RECORD_SAMPLE_FAILED"
	CodeRecordSampleMarginal = "RECORD_SAMPLE_MARGINAL"
)

// =============================================================================
// Report
// =============================================================================

// Recommendation is the validator's overall advice to the caller.
type Recommendation string

const (
	RecommendAbort              Recommendation = "ABORT"
	RecommendReview             Recommendation = "REVIEW"
	RecommendProceedWithCaution Recommendation = "PROCEED_WITH_CAUTION"
	RecommendProceed            Recommendation = "PROCEED"
)

// Report is the immutable result of one validator invocation.
//
// Passed is true iff there are zero critical findings. In strict mode the
// caller additionally treats warnings as blocking; that policy lives at
// the call site, not here, so the same report serves both modes.
type Report struct {
	Findings       []Finding      `json:"findings"`
	Passed         bool           `json:"passed"`
	Recommendation Recommendation `json:"recommendation"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// NewReport derives the verdict and recommendation from findings.
func NewReport(findings []Finding, now time.Time) Report {
	criticals := 0
	warnings := 0
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			criticals++
		case SeverityWarning:
			warnings++
		}
	}

	rec := RecommendProceed
	switch {
	case criticals > 0:
		rec = RecommendAbort
	case warnings > 2:
		rec = RecommendReview
	case warnings > 0:
		rec = RecommendProceedWithCaution
	}

	if findings == nil {
		findings = []Finding{}
	}
	return Report{
		Findings:       findings,
		Passed:         criticals == 0,
		Recommendation: rec,
		GeneratedAt:    now,
	}
}

// CriticalCount returns the number of critical findings.
func (r Report) CriticalCount() int {
	return r.countBy(SeverityCritical)
}

// WarningCount returns the number of warning findings.
func (r Report) WarningCount() int {
	return r.countBy(SeverityWarning)
}

// HasCode reports whether any finding carries the given code.
func (r Report) HasCode(code string) bool {
	for _, f := range r.Findings {
		if f.Code == code {
			return true
		}
	}
	return false
}

// PassedStrict reports whether the run may proceed under strict mode,
// where warnings block as well.
func (r Report) PassedStrict() bool {
	return r.Passed && r.WarningCount() == 0
}

func (r Report) countBy(severity FindingSeverity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == severity {
			n++
		}
	}
	return n
}
