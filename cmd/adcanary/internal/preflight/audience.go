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
	"math"
	"regexp"
	"time"

	"github.com/peakform/adcanary/cmd/adcanary/config"
	"github.com/peakform/adcanary/cmd/adcanary/internal/adsapi"
	"github.com/peakform/adcanary/cmd/adcanary/internal/safety"
	"github.com/peakform/adcanary/pkg/validation"
)

// =============================================================================
// Audience Validation
// =============================================================================

// AudienceLister is the single backend lookup the audience validator
// needs. adsapi.Backend satisfies it.
type AudienceLister interface {
	AudienceList(ctx context.Context, listID string) (adsapi.AudienceList, error)
}

// recordSampleLimit caps how many uploaded customer records are
// spot-checked; one lookup plus a bounded sample keeps validation O(1)
// in upload size.
const recordSampleLimit = 100

// validRecordThreshold and marginalRecordThreshold split the sample
// verdict: below 90% valid fails, 90-95% warns, above passes.
const (
	validRecordThreshold    = 0.90
	marginalRecordThreshold = 0.95
)

var sha256HexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// requiredConsentPurposes must all be declared when GDPR enforcement
// applies to the tenant.
var requiredConsentPurposes = []string{"marketing", "analytics"}

var acceptedLawfulBases = map[string]bool{
	"consent":             true,
	"legitimate_interest": true,
	"contract":            true,
}

const maxRetentionDays = 365

// AudienceReport extends the finding list with concrete remediation steps
// for the operator, since audience problems are usually fixable in the
// backend console rather than the run config.
type AudienceReport struct {
	Findings       []Finding `json:"findings"`
	FixSuggestions []string  `json:"fix_suggestions,omitempty"`
}

// AudienceValidator checks an audience attachment before a run touches it.
//
// # Description
//
// Performs exactly one backend lookup (the list itself) plus pure checks
// on the config and a bounded sample of uploaded records. GDPR checks run
// only when enforceGDPR is set; strict upgrades the small-list warning to
// critical.
type AudienceValidator struct {
	limits      safety.Limits
	lister      AudienceLister
	enforceGDPR bool
	strict      bool

	now func() time.Time
}

// NewAudienceValidator constructs an AudienceValidator.
func NewAudienceValidator(limits safety.Limits, lister AudienceLister, enforceGDPR, strict bool, now func() time.Time) *AudienceValidator {
	if now == nil {
		now = time.Now
	}
	return &AudienceValidator{limits: limits, lister: lister, enforceGDPR: enforceGDPR, strict: strict, now: now}
}

// Validate checks the audience config. A nil audience yields an empty
// report: attaching no audience is always safe.
func (v *AudienceValidator) Validate(ctx context.Context, audience *config.AudienceConfig) AudienceReport {
	if audience == nil {
		return AudienceReport{Findings: []Finding{}}
	}

	var report AudienceReport
	report.Findings = []Finding{}

	v.checkMode(audience, &report)
	v.checkBidModifier(audience, &report)
	v.checkList(ctx, audience, &report)
	if v.enforceGDPR {
		v.checkConsent(audience, &report)
	}
	v.checkRecordSample(audience, &report)

	return report
}

func (v *AudienceValidator) checkMode(audience *config.AudienceConfig, report *AudienceReport) {
	if audience.Mode == config.AudienceModeObserve {
		return
	}
	report.Findings = append(report.Findings, Finding{
		Severity: SeverityCritical,
		Code:     CodeAudienceModeUnsafe,
		Message:  fmt.Sprintf("audience mode %q is not allowed; canary runs must use %s", audience.Mode, config.AudienceModeObserve),
		Details:  map[string]any{"mode": audience.Mode},
	})
	report.FixSuggestions = append(report.FixSuggestions,
		fmt.Sprintf("set audience.mode to %s; targeting modes are out of scope for a canary", config.AudienceModeObserve))
}

func (v *AudienceValidator) checkBidModifier(audience *config.AudienceConfig, report *AudienceReport) {
	if math.Abs(audience.BidModifier) <= v.limits.MaxBidModifier {
		return
	}
	report.Findings = append(report.Findings, Finding{
		Severity: SeverityCritical,
		Code:     CodeBidModifierExceeded,
		Message: fmt.Sprintf("bid modifier %+.2f exceeds the ±%.2f safety limit",
			audience.BidModifier, v.limits.MaxBidModifier),
		Details: map[string]any{"value": audience.BidModifier, "limit": v.limits.MaxBidModifier},
	})
	report.FixSuggestions = append(report.FixSuggestions,
		fmt.Sprintf("reduce audience.bid_modifier to within ±%.2f", v.limits.MaxBidModifier))
}

func (v *AudienceValidator) checkList(ctx context.Context, audience *config.AudienceConfig, report *AudienceReport) {
	if err := validation.ValidateListID(audience.ListID); err != nil {
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeListIDInvalid,
			Message:  err.Error(),
			Details:  map[string]any{"list_id": audience.ListID},
		})
		return // no point looking up a malformed ID
	}

	list, err := v.lister.AudienceList(ctx, audience.ListID)
	if err != nil {
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeListLookupFailed,
			Message:  fmt.Sprintf("audience list lookup failed: %v", err),
			Details:  map[string]any{"list_id": audience.ListID},
		})
		return
	}

	if !list.Exists {
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeListMissing,
			Message:  fmt.Sprintf("audience list %s does not exist", audience.ListID),
			Details:  map[string]any{"list_id": audience.ListID},
		})
		report.FixSuggestions = append(report.FixSuggestions,
			"verify the list ID in the backend console; the list may have been deleted")
		return
	}

	if list.Status != "ENABLED" {
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeListDisabled,
			Message:  fmt.Sprintf("audience list %s has status %s; only ENABLED lists may be attached", audience.ListID, list.Status),
			Details:  map[string]any{"list_id": audience.ListID, "status": list.Status},
		})
		report.FixSuggestions = append(report.FixSuggestions,
			"re-enable the list in the backend console before the run")
	}

	if !list.CanTarget {
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeListTypeIncompatible,
			Message:  fmt.Sprintf("audience list %s (type %s) cannot be targeted by this campaign type", audience.ListID, list.Type),
			Details:  map[string]any{"list_id": audience.ListID, "type": list.Type},
		})
	}

	if list.Size < v.limits.MinAudienceSize {
		severity := SeverityWarning
		if v.strict {
			severity = SeverityCritical
		}
		report.Findings = append(report.Findings, Finding{
			Severity: severity,
			Code:     CodeListTooSmall,
			Message: fmt.Sprintf("audience list %s has %d members, below the %d minimum for statistically useful results",
				audience.ListID, list.Size, v.limits.MinAudienceSize),
			Details: map[string]any{"list_id": audience.ListID, "size": list.Size, "minimum": v.limits.MinAudienceSize},
		})
		report.FixSuggestions = append(report.FixSuggestions,
			"wait for the list to grow, or pick a larger list for the canary")
	}
}

func (v *AudienceValidator) checkConsent(audience *config.AudienceConfig, report *AudienceReport) {
	consent := audience.Consent
	if consent == nil {
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeConsentMissing,
			Message:  "GDPR enforcement is active but the audience carries no consent metadata",
		})
		report.FixSuggestions = append(report.FixSuggestions,
			"add audience.consent with purposes, lawful_basis, and retention_days")
		return
	}

	declared := make(map[string]bool, len(consent.Purposes))
	for _, p := range consent.Purposes {
		declared[p] = true
	}
	for _, required := range requiredConsentPurposes {
		if !declared[required] {
			report.Findings = append(report.Findings, Finding{
				Severity: SeverityCritical,
				Code:     CodeConsentPurposes,
				Message:  fmt.Sprintf("consent purposes must include %q", required),
				Details:  map[string]any{"declared": consent.Purposes, "missing": required},
			})
		}
	}

	if !acceptedLawfulBases[consent.LawfulBasis] {
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeConsentLawfulBasis,
			Message:  fmt.Sprintf("lawful basis %q is not an accepted GDPR basis", consent.LawfulBasis),
			Details:  map[string]any{"lawful_basis": consent.LawfulBasis},
		})
	}

	if consent.RetentionDays > maxRetentionDays {
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeConsentRetention,
			Message:  fmt.Sprintf("retention of %d days exceeds the %d-day maximum", consent.RetentionDays, maxRetentionDays),
			Details:  map[string]any{"retention_days": consent.RetentionDays, "maximum": maxRetentionDays},
		})
		report.FixSuggestions = append(report.FixSuggestions,
			fmt.Sprintf("reduce audience.consent.retention_days to at most %d", maxRetentionDays))
	}
}

// checkRecordSample spot-checks up to recordSampleLimit uploaded records:
// the hashed identifier must be a sha256 hex digest, and under GDPR
// enforcement the record's consent must not be older than the declared
// retention period.
func (v *AudienceValidator) checkRecordSample(audience *config.AudienceConfig, report *AudienceReport) {
	records := audience.CustomerRecords
	if len(records) == 0 {
		return
	}
	if len(records) > recordSampleLimit {
		records = records[:recordSampleLimit]
	}

	retention := time.Duration(0)
	if v.enforceGDPR && audience.Consent != nil && audience.Consent.RetentionDays > 0 {
		retention = time.Duration(audience.Consent.RetentionDays) * 24 * time.Hour
	}

	valid := 0
	for _, rec := range records {
		if !sha256HexPattern.MatchString(rec.HashedEmail) {
			continue
		}
		if retention > 0 {
			if rec.ConsentTimestamp.IsZero() || v.now().Sub(rec.ConsentTimestamp) > retention {
				continue
			}
		}
		valid++
	}

	ratio := float64(valid) / float64(len(records))
	switch {
	case ratio < validRecordThreshold:
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityCritical,
			Code:     CodeRecordSampleFailed,
			Message: fmt.Sprintf("only %d of %d sampled records are valid (%.0f%%); at least %.0f%% required",
				valid, len(records), ratio*100, validRecordThreshold*100),
			Details: map[string]any{"valid": valid, "sampled": len(records)},
		})
		report.FixSuggestions = append(report.FixSuggestions,
			"re-export the audience with sha256-hashed, lowercase-hex identifiers and fresh consent timestamps")
	case ratio < marginalRecordThreshold:
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityWarning,
			Code:     CodeRecordSampleMarginal,
			Message: fmt.Sprintf("%d of %d sampled records are valid (%.0f%%); match quality will suffer",
				valid, len(records), ratio*100),
			Details: map[string]any{"valid": valid, "sampled": len(records)},
		})
	}
}
