// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package safety defines the shared value types of the canary controller:
// the immutable safety ceilings, severity tiers, trigger names, run states,
// and the metrics snapshot exchanged between the probe, the trigger
// evaluator, and the orchestrator.
//
// Nothing in this package performs I/O. All types are plain values so the
// validator, evaluator, and rollback executor stay pure and testable.
package safety

// =============================================================================
// Safety Limits
// =============================================================================

// Limits is the immutable set of numeric ceilings every canary run is
// bounded by.
//
// # Description
//
// A Limits value is constructed once (usually via DefaultLimits) and
// injected into the validator and orchestrator. It is never mutated at
// runtime; tests substitute tighter or looser values by constructing
// their own.
//
// # Assumptions
//
//   - Monetary fields are whole dollars (the tenant backend speaks dollars)
//   - Durations are expressed in minutes to match the run configuration
type Limits struct {
	// MaxDailyBudget is the largest daily budget cap a canary may set, in dollars.
	MaxDailyBudget float64

	// MaxCPCCeiling is the largest cost-per-click ceiling allowed, in dollars.
	MaxCPCCeiling float64

	// MaxWindowMinutes bounds the length of the active canary window.
	MaxWindowMinutes int

	// MinAudienceSize is the smallest audience list a canary may attach.
	MinAudienceSize int

	// MaxBidModifier bounds the magnitude of an audience bid modifier.
	MaxBidModifier float64

	// RequiredStartBufferMinutes is the minimum lead time between "now" and
	// the configured promote-window start.
	RequiredStartBufferMinutes int
}

// DefaultLimits returns the production ceilings.
//
// These are deliberately conservative: a canary run exists to try one
// change on one campaign, not to move real money.
func DefaultLimits() Limits {
	return Limits{
		MaxDailyBudget:             10.00,
		MaxCPCCeiling:              0.50,
		MaxWindowMinutes:           120,
		MinAudienceSize:            1000,
		MaxBidModifier:             0.10,
		RequiredStartBufferMinutes: 5,
	}
}
