// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for identifiers that end up
// in URLs, file paths, or backend queries.
//
// Tenant IDs, campaign names, and audience list IDs all originate from user
// configuration. Validating them here prevents path traversal and query
// injection before any of them reach the tenant backend client.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// tenantPattern matches tenant identifiers: lowercase alphanumeric with
// hyphens, 3-40 characters, no leading or trailing hyphen.
var tenantPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,38}[a-z0-9]$`)

// listIDPattern matches audience list IDs, which are purely numeric.
var listIDPattern = regexp.MustCompile(`^[0-9]+$`)

// ValidateTenant validates a tenant identifier.
//
// Valid tenants are 3-40 characters of lowercase letters, digits, and
// interior hyphens. The tenant ID is interpolated into backend URL paths,
// so anything else is rejected.
//
// Example:
//
//	if err := validation.ValidateTenant(tenant); err != nil {
//	    return fmt.Errorf("invalid tenant: %w", err)
//	}
func ValidateTenant(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("tenant cannot be empty")
	}
	if !tenantPattern.MatchString(tenant) {
		return fmt.Errorf("invalid tenant format: %q (must be 3-40 lowercase alphanumeric chars with interior hyphens)", tenant)
	}
	return nil
}

// ValidateCampaignName validates a campaign name.
//
// Campaign names are compared against exclusion lists and echoed into
// reports and mutation reasons. Control characters and separators that
// could corrupt logs or reports are rejected.
func ValidateCampaignName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("campaign name cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("campaign name too long: %d chars (max 128)", len(name))
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("campaign name contains control character %q", r)
		}
	}
	return nil
}

// ValidateListID validates an audience list ID.
//
// List IDs must be purely numeric; anything else is a configuration error
// (and would be rejected by the backend anyway, after a wasted call).
func ValidateListID(listID string) error {
	if listID == "" {
		return fmt.Errorf("list ID cannot be empty")
	}
	if !listIDPattern.MatchString(listID) {
		return fmt.Errorf("invalid list ID: %q (must be purely numeric)", listID)
	}
	return nil
}

// SanitizeTenant normalizes and validates a tenant identifier.
// Returns the lowercase tenant if valid, or an error.
func SanitizeTenant(tenant string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(tenant))
	if err := ValidateTenant(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
