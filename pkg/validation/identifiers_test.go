// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

// =============================================================================
// ValidateTenant Tests
// =============================================================================

func TestValidateTenant(t *testing.T) {
	tests := []struct {
		name    string
		tenant  string
		wantErr bool
	}{
		{"simple", "acme", false},
		{"with hyphens", "acme-coffee-uk", false},
		{"with digits", "shop42", false},
		{"empty", "", true},
		{"too short", "ab", true},
		{"uppercase", "Acme", true},
		{"leading hyphen", "-acme", true},
		{"trailing hyphen", "acme-", true},
		{"path traversal", "../etc", true},
		{"spaces", "acme shop", true},
		{"too long", strings.Repeat("a", 41), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTenant(tt.tenant)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTenant(%q) error = %v, wantErr %v", tt.tenant, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeTenant(t *testing.T) {
	got, err := SanitizeTenant("  Acme-Coffee  ")
	if err != nil {
		t.Fatalf("SanitizeTenant returned error: %v", err)
	}
	if got != "acme-coffee" {
		t.Errorf("SanitizeTenant = %q, want %q", got, "acme-coffee")
	}

	if _, err := SanitizeTenant("!!"); err == nil {
		t.Error("SanitizeTenant should reject invalid input")
	}
}

// =============================================================================
// ValidateCampaignName Tests
// =============================================================================

func TestValidateCampaignName(t *testing.T) {
	tests := []struct {
		name     string
		campaign string
		wantErr  bool
	}{
		{"plain", "Summer Sale 2025", false},
		{"unicode", "Kaffee & Kuchen", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"newline", "evil\ncampaign", true},
		{"tab", "evil\tcampaign", true},
		{"too long", strings.Repeat("x", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCampaignName(tt.campaign)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCampaignName(%q) error = %v, wantErr %v", tt.campaign, err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// ValidateListID Tests
// =============================================================================

func TestValidateListID(t *testing.T) {
	tests := []struct {
		name    string
		listID  string
		wantErr bool
	}{
		{"numeric", "123456789", false},
		{"single digit", "7", false},
		{"empty", "", true},
		{"alphanumeric", "123abc", true},
		{"negative", "-123", true},
		{"decimal", "12.5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateListID(tt.listID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateListID(%q) error = %v, wantErr %v", tt.listID, err, tt.wantErr)
			}
		})
	}
}
