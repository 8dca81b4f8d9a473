// Copyright (C) 2025 Peakform Labs (ops@peakform.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the adcanary CLI.
//
// Machine consumers read the JSON documents on stdout; this package only
// styles the human-facing summary lines on stderr. lipgloss degrades to
// plain text automatically when output is not a terminal.
package ux

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// adcanary palette - signal colors over a neutral base
var (
	ColorSuccess = lipgloss.Color("#36B37E") // green for pass/complete
	ColorWarning = lipgloss.Color("#F4D03F") // amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // red for critical/abort
	ColorInfo    = lipgloss.Color("#4C9AFF") // blue for neutral info
	ColorMuted   = lipgloss.Color("#6B778C") // grey for detail lines
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title    lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Info     lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorInfo),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Info:    lipgloss.NewStyle().Foreground(ColorInfo),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Verdict renders a pass/fail line for a validation or run outcome.
//
// Example:
//
//	fmt.Fprintln(os.Stderr, ux.Verdict(report.Passed, "validation"))
func Verdict(passed bool, subject string) string {
	if passed {
		return Styles.Success.Render("✓ " + subject + " passed")
	}
	return Styles.Error.Render("✗ " + subject + " failed")
}

// SeverityLine renders one finding line, colored by severity name
// (CRITICAL, WARNING, INFO).
func SeverityLine(severity, message string) string {
	var style lipgloss.Style
	switch severity {
	case "CRITICAL":
		style = Styles.Error
	case "WARNING":
		style = Styles.Warning
	default:
		style = Styles.Muted
	}
	return style.Render(fmt.Sprintf("  [%s] %s", severity, message))
}

// StateLine renders a run-state line for the rollback-manager status view.
func StateLine(state string) string {
	switch state {
	case "COMPLETE":
		return Styles.Success.Render("state: " + state)
	case "ABORTED":
		return Styles.Error.Render("state: " + state)
	case "ACTIVE", "COOLDOWN":
		return Styles.Warning.Render("state: " + state)
	default:
		return Styles.Muted.Render("state: " + state)
	}
}
