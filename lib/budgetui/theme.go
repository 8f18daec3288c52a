// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budgetui

import "github.com/charmbracelet/lipgloss"

// Theme is the dashboard palette. All colors are lipgloss ANSI 256
// codes for broad terminal compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Selected row.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Budget condition colors: healthy remaining, low-water, and
	// exhausted.
	BudgetHealthy   lipgloss.Color
	BudgetLowWater  lipgloss.Color
	BudgetExhausted lipgloss.Color

	// Change request status colors.
	RequestPending   lipgloss.Color
	RequestApproved  lipgloss.Color
	RequestRejected  lipgloss.Color
	RequestCancelled lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Filter match highlighting.
	MatchForeground lipgloss.Color

	// Markdown rendering.
	CodeForeground    lipgloss.Color
	HeadingForeground lipgloss.Color
	QuoteForeground   lipgloss.Color
}

// DefaultTheme is the built-in dark-terminal scheme.
var DefaultTheme = Theme{
	NormalText:         lipgloss.Color("252"),
	FaintText:          lipgloss.Color("243"),
	SelectedBackground: lipgloss.Color("237"),
	SelectedForeground: lipgloss.Color("255"),

	BudgetHealthy:   lipgloss.Color("108"),
	BudgetLowWater:  lipgloss.Color("179"),
	BudgetExhausted: lipgloss.Color("167"),

	RequestPending:   lipgloss.Color("179"),
	RequestApproved:  lipgloss.Color("108"),
	RequestRejected:  lipgloss.Color("167"),
	RequestCancelled: lipgloss.Color("243"),

	HeaderForeground: lipgloss.Color("110"),
	BorderColor:      lipgloss.Color("238"),
	HelpText:         lipgloss.Color("243"),

	MatchForeground: lipgloss.Color("215"),

	CodeForeground:    lipgloss.Color("186"),
	HeadingForeground: lipgloss.Color("110"),
	QuoteForeground:   lipgloss.Color("146"),
}

// RequestStatusColor maps a change request status to its color.
func (t Theme) RequestStatusColor(status string) lipgloss.Color {
	switch status {
	case "pending":
		return t.RequestPending
	case "approved":
		return t.RequestApproved
	case "rejected":
		return t.RequestRejected
	case "cancelled":
		return t.RequestCancelled
	default:
		return t.FaintText
	}
}
