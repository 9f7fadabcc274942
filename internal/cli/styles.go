// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// PALETTE
// =============================================================================

var (
	// cyan - prompts, commands, user highlights
	cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

	// purple - assistant accents
	purple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

	// emerald - success states
	emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

	// amber - transient status, warnings
	amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

	// rose - errors
	rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

	// textSecondary - supporting text
	textSecondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(cyan).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(purple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(textSecondary)

	commandStyle = lipgloss.NewStyle().
			Foreground(emerald)

	statusStyle = lipgloss.NewStyle().
			Foreground(amber)

	errorStyle = lipgloss.NewStyle().
			Foreground(rose).
			Bold(true)

	titleStyle = lipgloss.NewStyle().
			Foreground(cyan)
)
