// SPDX-License-Identifier: MPL-2.0

package report

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/envmatrix/envmatrix/pkg/types"
)

// Palette of the result tables. The CLI styles its own output with it.
const (
	ColorPrimary = lipgloss.Color("#7C3AED")
	ColorMuted   = lipgloss.Color("#6B7280")
	ColorSuccess = lipgloss.Color("#10B981")
	ColorError   = lipgloss.Color("#EF4444")
	ColorWarning = lipgloss.Color("#F59E0B")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	mutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	warningStyle = lipgloss.NewStyle().Foreground(ColorWarning)

	statusStyles = map[types.Status]lipgloss.Style{
		types.StatusPassed:  lipgloss.NewStyle().Foreground(ColorSuccess),
		types.StatusFailed:  lipgloss.NewStyle().Bold(true).Foreground(ColorError),
		types.StatusSkipped: lipgloss.NewStyle().Foreground(ColorWarning),
	}
)

// statusStyle returns the style for a status, unstyled for unknown values.
func statusStyle(s types.Status) lipgloss.Style {
	if style, ok := statusStyles[s]; ok {
		return style
	}
	return lipgloss.NewStyle()
}

// statusMark prefixes a status with its symbol.
func statusMark(s types.Status) string {
	switch s {
	case types.StatusPassed:
		return "✓ " + s.String()
	case types.StatusFailed:
		return "✗ " + s.String()
	default:
		return "- " + s.String()
	}
}
