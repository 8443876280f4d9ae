// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/envmatrix/envmatrix/internal/report"

	"github.com/charmbracelet/lipgloss"
)

// colorHighlight marks names the user can type back: stages, cells and
// environments. The other colors come from the report palette so command
// output and result tables match.
const colorHighlight = lipgloss.Color("#3B82F6")

var (
	// TitleStyle is for section titles such as "stage test".
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(report.ColorPrimary)

	// SubtitleStyle is for notes, table borders and de-emphasized text.
	SubtitleStyle = lipgloss.NewStyle().Foreground(report.ColorMuted)

	// SuccessStyle is for created files and configuration values.
	SuccessStyle = lipgloss.NewStyle().Foreground(report.ColorSuccess)

	// ErrorStyle is for the "Error:" prefix.
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(report.ColorError)

	// WarningStyle is for warnings and unscheduled cells.
	WarningStyle = lipgloss.NewStyle().Foreground(report.ColorWarning)

	// CmdStyle is for stage, cell and environment names.
	CmdStyle = lipgloss.NewStyle().Foreground(colorHighlight)
)
