// SPDX-License-Identifier: MPL-2.0

package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/envmatrix/envmatrix/internal/executor"
	"github.com/envmatrix/envmatrix/pkg/types"
)

// Render writes the report as a styled table followed by warnings,
// unserved cells and the overall status.
func (a *Aggregator) Render(w io.Writer) error {
	results := a.Results()
	unserved := a.Unserved()

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Cell,
			string(r.Environment),
			string(r.OS),
			statusMark(r.Status),
			formatDuration(r.Duration()),
			Detail(r),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers("CELL", "ENVIRONMENT", "OS", "STATUS", "TIME", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 3 && row >= 0 && row < len(results) {
				return statusStyle(results[row].Status).Padding(0, 1)
			}
			return cellStyle
		})

	var b strings.Builder
	b.WriteString(titleStyle.Render("Results"))
	b.WriteString("\n")
	b.WriteString(t.Render())
	b.WriteString("\n")

	for _, r := range results {
		for _, warn := range r.Warnings() {
			b.WriteString(warningStyle.Render(fmt.Sprintf("warning: %s: allowed failure %q %s", r.Cell, warn.Command, warn.ExitCode.Describe())))
			b.WriteString("\n")
		}
	}
	for _, c := range unserved {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("not scheduled: %s (no %s host)", c.ID, c.OS)))
		b.WriteString("\n")
	}

	status := OverallStatus(results)
	b.WriteString("\n")
	b.WriteString(summaryLine(results))
	b.WriteString(" ")
	b.WriteString(statusStyle(status).Render(strings.ToUpper(status.String())))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderMarkdown writes the report as a Markdown document.
func (a *Aggregator) RenderMarkdown(w io.Writer) error {
	results := a.Results()
	unserved := a.Unserved()
	status := OverallStatus(results)

	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", strings.ToUpper(status.String()))
	b.WriteString(summaryLine(results))
	b.WriteString("\n\n")

	if len(results) > 0 {
		b.WriteString("| Cell | Environment | OS | Status | Time | Detail |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, r := range results {
			fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s | %s |\n",
				r.Cell, r.Environment, r.OS, statusMark(r.Status),
				formatDuration(r.Duration()), markdownEscape(Detail(r)))
		}
		b.WriteString("\n")
	}

	var warnings []string
	for _, r := range results {
		for _, warn := range r.Warnings() {
			warnings = append(warnings, fmt.Sprintf("- `%s`: `%s` %s", r.Cell, warn.Command, warn.ExitCode.Describe()))
		}
	}
	if len(warnings) > 0 {
		b.WriteString("## Allowed failures\n\n")
		b.WriteString(strings.Join(warnings, "\n"))
		b.WriteString("\n\n")
	}

	if len(unserved) > 0 {
		b.WriteString("## Not scheduled on this host\n\n")
		for _, c := range unserved {
			fmt.Fprintf(&b, "- `%s` (%s)\n", c.ID, c.OS)
		}
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderGlamour renders the Markdown report for a terminal with the given
// glamour style ("auto", "dark", "light" or a style file path).
func (a *Aggregator) RenderGlamour(w io.Writer, style string, width int) error {
	var md strings.Builder
	if err := a.RenderMarkdown(&md); err != nil {
		return err
	}

	opts := []glamour.TermRendererOption{glamour.WithStylePath(style)}
	if style == "" || style == "auto" {
		opts = []glamour.TermRendererOption{glamour.WithAutoStyle()}
	}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}

	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	out, err := renderer.Render(md.String())
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

// Detail explains a result: the first failing step for failures, the
// reason for skips and the allowed-failure count for passes.
func Detail(r executor.RunResult) string {
	switch r.Status {
	case types.StatusFailed:
		if c, ok := r.FirstFailure(); ok {
			return fmt.Sprintf("%q %s", c.Command, c.ExitCode.Describe())
		}
		for _, step := range r.InstallResults {
			if step.ExitCode != 0 {
				return fmt.Sprintf("install %s %s", step.Step, step.ExitCode.Describe())
			}
		}
		return r.Reason
	case types.StatusSkipped:
		return r.Reason
	default:
		if r.AllowedFailures > 0 {
			return fmt.Sprintf("%d allowed failure(s)", r.AllowedFailures)
		}
		return ""
	}
}

func summaryLine(results []executor.RunResult) string {
	counts := countStatuses(results)
	return fmt.Sprintf("%d cells: %d passed, %d failed, %d skipped.",
		len(results), counts[types.StatusPassed], counts[types.StatusFailed], counts[types.StatusSkipped])
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(10 * time.Millisecond).String()
}

func markdownEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
