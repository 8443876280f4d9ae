// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/envmatrix/envmatrix/internal/resultlog"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newHistoryCommand(app *App) *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the history database",
		Long: `List recent runs recorded in the SQLite history database.

The database is written by envmatrix run when results.sqlite is set in the
configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd.Context(), "")
			if err != nil {
				return configFailure(err)
			}
			if cfg.Results.SQLite == "" {
				return configFailure(errors.New("results.sqlite is not configured"))
			}

			path, err := filepath.Abs(cfg.Results.SQLite)
			if err != nil {
				return err
			}
			h, err := resultlog.OpenHistory(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer h.Close()

			runs, err := h.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return renderHistory(cmd.OutOrStdout(), runs)
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show, newest first")
	return historyCmd
}

func renderHistory(w io.Writer, runs []resultlog.RunSummary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, SubtitleStyle.Render("No runs recorded."))
		return err
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		selector := r.Selector
		if selector == "" {
			selector = "all"
		}
		rows = append(rows, []string{
			r.RunID,
			r.StartedAt.Local().Format(time.DateTime),
			selector,
			string(r.Status),
			strconv.Itoa(r.Cells),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Skipped),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(SubtitleStyle).
		Headers("RUN", "STARTED", "SELECTOR", "STATUS", "CELLS", "FAILED", "SKIPPED").
		Rows(rows...)

	_, err := fmt.Fprintln(w, t.Render())
	return err
}
