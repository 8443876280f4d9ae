// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/envmatrix/envmatrix/internal/issue"
	"github.com/envmatrix/envmatrix/internal/report"
	"github.com/envmatrix/envmatrix/internal/resultlog"

	"github.com/spf13/cobra"
)

const (
	// latestRun names the newest log of the results directory.
	latestRun = "latest"

	reportFormatGlamour  = "glamour"
	reportFormatMarkdown = "markdown"
	reportFormatTable    = "table"
)

// ErrInvalidReportFormat is the sentinel error wrapped by InvalidReportFormatError.
var ErrInvalidReportFormat = errors.New("invalid report format")

type (
	// InvalidReportFormatError is returned for an unknown --format value.
	InvalidReportFormatError struct {
		Value string
	}

	reportOptions struct {
		format    string
		width     int
		fromStore bool
	}
)

// Error implements the error interface.
func (e *InvalidReportFormatError) Error() string {
	return fmt.Sprintf("invalid report format %q (valid: %s, %s, %s)",
		e.Value, reportFormatGlamour, reportFormatMarkdown, reportFormatTable)
}

// Unwrap returns ErrInvalidReportFormat for errors.Is() compatibility.
func (e *InvalidReportFormatError) Unwrap() error { return ErrInvalidReportFormat }

func newReportCommand(app *App) *cobra.Command {
	var opts reportOptions

	reportCmd := &cobra.Command{
		Use:   "report <log.json|run-id>",
		Short: "Render a stored result log",
		Long: `Render a result log written by envmatrix run.

The argument is a log file, a run ID looked up in the results directory, or
"latest" for the newest log there. With --from-store the run ID is
downloaded from the configured object store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.report(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	reportCmd.Flags().StringVar(&opts.format, "format", reportFormatGlamour, "output format: glamour, markdown or table")
	reportCmd.Flags().IntVar(&opts.width, "width", 100, "word wrap width of the glamour output (0 disables wrapping)")
	reportCmd.Flags().BoolVar(&opts.fromStore, "from-store", false, "download the run from the object store configured in results.upload")

	return reportCmd
}

func (a *App) report(ctx context.Context, w io.Writer, arg string, opts reportOptions) error {
	switch opts.format {
	case reportFormatGlamour, reportFormatMarkdown, reportFormatTable:
	default:
		return configFailure(&InvalidReportFormatError{Value: opts.format})
	}

	cfg, err := a.loadConfig(ctx, "")
	if err != nil {
		return configFailure(err)
	}

	var log *resultlog.Log
	if opts.fromStore {
		log, err = a.downloadLog(ctx, arg)
	} else {
		log, err = readLog(arg, cfg.Results.Path)
	}
	if err != nil {
		return configFailure(issue.NewErrorContext().
			WithOperation("read result log").
			WithResource(arg).
			WithSuggestion("Pass the path printed after 'Result log:' by envmatrix run").
			WithIssue(issue.ResultLogNotFoundId).
			Wrap(err).
			BuildError())
	}

	agg := report.FromResults(log.Results, log.Unserved)
	switch opts.format {
	case reportFormatMarkdown:
		return agg.RenderMarkdown(w)
	case reportFormatTable:
		return agg.Render(w)
	default:
		return agg.RenderGlamour(w, string(cfg.UI.ColorScheme), opts.width)
	}
}

// readLog reads arg as a path, falling back to <resultsDir>/<arg>.json for
// bare run IDs.
func readLog(arg, resultsDir string) (*resultlog.Log, error) {
	if arg == latestRun {
		path, err := latestLog(resultsDir)
		if err != nil {
			return nil, err
		}
		return resultlog.Read(path)
	}

	log, err := resultlog.Read(arg)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return log, err
	}
	if strings.ContainsAny(arg, `/\`) || strings.HasSuffix(arg, ".json") {
		return nil, err
	}
	candidate := filepath.Join(resultsDir, resultlog.FileName(arg))
	if _, statErr := os.Stat(candidate); statErr != nil {
		return nil, err
	}
	return resultlog.Read(candidate)
}

func (a *App) downloadLog(ctx context.Context, runID string) (*resultlog.Log, error) {
	if !a.cfg.Results.Upload.Enabled() {
		return nil, errors.New("results.upload is not configured")
	}
	uploader, err := resultlog.NewUploader(a.cfg.Results.Upload)
	if err != nil {
		return nil, err
	}
	data, err := uploader.Download(ctx, runID)
	if err != nil {
		return nil, err
	}
	return resultlog.Unmarshal(data, uploader.ObjectKey(runID))
}

// latestLog returns the newest log file of dir. Run IDs are UUIDv7, so the
// lexically greatest name is the most recent run.
func latestLog(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no result logs in %s: %w", dir, fs.ErrNotExist)
	}
	return slices.Max(matches), nil
}
