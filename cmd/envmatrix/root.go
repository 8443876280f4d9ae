// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for envmatrix.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/envmatrix/envmatrix/internal/config"
	"github.com/envmatrix/envmatrix/internal/issue"
	"github.com/envmatrix/envmatrix/pkg/types"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

type (
	// App holds the dependencies and global flag values shared by all
	// commands of one process.
	App struct {
		// Config loads the effective configuration.
		Config config.Provider

		configFile string
		verbose    bool
		logLevel   string

		cfg    *config.Config
		logger *slog.Logger
		logOut io.Writer
	}
)

// NewApp returns an App backed by the file configuration provider.
func NewApp() *App {
	return &App{Config: config.NewProvider(), logger: slog.Default(), logOut: os.Stderr}
}

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "envmatrix",
		Short: "Run a test matrix across isolated environments",
		Long: TitleStyle.Render("envmatrix") + SubtitleStyle.Render(" - Run a test matrix across isolated environments") + `

envmatrix reads named environments from an INI registry (envmatrix.ini),
expands an optional CUE or YAML workflow into a staged matrix of cells,
and runs every cell in its own environment: host venvs, the embedded
virtual shell, or Docker/Podman containers.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Describe environments in envmatrix.ini
  2. Optionally describe stages and axes in a workflow file
  3. Run the matrix with: envmatrix run

` + SubtitleStyle.Render("Examples:") + `
  envmatrix run                   Run every environment once on this host
  envmatrix run -w matrix.cue     Run the staged matrix of a workflow
  envmatrix run lint              Run only the cells of stage or environment "lint"
  envmatrix list-cells -w ci.yml  Show the expanded matrix
  envmatrix report <log.json>     Render a stored result log`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.setupLogging(cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.configFile, "config", "", "config file (default is $HOME/.config/envmatrix/config.cue)")
	rootCmd.PersistentFlags().StringVar(&app.logLevel, "log-level", "", "log level: debug, info, warn or error (default warn, debug with --verbose)")

	rootCmd.AddCommand(newRunCommand(app))
	rootCmd.AddCommand(newListEnvironmentsCommand(app))
	rootCmd.AddCommand(newListCellsCommand(app))
	rootCmd.AddCommand(newReportCommand(app))
	rootCmd.AddCommand(newHistoryCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits the process with the command's exit code.
// This is called by main.main().
func Execute() {
	app := NewApp()
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(app.handleError),
	); err != nil {
		os.Exit(int(exitCodeFor(err)))
	}
}

// exitCodeFor maps a command error to the process exit code. Errors that do
// not carry an ExitError are usage or configuration problems.
func exitCodeFor(err error) types.ExitCode {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return types.ExitConfigError
}

// handleError prints err for the user. ExitErrors without a cause only carry
// an exit code: the report already told the story.
func (a *App) handleError(w io.Writer, _ fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}

	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		if entry := ae.Issue(); entry != nil {
			rendered, renderErr := entry.Render(a.glamourStyle())
			if renderErr != nil {
				slog.Warn("failed to render issue catalog entry", "issueID", ae.IssueID, "error", renderErr)
			} else {
				fmt.Fprint(w, rendered)
			}
		}
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, a.verbose))
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// loadConfig loads the configuration once per process. baseDir is the
// project directory searched for .envmatrix/config.cue.
func (a *App) loadConfig(ctx context.Context, baseDir string) (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configFile, BaseDir: baseDir})
	if err != nil {
		return nil, err
	}
	a.cfg = cfg

	// The config file may turn on verbose output the flag left off.
	if cfg.UI.Verbose && !a.verbose {
		a.verbose = true
		if a.logLevel == "" {
			a.installLogger(a.logOut, levelFor(a.logLevel, a.verbose))
		}
	}
	return cfg, nil
}

// glamourStyle maps the configured color scheme to a glamour style name.
func (a *App) glamourStyle() string {
	if a.cfg == nil {
		return string(config.ColorSchemeAuto)
	}
	return string(a.cfg.UI.ColorScheme)
}
