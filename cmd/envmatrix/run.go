// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/envmatrix/envmatrix/internal/config"
	"github.com/envmatrix/envmatrix/internal/executor"
	"github.com/envmatrix/envmatrix/internal/issue"
	"github.com/envmatrix/envmatrix/internal/report"
	"github.com/envmatrix/envmatrix/internal/resultlog"
	"github.com/envmatrix/envmatrix/internal/runtime"
	"github.com/envmatrix/envmatrix/internal/scheduler"
	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/types"

	"github.com/spf13/cobra"
)

// runOptions holds the flags of `envmatrix run`.
type runOptions struct {
	projectOptions
	extras                 []string
	jobs                   int
	continueOnStageFailure bool
	runtime                string
	results                string
	keepEnvs               bool
}

func newRunCommand(app *App) *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run [selector|all]",
		Short: "Run the matrix",
		Long: `Run the matrix.

The selector picks cells by stage name, cell ID, environment name or a glob
over cell IDs ("test:py3.1*"). Without a selector, or with "all", every cell
runs. Stages run in order; a stage starts only when no earlier cell failed.

Exit status: 0 when every cell passed, 1 when a cell failed or was skipped,
2 for configuration errors found before any cell ran.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.selector = args[0]
			}
			return app.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, cmd.Flags().Changed("keep-envs"))
		},
	}

	addProjectFlags(runCmd, &opts.projectOptions)
	runCmd.Flags().StringSliceVar(&opts.extras, "extras", nil, "extras to install in every environment, in addition to its own")
	runCmd.Flags().IntVarP(&opts.jobs, "jobs", "j", 0, "number of cells run at the same time (default from config concurrency)")
	runCmd.Flags().BoolVar(&opts.continueOnStageFailure, "continue-on-stage-failure", false, "start later stages even when a cell failed")
	runCmd.Flags().StringVar(&opts.runtime, "runtime", "", "runtime provider: host, virtual or container (default from config)")
	runCmd.Flags().StringVar(&opts.results, "results", "", "directory that receives the result log (default from config)")
	runCmd.Flags().BoolVar(&opts.keepEnvs, "keep-envs", false, "keep cell directories after the run")

	return runCmd
}

// addProjectFlags registers the registry and workflow flags.
func addProjectFlags(cmd *cobra.Command, opts *projectOptions) {
	cmd.Flags().StringVarP(&opts.registryPath, "registry", "r", envspec.DefaultRegistryFile, "environment registry file")
	cmd.Flags().StringVarP(&opts.workflowPath, "workflow", "w", "", "matrix workflow file (.cue, .yml or .yaml)")
}

func (a *App) run(ctx context.Context, stdout, stderr io.Writer, opts runOptions, keepEnvsSet bool) error {
	p, err := a.loadProject(ctx, opts.projectOptions)
	if err != nil {
		return configFailure(err)
	}

	cfg := p.cfg
	if err := applyRunOverrides(cfg, opts, keepEnvsSet); err != nil {
		return configFailure(err)
	}
	extras, err := extraNames(opts.extras)
	if err != nil {
		return configFailure(err)
	}
	jobs := opts.jobs
	if jobs == 0 {
		jobs = cfg.Concurrency
	}

	provider, err := a.provider(cfg)
	if err != nil {
		return configFailure(err)
	}
	execOpts, err := executor.OptionsFromConfig(cfg)
	if err != nil {
		return configFailure(err)
	}
	execOpts = append(execOpts,
		executor.WithResolver(p.resolver),
		executor.WithHostEnv(os.Environ()),
		executor.WithProjectDir(p.dir),
		executor.WithOutput(stdout, stderr),
		executor.WithLogger(a.logger),
	)
	ex := executor.New(provider, execOpts...)

	agg := report.NewAggregator()
	agg.MarkUnserved(p.unserved...)
	for _, cell := range p.unserved {
		a.logger.Warn("cell not scheduled on this host", "cell", cell.ID, "os", string(cell.OS))
	}

	runID := resultlog.NewRunID()
	sched := scheduler.New(ex, p.registry,
		scheduler.WithJobs(jobs),
		scheduler.WithContinueOnStageFailure(opts.continueOnStageFailure),
		scheduler.WithCatalog(p.resolver.Catalog()),
		scheduler.WithExtras(extras...),
		scheduler.WithRecorder(agg),
		scheduler.WithLogger(a.logger),
	)
	a.logger.Info("run started", "run", runID, "cells", p.plan.Len(), "runtime", string(cfg.Runtime.Kind), "jobs", jobs)

	summary, err := sched.Run(ctx, runID, p.plan)
	if err != nil {
		return configFailure(issue.NewErrorContext().
			WithOperation("prepare environments").
			WithResource(opts.registryPath).
			WithSuggestion("Check the extras and defaults of the registry").
			WithIssue(issue.RegistryParseErrorId).
			Wrap(err).
			BuildError())
	}

	counts := agg.Counts()
	a.logger.Info("run finished", "run", runID, "status", summary.Status.String(),
		"passed", counts[types.StatusPassed], "failed", counts[types.StatusFailed], "skipped", counts[types.StatusSkipped])

	if err := agg.Render(stdout); err != nil {
		return err
	}

	// The log is written even when the run was interrupted.
	a.saveLog(context.WithoutCancel(ctx), stdout, stderr, p, &resultlog.Log{
		RunID:      runID,
		Selector:   opts.selector,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Status:     agg.Finalize(),
		Results:    agg.Results(),
		Unserved:   agg.Unserved(),
	})

	if ctx.Err() != nil {
		return &ExitError{Code: types.ExitInterrupted}
	}
	if summary.Status != types.StatusPassed {
		return &ExitError{Code: summary.Status.ExitCode()}
	}
	return nil
}

// saveLog stores the result log. Failing to store it does not change the
// run's exit status.
func (a *App) saveLog(ctx context.Context, stdout, stderr io.Writer, p *project, log *resultlog.Log) {
	store, err := resultlog.OpenStore(ctx, p.cfg.Results, p.dir, a.logger)
	if err != nil {
		fmt.Fprintf(stderr, "%s %s\n", WarningStyle.Render("Warning:"), formatErrorForDisplay(err, a.verbose))
		return
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			a.logger.Warn("failed to close result store", "error", closeErr)
		}
	}()

	saved, err := store.Save(ctx, log)
	if saved.Path != "" {
		fmt.Fprintf(stdout, "%s %s\n", SubtitleStyle.Render("Result log:"), saved.Path)
	}
	if saved.ObjectKey != "" {
		fmt.Fprintf(stdout, "%s %s\n", SubtitleStyle.Render("Uploaded:"), saved.ObjectKey)
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s %s\n", WarningStyle.Render("Warning:"), formatErrorForDisplay(err, a.verbose))
	}
}

// applyRunOverrides lets flags win over the loaded configuration.
func applyRunOverrides(cfg *config.Config, opts runOptions, keepEnvsSet bool) error {
	if opts.runtime != "" {
		kind := config.RuntimeKind(opts.runtime)
		if ok, errs := kind.IsValid(); !ok {
			return errors.Join(errs...)
		}
		cfg.Runtime.Kind = kind
	}
	if keepEnvsSet {
		cfg.Runtime.KeepEnvs = opts.keepEnvs
	}
	if opts.results != "" {
		cfg.Results.Path = opts.results
	}
	if opts.jobs < 0 {
		return &scheduler.InvalidJobsError{Value: opts.jobs}
	}
	return nil
}

func extraNames(raw []string) ([]envspec.ExtraName, error) {
	names := make([]envspec.ExtraName, 0, len(raw))
	var errs []error
	for _, r := range raw {
		name := envspec.ExtraName(r)
		if ok, fieldErrs := name.IsValid(); !ok {
			errs = append(errs, fieldErrs...)
			continue
		}
		names = append(names, name)
	}
	return names, errors.Join(errs...)
}

// provider builds the runtime registry and returns the configured provider.
func (a *App) provider(cfg *config.Config) (runtime.Provider, error) {
	built, err := runtime.BuildRegistry(runtime.BuildRegistryOptions{Config: cfg})
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("build runtime registry").
			WithSuggestion("Check runtime.create_command in the configuration").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}
	if built.ContainerInitErr != nil {
		a.logger.Debug("container runtime unavailable", "error", built.ContainerInitErr)
	}

	kind := runtime.Kind(cfg.Runtime.Kind)
	provider, err := built.Registry.Get(kind)
	if err != nil {
		id := issue.RuntimeNotAvailableId
		if kind == runtime.KindContainer && built.ContainerInitErr != nil {
			id = issue.ContainerEngineNotFoundId
			err = errors.Join(err, built.ContainerInitErr)
		}
		return nil, issue.NewErrorContext().
			WithOperation("select runtime").
			WithResource(kind.String()).
			WithSuggestion("Pass --runtime virtual to run commands in the embedded shell").
			WithIssue(id).
			Wrap(err).
			BuildError()
	}
	return provider, nil
}
