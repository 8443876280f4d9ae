// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/envmatrix/envmatrix/internal/executor"
	"github.com/envmatrix/envmatrix/internal/report"
	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/matrix"
	"github.com/envmatrix/envmatrix/pkg/types"
)

// ReasonCancelled is the reason recorded for cells a cancelled run never started.
const ReasonCancelled = "run cancelled"

// ErrInvalidJobs is the sentinel error wrapped by InvalidJobsError.
var ErrInvalidJobs = errors.New("invalid job count")

type (
	// Runner executes one cell. *executor.Executor implements it.
	Runner interface {
		Run(ctx context.Context, job executor.Job) executor.RunResult
	}

	// Checker is implemented by runners that can reject an environment
	// before any cell starts. *executor.Executor implements it.
	Checker interface {
		Check(spec envspec.EnvironmentSpec) error
	}

	// Recorder receives every sealed result, in plan order per stage.
	// *report.Aggregator implements it.
	Recorder interface {
		Record(cell matrix.Cell, result executor.RunResult)
	}

	// InvalidJobsError is returned for a worker count below one.
	InvalidJobsError struct {
		Value int
	}

	// Option configures a Scheduler.
	Option func(*Scheduler)

	// Scheduler runs plans against a registry.
	Scheduler struct {
		runner            Runner
		registry          *envspec.Registry
		catalog           envspec.ExtrasCatalog
		extras            []envspec.ExtraName
		jobs              int
		continueOnFailure bool
		recorder          Recorder
		clock             executor.Clock
		logger            *slog.Logger
	}

	// Summary is the outcome of one run.
	Summary struct {
		RunID      string
		StartedAt  time.Time
		FinishedAt time.Time
		Status     types.Status
		// Results holds every cell's result in plan order.
		Results []executor.RunResult
		// GatedBy is the stage whose failure held back later stages.
		GatedBy matrix.StageName
	}

	systemClock struct{}
)

func (systemClock) Now() time.Time { return time.Now() }

// Error implements the error interface.
func (e *InvalidJobsError) Error() string {
	return fmt.Sprintf("invalid job count %d: must be at least 1", e.Value)
}

// Unwrap returns ErrInvalidJobs for errors.Is() compatibility.
func (e *InvalidJobsError) Unwrap() error { return ErrInvalidJobs }

// WithJobs bounds the number of cells running at once. Default 1.
func WithJobs(n int) Option {
	return func(s *Scheduler) {
		s.jobs = n
	}
}

// WithContinueOnStageFailure disables the stage gate.
func WithContinueOnStageFailure(enabled bool) Option {
	return func(s *Scheduler) {
		s.continueOnFailure = enabled
	}
}

// WithCatalog sets the extras table environments are checked against.
func WithCatalog(c envspec.ExtrasCatalog) Option {
	return func(s *Scheduler) {
		s.catalog = c
	}
}

// WithExtras requests additional extras for every environment.
func WithExtras(names ...envspec.ExtraName) Option {
	return func(s *Scheduler) {
		s.extras = append(s.extras, names...)
	}
}

// WithRecorder forwards every result to r.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		s.recorder = r
	}
}

// WithClock sets the clock used for skipped results and run timestamps.
func WithClock(c executor.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Scheduler that runs cells of reg with runner.
func New(runner Runner, reg *envspec.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		registry: reg,
		jobs:     1,
		clock:    systemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prepare merges the environment of every cell and, when the runner is a
// Checker, checks it. Any error is a ConfigError and no cell has run.
func (s *Scheduler) Prepare(runID string, plan *matrix.Plan) ([][]executor.Job, error) {
	if s.jobs < 1 {
		return nil, &InvalidJobsError{Value: s.jobs}
	}
	for _, x := range s.extras {
		if s.catalog != nil && !s.catalog.HasExtra(x) {
			return nil, &envspec.ConfigError{Field: envspec.KeyExtras, Reason: fmt.Sprintf("unknown extra %q", x)}
		}
	}

	specs := make(map[envspec.EnvironmentName]envspec.EnvironmentSpec)
	jobs := make([][]executor.Job, len(plan.Stages))
	var errs []error
	for i, stage := range plan.Stages {
		jobs[i] = make([]executor.Job, len(stage.Cells))
		for j, cell := range stage.Cells {
			spec, ok := specs[cell.Environment]
			if !ok {
				var err error
				spec, err = s.registry.Resolve(cell.Environment, s.catalog)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				spec.ExtrasRequested = appendUnique(spec.ExtrasRequested, s.extras)
				if checker, ok := s.runner.(Checker); ok {
					if err := checker.Check(spec); err != nil {
						errs = append(errs, err)
						continue
					}
				}
				specs[cell.Environment] = spec
			}
			jobs[i][j] = executor.Job{RunID: runID, Cell: cell, Spec: spec}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return jobs, nil
}

// Run executes plan. It returns an error only when preparation fails;
// per-cell failures are recorded in the summary.
func (s *Scheduler) Run(ctx context.Context, runID string, plan *matrix.Plan) (Summary, error) {
	jobs, err := s.Prepare(runID, plan)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{RunID: runID, StartedAt: s.clock.Now()}
	for i, stage := range plan.Stages {
		var results []executor.RunResult
		switch {
		case summary.GatedBy != "":
			results = s.skipStage(runID, stage, executor.ReasonStageGate)
		case ctx.Err() != nil:
			results = s.skipStage(runID, stage, ReasonCancelled)
		default:
			s.logger.Info("stage started", "stage", string(stage.Name), "cells", len(stage.Cells))
			results = s.runStage(ctx, jobs[i])
		}

		for j, r := range results {
			if s.recorder != nil {
				s.recorder.Record(stage.Cells[j], r)
			}
		}
		summary.Results = append(summary.Results, results...)

		if summary.GatedBy == "" && !s.continueOnFailure && anyFailed(results) {
			summary.GatedBy = stage.Name
			if i+1 < len(plan.Stages) {
				s.logger.Warn("stage failed, later stages will not start", "stage", string(stage.Name))
			}
		}
	}

	summary.FinishedAt = s.clock.Now()
	summary.Status = report.OverallStatus(summary.Results)
	return summary, nil
}

// runStage feeds the stage's cells to a bounded pool of workers and waits
// for all of them.
func (s *Scheduler) runStage(ctx context.Context, jobs []executor.Job) []executor.RunResult {
	results := make([]executor.RunResult, len(jobs))
	queue := make(chan int)

	var g errgroup.Group
	for range min(s.jobs, len(jobs)) {
		g.Go(func() error {
			for idx := range queue {
				results[idx] = s.runner.Run(ctx, jobs[idx])
			}
			return nil
		})
	}
	for idx := range jobs {
		queue <- idx
	}
	close(queue)
	_ = g.Wait()

	return results
}

func (s *Scheduler) skipStage(runID string, stage matrix.PlannedStage, reason string) []executor.RunResult {
	s.logger.Info("stage skipped", "stage", string(stage.Name), "reason", reason)
	at := s.clock.Now()
	results := make([]executor.RunResult, len(stage.Cells))
	for i, cell := range stage.Cells {
		results[i] = executor.SkippedResult(runID, cell, reason, at)
	}
	return results
}

func anyFailed(results []executor.RunResult) bool {
	return slices.ContainsFunc(results, func(r executor.RunResult) bool {
		return r.Status == types.StatusFailed
	})
}

func appendUnique(base, extra []envspec.ExtraName) []envspec.ExtraName {
	out := slices.Clone(base)
	for _, x := range extra {
		if !slices.Contains(out, x) {
			out = append(out, x)
		}
	}
	return out
}
