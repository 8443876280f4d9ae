// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/envmatrix/envmatrix/internal/executor"
	"github.com/envmatrix/envmatrix/internal/report"
	"github.com/envmatrix/envmatrix/internal/testutil"
	"github.com/envmatrix/envmatrix/internal/testutil/envspectest"
	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/matrix"
	"github.com/envmatrix/envmatrix/pkg/types"
)

const testRunID = "run-1"

// fakeRunner returns a result per environment and records what ran.
type fakeRunner struct {
	mu      sync.Mutex
	status  map[envspec.EnvironmentName]types.Status
	ran     []string
	jobs    []executor.Job
	delay   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
	onStart func(job executor.Job)
}

func (f *fakeRunner) Run(ctx context.Context, job executor.Job) executor.RunResult {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.ran = append(f.ran, job.Cell.ID)
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	if f.onStart != nil {
		f.onStart(job)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}

	if ctx.Err() != nil {
		return executor.RunResult{Cell: job.Cell.ID, Environment: job.Spec.Name, Status: types.StatusSkipped, Reason: "cancelled"}
	}
	status, ok := f.status[job.Spec.Name]
	if !ok {
		status = types.StatusPassed
	}
	return executor.RunResult{RunID: job.RunID, Cell: job.Cell.ID, Stage: job.Cell.Stage, Environment: job.Spec.Name, Status: status}
}

func (f *fakeRunner) ranCells() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.ran)
}

func testRegistry(t *testing.T) *envspec.Registry {
	t.Helper()
	return envspectest.NewTestRegistry(t,
		envspectest.NewTestEnvironment("lint", envspectest.WithExtras("testing")),
		envspectest.NewTestEnvironment("py310"),
		envspectest.NewTestEnvironment("py311"),
		envspectest.NewTestEnvironment("docs"),
	)
}

func stage(name matrix.StageName, envs ...envspec.EnvironmentName) matrix.PlannedStage {
	s := matrix.PlannedStage{Name: name}
	for _, env := range envs {
		s.Cells = append(s.Cells, matrix.Cell{
			ID:          string(name) + ":" + string(env) + "@linux",
			Stage:       name,
			Environment: env,
			OS:          types.OSLinux,
		})
	}
	return s
}

func twoStagePlan() *matrix.Plan {
	return &matrix.Plan{Stages: []matrix.PlannedStage{
		stage("lint", "lint"),
		stage("test", "py310", "py311"),
	}}
}

func statuses(results []executor.RunResult) []types.Status {
	out := make([]types.Status, len(results))
	for i, r := range results {
		out[i] = r.Status
	}
	return out
}

func TestRun_AllPass(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	agg := report.NewAggregator()
	clock := testutil.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s := New(runner, testRegistry(t), WithJobs(2), WithRecorder(agg), WithClock(clock))
	summary, err := s.Run(t.Context(), testRunID, twoStagePlan())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Status != types.StatusPassed {
		t.Errorf("Status = %q, want passed", summary.Status)
	}
	if summary.GatedBy != "" {
		t.Errorf("GatedBy = %q, want empty", summary.GatedBy)
	}
	if len(summary.Results) != 3 || len(agg.Results()) != 3 {
		t.Fatalf("got %d results, %d recorded; want 3", len(summary.Results), len(agg.Results()))
	}
	wantOrder := []string{"lint:lint@linux", "test:py310@linux", "test:py311@linux"}
	for i, r := range agg.Results() {
		if r.Cell != wantOrder[i] {
			t.Errorf("recorded %d = %q, want %q", i, r.Cell, wantOrder[i])
		}
	}
	if !summary.StartedAt.Equal(clock.Now()) {
		t.Errorf("StartedAt = %v", summary.StartedAt)
	}
}

func TestRun_StageGate(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{status: map[envspec.EnvironmentName]types.Status{"lint": types.StatusFailed}}
	agg := report.NewAggregator()

	summary, err := New(runner, testRegistry(t), WithJobs(4), WithRecorder(agg)).Run(t.Context(), testRunID, twoStagePlan())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := runner.ranCells(); !slices.Equal(got, []string{"lint:lint@linux"}) {
		t.Errorf("ran %v, want only the lint cell", got)
	}
	if summary.GatedBy != "lint" {
		t.Errorf("GatedBy = %q, want lint", summary.GatedBy)
	}
	want := []types.Status{types.StatusFailed, types.StatusSkipped, types.StatusSkipped}
	if got := statuses(summary.Results); !slices.Equal(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	for _, r := range summary.Results[1:] {
		if r.Reason != executor.ReasonStageGate {
			t.Errorf("%s reason = %q, want %q", r.Cell, r.Reason, executor.ReasonStageGate)
		}
		if len(r.CommandResults) != 0 {
			t.Errorf("%s should not have command results", r.Cell)
		}
	}
	if summary.Status != types.StatusFailed || agg.Finalize() != types.StatusFailed {
		t.Errorf("Status = %q, Finalize() = %q; want failed", summary.Status, agg.Finalize())
	}
}

func TestRun_SkippedDoesNotTripGate(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{status: map[envspec.EnvironmentName]types.Status{"lint": types.StatusSkipped}}
	summary, err := New(runner, testRegistry(t)).Run(t.Context(), testRunID, twoStagePlan())
	if err != nil {
		t.Fatal(err)
	}
	if len(runner.ranCells()) != 3 {
		t.Errorf("ran %v, want all three cells", runner.ranCells())
	}
	if summary.Status != types.StatusFailed {
		t.Errorf("Status = %q, want failed", summary.Status)
	}
}

func TestRun_ContinueOnStageFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{status: map[envspec.EnvironmentName]types.Status{"lint": types.StatusFailed}}
	summary, err := New(runner, testRegistry(t), WithContinueOnStageFailure(true)).Run(t.Context(), testRunID, twoStagePlan())
	if err != nil {
		t.Fatal(err)
	}

	want := []types.Status{types.StatusFailed, types.StatusPassed, types.StatusPassed}
	if got := statuses(summary.Results); !slices.Equal(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if summary.GatedBy != "" {
		t.Errorf("GatedBy = %q, want empty", summary.GatedBy)
	}
	if summary.Status != types.StatusFailed {
		t.Errorf("Status = %q, want failed", summary.Status)
	}
}

func TestRun_StageBarrier(t *testing.T) {
	t.Parallel()

	var lintDone atomic.Bool
	var violated atomic.Bool
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	runner.onStart = func(job executor.Job) {
		if job.Cell.Stage == "test" && !lintDone.Load() {
			violated.Store(true)
		}
	}
	rec := recorderFunc(func(cell matrix.Cell, _ executor.RunResult) {
		if cell.Stage == "lint" {
			lintDone.Store(true)
		}
	})

	plan := &matrix.Plan{Stages: []matrix.PlannedStage{
		stage("lint", "lint", "docs"),
		stage("test", "py310", "py311"),
	}}
	if _, err := New(runner, testRegistry(t), WithJobs(4), WithRecorder(rec)).Run(t.Context(), testRunID, plan); err != nil {
		t.Fatal(err)
	}
	if violated.Load() {
		t.Error("a test cell started before the lint stage finished")
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{delay: 20 * time.Millisecond}
	plan := &matrix.Plan{Stages: []matrix.PlannedStage{stage("test", "lint", "py310", "py311", "docs")}}

	if _, err := New(runner, testRegistry(t), WithJobs(2)).Run(t.Context(), testRunID, plan); err != nil {
		t.Fatal(err)
	}
	if peak := runner.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", peak)
	}
	if len(runner.ranCells()) != 4 {
		t.Errorf("ran %d cells, want 4", len(runner.ranCells()))
	}
}

func TestRun_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	runner := &fakeRunner{delay: 5 * time.Second}
	runner.onStart = func(executor.Job) { cancel() }

	summary, err := New(runner, testRegistry(t)).Run(ctx, testRunID, twoStagePlan())
	if err != nil {
		t.Fatal(err)
	}

	want := []types.Status{types.StatusSkipped, types.StatusSkipped, types.StatusSkipped}
	if got := statuses(summary.Results); !slices.Equal(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if got := summary.Results[1].Reason; got != ReasonCancelled {
		t.Errorf("unstarted cell reason = %q, want %q", got, ReasonCancelled)
	}
	if got := runner.ranCells(); len(got) != 1 {
		t.Errorf("ran %v, want only the first cell", got)
	}
}

func TestPrepare_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		plan *matrix.Plan
		opts []Option
		want error
	}{
		{"unknown environment", &matrix.Plan{Stages: []matrix.PlannedStage{stage("test", "py39")}}, nil, envspec.ErrConfig},
		{"unknown requested extra", twoStagePlan(), []Option{WithCatalog(catalog{"testing": true}), WithExtras("docs")}, envspec.ErrConfig},
		{"zero jobs", twoStagePlan(), []Option{WithJobs(0)}, ErrInvalidJobs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := &fakeRunner{}
			_, err := New(runner, testRegistry(t), tt.opts...).Run(t.Context(), testRunID, tt.plan)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Run() error = %v, want %v", err, tt.want)
			}
			if len(runner.ranCells()) != 0 {
				t.Errorf("no cell may run after a preparation error, ran %v", runner.ranCells())
			}
		})
	}
}

// checkingRunner rejects the environments named in reject.
type checkingRunner struct {
	*fakeRunner
	reject  map[envspec.EnvironmentName]bool
	checked atomic.Int32
}

func (c *checkingRunner) Check(spec envspec.EnvironmentSpec) error {
	c.checked.Add(1)
	if c.reject[spec.Name] {
		return &envspec.ConfigError{Environment: spec.Name, Field: envspec.KeyPassenv, Reason: "invalid passthrough pattern"}
	}
	return nil
}

func TestPrepare_CheckerRejectsBeforeAnyCell(t *testing.T) {
	t.Parallel()

	runner := &checkingRunner{fakeRunner: &fakeRunner{}, reject: map[envspec.EnvironmentName]bool{"py311": true}}
	_, err := New(runner, testRegistry(t)).Run(t.Context(), testRunID, twoStagePlan())

	var cfgErr *envspec.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Environment != "py311" {
		t.Fatalf("Run() error = %v, want a ConfigError for py311", err)
	}
	if ran := runner.ranCells(); len(ran) != 0 {
		t.Errorf("no cell may run after a failed check, ran %v", ran)
	}
	if got := runner.checked.Load(); got != 3 {
		t.Errorf("Check called %d times, want once per environment (3)", got)
	}
}

func TestPrepare_Extras(t *testing.T) {
	t.Parallel()

	s := New(&fakeRunner{}, testRegistry(t), WithExtras("testing", "docs"))
	jobs, err := s.Prepare(testRunID, twoStagePlan())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	lint := jobs[0][0]
	if want := []envspec.ExtraName{"testing", "docs"}; !slices.Equal(lint.Spec.ExtrasRequested, want) {
		t.Errorf("lint extras = %v, want %v", lint.Spec.ExtrasRequested, want)
	}
	if lint.RunID != testRunID || lint.Cell.ID != "lint:lint@linux" {
		t.Errorf("job = %+v", lint)
	}
}

type catalog map[envspec.ExtraName]bool

func (c catalog) HasExtra(name envspec.ExtraName) bool { return c[name] }

type recorderFunc func(matrix.Cell, executor.RunResult)

func (f recorderFunc) Record(cell matrix.Cell, r executor.RunResult) { f(cell, r) }
