// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/envmatrix/envmatrix/internal/resolve"
	"github.com/envmatrix/envmatrix/internal/runtime"
	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/matrix"
	"github.com/envmatrix/envmatrix/pkg/types"
)

// Label keys attached to engine resources of a cell.
const (
	LabelRunID = "io.envmatrix.run"
	LabelCell  = "io.envmatrix.cell"
)

// ErrInvalidJob is the sentinel error wrapped by InvalidJobError.
var ErrInvalidJob = errors.New("invalid job")

type (
	// Clock supplies timestamps for run results.
	Clock interface {
		Now() time.Time
	}

	// Job is one cell to run with its merged environment.
	Job struct {
		RunID string
		Cell  matrix.Cell
		Spec  envspec.EnvironmentSpec
	}

	// InvalidJobError is returned by Job.Validate.
	InvalidJobError struct {
		FieldErrors []error
	}

	// Option configures an Executor.
	Option func(*Executor)

	// Executor runs cells against one runtime provider. It is safe for
	// concurrent use: each Run owns its cell directory and runtime.
	Executor struct {
		provider           runtime.Provider
		resolver           *resolve.Resolver
		installCommand     runtime.Template
		developCommand     runtime.Template
		defaultInterpreter envspec.VersionSpec
		filter             runtime.EnvFilter
		hostEnv            []string
		projectDir         string
		workdir            string
		keepEnvs           bool
		clock              Clock
		logger             *slog.Logger
		stdout             io.Writer
		stderr             io.Writer
		outMu              sync.Mutex
		observer           func(Transition)
	}

	systemClock struct{}

	// cellRun is the mutable state of one Run call.
	cellRun struct {
		e      *Executor
		job    Job
		logger *slog.Logger
		state  State
		result RunResult
		stdout *prefixWriter
		stderr *prefixWriter
	}
)

func (systemClock) Now() time.Time { return time.Now() }

// WithResolver sets the dependency resolver. The default forwards extras
// to the project install.
func WithResolver(r *resolve.Resolver) Option {
	return func(e *Executor) {
		e.resolver = r
	}
}

// WithInstallCommands sets the package and develop install templates.
// An empty template disables its step.
func WithInstallCommands(install, develop runtime.Template) Option {
	return func(e *Executor) {
		e.installCommand = install
		e.developCommand = develop
	}
}

// WithDefaultInterpreter sets the interpreter used when neither the
// environment nor the cell names one.
func WithDefaultInterpreter(v envspec.VersionSpec) Option {
	return func(e *Executor) {
		e.defaultInterpreter = v
	}
}

// WithEnvFilter sets the process-wide passthrough restriction.
func WithEnvFilter(f runtime.EnvFilter) Option {
	return func(e *Executor) {
		e.filter = f
	}
}

// WithHostEnv replaces os.Environ() as the source of forwarded variables.
func WithHostEnv(env []string) Option {
	return func(e *Executor) {
		e.hostEnv = env
	}
}

// WithProjectDir sets the project root. Defaults to the working directory.
func WithProjectDir(dir string) Option {
	return func(e *Executor) {
		e.projectDir = dir
	}
}

// WithWorkdir sets the root of cell directories, relative to the project
// root unless absolute.
func WithWorkdir(dir string) Option {
	return func(e *Executor) {
		e.workdir = dir
	}
}

// WithKeepEnvs keeps cell directories after the run.
func WithKeepEnvs(keep bool) Option {
	return func(e *Executor) {
		e.keepEnvs = keep
	}
}

// WithClock sets the clock used for timestamps and durations.
func WithClock(c Clock) Option {
	return func(e *Executor) {
		e.clock = c
	}
}

// WithLogger sets the base logger; each cell logs with its own attributes.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithOutput sets where command output goes, one "[cell] " prefixed line
// at a time. Nil writers discard.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(e *Executor) {
		e.stdout = stdout
		e.stderr = stderr
	}
}

// WithObserver registers a callback for state transitions. It is called
// from the goroutine running the cell.
func WithObserver(fn func(Transition)) Option {
	return func(e *Executor) {
		e.observer = fn
	}
}

// New creates an Executor over provider.
func New(provider runtime.Provider, opts ...Option) *Executor {
	e := &Executor{
		provider: provider,
		workdir:  ".envmatrix/envs",
		clock:    systemClock{},
		stdout:   io.Discard,
		stderr:   io.Discard,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.resolver == nil {
		e.resolver = resolve.NewResolver(nil)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.projectDir == "" {
		if wd, err := os.Getwd(); err == nil {
			e.projectDir = wd
		}
	}
	if e.stdout == nil {
		e.stdout = io.Discard
	}
	if e.stderr == nil {
		e.stderr = io.Discard
	}
	return e
}

// Validate checks that the job can be run.
func (j Job) Validate() error {
	var errs []error
	if j.RunID == "" {
		errs = append(errs, errors.New("run id is required"))
	}
	if j.Cell.ID == "" {
		errs = append(errs, errors.New("cell id is required"))
	}
	if isValid, fieldErrs := j.Spec.Name.IsValid(); !isValid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return &InvalidJobError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidJobError) Error() string {
	return fmt.Sprintf("invalid job: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidJob for errors.Is() compatibility.
func (e *InvalidJobError) Unwrap() error { return ErrInvalidJob }

// CellDir returns the private directory of a cell in a run.
func (e *Executor) CellDir(runID string, cell matrix.Cell) string {
	root := e.workdir
	if !filepath.IsAbs(root) {
		root = filepath.Join(e.projectDir, root)
	}
	return filepath.Join(root, runID, cell.Slug())
}

// Run executes job and returns its sealed result. It never returns early
// without sealing: every failure is recorded in the result.
func (e *Executor) Run(ctx context.Context, job Job) RunResult {
	r := &cellRun{
		e:     e,
		job:   job,
		state: StatePending,
		logger: e.logger.With(
			"cell", job.Cell.ID,
			"env", string(job.Spec.Name),
			"stage", string(job.Cell.Stage),
		),
		result: RunResult{
			RunID:          job.RunID,
			Cell:           job.Cell.ID,
			Stage:          job.Cell.Stage,
			Environment:    job.Spec.Name,
			OS:             job.Cell.OS,
			Values:         job.Cell.Values,
			CommandResults: []CommandResult{},
			Status:         types.StatusPassed,
			StartedAt:      e.clock.Now(),
		},
	}
	prefix := "[" + job.Cell.ID + "] "
	r.stdout = newPrefixWriter(&e.outMu, e.stdout, prefix)
	r.stderr = newPrefixWriter(&e.outMu, e.stderr, prefix)

	if err := job.Validate(); err != nil {
		return r.seal(types.StatusSkipped, err)
	}
	if err := ctx.Err(); err != nil {
		return r.seal(types.StatusSkipped, fmt.Errorf("%w: %w", ErrCancelled, err))
	}

	plan, err := e.resolver.Resolve(job.Spec)
	if err != nil {
		return r.seal(types.StatusSkipped, err)
	}
	r.result.Packages = make([]string, len(plan.Packages))
	for i, p := range plan.Packages {
		r.result.Packages[i] = string(p)
	}

	commands, err := envspec.Sequence(job.Spec)
	if err != nil {
		return r.seal(types.StatusSkipped, err)
	}

	r.transition(StateProvisioning, -1)
	rt, status, err := r.provision(ctx)
	if err != nil {
		return r.seal(status, err)
	}
	defer r.release(rt)

	env, err := r.commandEnv(rt)
	if err != nil {
		return r.seal(types.StatusSkipped, err)
	}

	r.transition(StateInstalling, -1)
	if status, err := r.install(ctx, rt, plan, env); err != nil {
		return r.seal(status, err)
	}

	for i, cmd := range commands {
		r.transition(StateRunning, i)
		if status, err := r.runCommand(ctx, rt, i, cmd, env); err != nil {
			return r.seal(status, err)
		}
	}
	return r.seal(types.StatusPassed, nil)
}

// interpreter picks the interpreter: environment, then cell, then default.
func (r *cellRun) interpreter() envspec.VersionSpec {
	if r.job.Spec.BaseInterpreter != "" {
		return r.job.Spec.BaseInterpreter
	}
	if v, ok := r.job.Cell.Value(matrix.AxisRuntimeVersion); ok && v != "" {
		return envspec.VersionSpec(v)
	}
	return r.e.defaultInterpreter
}

func (r *cellRun) provision(ctx context.Context) (runtime.Runtime, types.Status, error) {
	interp := r.interpreter()
	dir := r.e.CellDir(r.job.RunID, r.job.Cell)

	rt, err := r.e.provider.Provision(ctx, runtime.ProvisionRequest{
		Interpreter: interp,
		EnvDir:      dir,
		ProjectDir:  r.e.projectDir,
		OS:          r.job.Cell.OS,
		Name:        shortRunID(r.job.RunID) + "-" + r.job.Cell.ID,
		Labels: map[string]string{
			LabelRunID: r.job.RunID,
			LabelCell:  r.job.Cell.ID,
		},
	})
	if err != nil {
		r.removeDir(dir)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, types.StatusSkipped, fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
		}
		return nil, types.StatusSkipped, &ProvisionError{Environment: r.job.Spec.Name, Interpreter: interp, Err: err}
	}
	r.result.Interpreter = rt.Interpreter()
	r.logger.Debug("runtime provisioned", "kind", rt.Kind(), "interpreter", rt.Interpreter(), "dir", dir)
	return rt, "", nil
}

// release closes the runtime and removes the cell directory unless kept.
func (r *cellRun) release(rt runtime.Runtime) {
	if err := rt.Close(); err != nil {
		r.logger.Warn("failed to release runtime", "error", err)
	}
	r.removeDir(r.e.CellDir(r.job.RunID, r.job.Cell))
}

func (r *cellRun) removeDir(dir string) {
	if r.e.keepEnvs {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		r.logger.Warn("failed to remove cell directory", "dir", dir, "error", err)
	}
}

// commandEnv builds the environment shared by install steps and commands.
func (r *cellRun) commandEnv(rt runtime.Runtime) (map[string]string, error) {
	fixed := map[string]string{
		runtime.EnvVarEnvironment: string(r.job.Spec.Name),
		runtime.EnvVarCell:        r.job.Cell.ID,
		runtime.EnvVarStage:       string(r.job.Cell.Stage),
		runtime.EnvVarOS:          string(r.job.Cell.OS),
		runtime.EnvVarEnvDir:      rt.EnvDir(),
		runtime.EnvVarRunID:       r.job.RunID,
	}
	for _, v := range r.job.Cell.Values {
		fixed[runtime.AxisEnvVar(v.Axis)] = v.Value
	}

	env, err := runtime.BuildEnv(r.e.filter, runtime.EnvLayers{
		Host:     r.e.hostEnv,
		Patterns: r.job.Spec.PassthroughEnvVarPatterns,
		SetEnv:   r.job.Spec.SetEnv,
		Fixed:    fixed,
	})
	if err != nil {
		return nil, &envspec.ConfigError{
			Environment: r.job.Spec.Name,
			Field:       envspec.KeyPassenv,
			Reason:      err.Error(),
		}
	}
	return env, nil
}

// install runs the package install, then the project install in develop mode.
func (r *cellRun) install(ctx context.Context, rt runtime.Runtime, plan resolve.InstallPlan, env map[string]string) (types.Status, error) {
	vars := map[string]string{
		runtime.PlaceholderInterpreter: rt.Interpreter(),
		runtime.PlaceholderPython:      rt.Python(),
		runtime.PlaceholderEnvDir:      rt.EnvDir(),
		runtime.PlaceholderProject:     rt.ProjectDir(),
	}

	if len(plan.Packages) > 0 && !r.e.installCommand.IsEmpty() {
		pkgs := make([]string, len(plan.Packages))
		for i, p := range plan.Packages {
			pkgs[i] = string(p)
		}
		argv := r.e.installCommand.Expand(runtime.TemplateValues{
			Vars:  vars,
			Lists: map[string][]string{runtime.PlaceholderPackages: pkgs},
		})
		if status, err := r.installStep(ctx, rt, InstallPackages, argv, env); err != nil {
			return status, err
		}
	}

	if plan.Mode == resolve.DevelopMode && !r.e.developCommand.IsEmpty() {
		develop := maps.Clone(vars)
		develop[runtime.PlaceholderProject] = plan.DevelopTarget(rt.ProjectDir())
		argv := r.e.developCommand.Expand(runtime.TemplateValues{
			Vars:  develop,
			Lists: map[string][]string{runtime.PlaceholderPackages: nil},
		})
		if status, err := r.installStep(ctx, rt, InstallProject, argv, env); err != nil {
			return status, err
		}
	}
	return "", nil
}

func (r *cellRun) installStep(ctx context.Context, rt runtime.Runtime, step InstallStep, argv []string, env map[string]string) (types.Status, error) {
	r.logger.Info("installing", "step", step, "argv", argv)
	start := r.e.clock.Now()
	code, err := rt.Run(ctx, runtime.Invocation{
		Argv:   argv,
		Env:    env,
		Stdout: r.stdout,
		Stderr: r.stderr,
	})
	r.flush()
	r.result.InstallResults = append(r.result.InstallResults, InstallResult{
		Step:       step,
		Argv:       argv,
		ExitCode:   code,
		DurationMs: r.e.clock.Now().Sub(start).Milliseconds(),
	})

	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.StatusSkipped, fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
	}
	if err != nil {
		return types.StatusFailed, &InstallError{Environment: r.job.Spec.Name, Step: step, ExitCode: code, Err: err}
	}
	if code != 0 {
		return types.StatusFailed, &InstallError{Environment: r.job.Spec.Name, Step: step, ExitCode: code}
	}
	return "", nil
}

// runCommand runs one command and appends its result. A non-nil error ends
// the sequence with the returned status.
func (r *cellRun) runCommand(ctx context.Context, rt runtime.Runtime, i int, cmd envspec.Command, env map[string]string) (types.Status, error) {
	r.logger.Info("running command", "index", i+1, "command", cmd.Text, "allowed_to_fail", cmd.AllowedToFail)
	start := r.e.clock.Now()
	code, err := rt.Run(ctx, runtime.Invocation{
		Script:  cmd.Text,
		WorkDir: r.job.Spec.WorkingDirectoryOverride,
		Env:     env,
		Stdout:  r.stdout,
		Stderr:  r.stderr,
	})
	r.flush()

	if err != nil && ctx.Err() == nil && code == 0 {
		code = types.ExitFailed
	}
	r.result.CommandResults = append(r.result.CommandResults, CommandResult{
		Command:       cmd.Text,
		AllowedToFail: cmd.AllowedToFail,
		ExitCode:      code,
		DurationMs:    r.e.clock.Now().Sub(start).Milliseconds(),
	})

	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.StatusSkipped, fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
	}
	if err != nil {
		r.logger.Warn("command could not be run", "command", cmd.Text, "error", err)
	}
	if code == 0 {
		return "", nil
	}
	if cmd.AllowedToFail {
		r.result.AllowedFailures++
		r.logger.Warn("allowed failure", "error", &AllowedFailure{Command: cmd.Text, Index: i, ExitCode: code})
		return "", nil
	}
	return types.StatusFailed, &CommandFailure{Command: cmd.Text, Index: i, ExitCode: code}
}

func (r *cellRun) flush() {
	_ = r.stdout.Flush()
	_ = r.stderr.Flush()
}

func (r *cellRun) transition(to State, index int) {
	from := r.state
	r.state = to
	r.logger.Debug("state transition", "from", from, "to", to, "index", index)
	if r.e.observer != nil {
		r.e.observer(Transition{Cell: r.job.Cell.ID, From: from, To: to, Index: index})
	}
}

// seal fixes the final status. The result is not modified afterwards.
func (r *cellRun) seal(status types.Status, err error) RunResult {
	r.transition(StateSealed, -1)
	r.result.Status = status
	r.result.Err = err
	if err != nil {
		r.result.Reason = err.Error()
	}
	r.result.FinishedAt = r.e.clock.Now()

	attrs := []any{"status", status, "duration", r.result.Duration()}
	if err != nil {
		attrs = append(attrs, "reason", r.result.Reason)
	}
	switch status {
	case types.StatusPassed:
		r.logger.Info("cell passed", attrs...)
	case types.StatusFailed:
		r.logger.Error("cell failed", attrs...)
	default:
		r.logger.Warn("cell skipped", attrs...)
	}
	return r.result
}

// shortRunID keeps the trailing random bits of a run ID. The leading digits
// of a UUIDv7 are a timestamp shared by runs started close together.
func shortRunID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 12 {
		return id[len(id)-12:]
	}
	return id
}
