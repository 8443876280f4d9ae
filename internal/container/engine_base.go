// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/envmatrix/envmatrix/pkg/types"
)

// KeepAliveCommand keeps a started container running until it is removed.
var KeepAliveCommand = []string{"sleep", "infinity"}

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// VolumeFormatFunc formats a volume mount for the -v flag. Podman uses it
	// to add the SELinux relabel option.
	VolumeFormatFunc func(volume VolumeMount) string

	// RunArgsTransformer modifies run arguments after they're built.
	// Used by Podman to inject --userns=keep-id for rootless compatibility.
	RunArgsTransformer func(args []string) []string

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides the CLI plumbing shared by the docker and podman
	// engines: argument construction and command execution.
	BaseCLIEngine struct {
		name               string
		binaryPath         string
		execCommand        ExecCommandFunc
		volumeFormatter    VolumeFormatFunc
		runArgsTransformer RunArgsTransformer
	}

	// VolumeMount is a bind mount of a host directory into the container.
	VolumeMount struct {
		HostPath      string
		ContainerPath string
		ReadOnly      bool
		SELinux       string
	}

	// CommandError reports a failed engine invocation with its stderr.
	CommandError struct {
		Engine string
		Args   []string
		Stderr string
		Err    error
	}
)

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s failed: %v", e.Engine, strings.Join(e.Args, " "), e.Err)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Unwrap returns the underlying process error.
func (e *CommandError) Unwrap() error { return e.Err }

// String formats the mount as host:container[:options].
func (v VolumeMount) String() string {
	var b strings.Builder
	b.WriteString(v.HostPath)
	b.WriteString(":")
	b.WriteString(v.ContainerPath)

	var options []string
	if v.ReadOnly {
		options = append(options, "ro")
	}
	if v.SELinux != "" {
		options = append(options, v.SELinux)
	}
	if len(options) > 0 {
		b.WriteString(":")
		b.WriteString(strings.Join(options, ","))
	}
	return b.String()
}

// --- Option Functions ---

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithBinaryPath overrides the engine binary found on PATH.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// WithVolumeFormatter sets a custom volume formatter function.
func WithVolumeFormatter(fn VolumeFormatFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.volumeFormatter = fn
	}
}

// WithRunArgsTransformer sets a custom run args transformer.
func WithRunArgsTransformer(fn RunArgsTransformer) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.runArgsTransformer = fn
	}
}

// --- Constructor ---

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(name, binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		name:               name,
		binaryPath:         binaryPath,
		execCommand:        exec.CommandContext,
		volumeFormatter:    VolumeMount.String,
		runArgsTransformer: func(args []string) []string { return args },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the engine name.
func (e *BaseCLIEngine) Name() string { return e.name }

// BinaryPath returns the engine binary, or "" when it was not found.
func (e *BaseCLIEngine) BinaryPath() string { return e.binaryPath }

// --- Argument Builders ---

// StartArgs constructs the arguments of a detached run.
//
// Generated command: <binary> run -d [options] <image> sleep infinity
func (e *BaseCLIEngine) StartArgs(opts StartOptions) []string {
	args := []string{"run", "-d"}

	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	for _, k := range sortedKeys(opts.Labels) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	for _, k := range sortedKeys(opts.Env) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	for _, v := range opts.Volumes {
		args = append(args, "-v", e.volumeFormatter(v))
	}

	args = append(args, string(opts.Image))
	args = append(args, KeepAliveCommand...)

	return e.runArgsTransformer(args)
}

// ExecArgs constructs the arguments of an exec in a started container.
//
// Generated command: <binary> exec [options] <container> <command...>
func (e *BaseCLIEngine) ExecArgs(id ContainerID, command []string, opts ExecOptions) []string {
	args := []string{"exec"}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	for _, kv := range opts.Env {
		args = append(args, "-e", kv)
	}

	args = append(args, string(id))
	return append(args, command...)
}

// RemoveArgs constructs the arguments of a forced container removal.
func (e *BaseCLIEngine) RemoveArgs(id ContainerID) []string {
	return []string{"rm", "-f", string(id)}
}

// --- Command Execution ---

// CreateCommand creates an exec.Cmd for the given arguments.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// RunCommandWithOutput executes a command with stdout captured to a buffer.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &CommandError{Engine: e.name, Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// RunCommandStatus executes a command and returns only the error status.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	_, err := e.RunCommandWithOutput(ctx, args...)
	return err
}

// --- Engine Operations ---

// Start launches the container and returns the ID printed by the engine.
// Transient engine failures are retried once.
func (e *BaseCLIEngine) Start(ctx context.Context, opts StartOptions) (ContainerID, error) {
	if opts.Image == "" {
		return "", errors.New("container image is required")
	}

	var id string
	err := startRetry.do(ctx, e.name+" run", func() error {
		out, err := e.RunCommandWithOutput(ctx, e.StartArgs(opts)...)
		if err != nil {
			return err
		}
		id = strings.TrimSpace(out)
		return nil
	})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", &CommandError{Engine: e.name, Args: []string{"run"}, Err: errors.New("engine printed no container ID")}
	}
	return ContainerID(id), nil
}

// Exec runs a command in a started container.
func (e *BaseCLIEngine) Exec(ctx context.Context, id ContainerID, command []string, opts ExecOptions) (types.ExitCode, error) {
	cmd := e.CreateCommand(ctx, e.ExecArgs(id, command, opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.ExitInterrupted, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return types.ExitCode(exitErr.ExitCode()), nil
	}
	return 1, &CommandError{Engine: e.name, Args: []string{"exec", string(id)}, Err: err}
}

// Remove force-removes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, id ContainerID) error {
	return e.RunCommandStatus(ctx, e.RemoveArgs(id)...)
}

// available runs a cheap version query to check the engine daemon.
func (e *BaseCLIEngine) available(versionFormat string) bool {
	if e.binaryPath == "" {
		return false
	}
	return e.RunCommandStatus(context.Background(), "version", "--format", versionFormat) == nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
