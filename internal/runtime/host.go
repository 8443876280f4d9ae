// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/envmatrix/envmatrix/pkg/types"
)

// killWaitDelay bounds how long Run waits for output pipes after the
// process group of a cancelled command has been killed.
const killWaitDelay = 2 * time.Second

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// HostOption configures a HostProvider.
	HostOption func(*HostProvider)

	// HostProvider runs commands directly on this machine through the
	// platform shell.
	HostProvider struct {
		resolver    InterpreterResolver
		create      Template
		shell       string
		execCommand ExecCommandFunc
	}

	hostRuntime struct {
		interpreter string
		python      string
		envDir      string
		projectDir  string
		shell       string
		shellArgs   []string
		execCommand ExecCommandFunc
	}
)

// WithResolver sets the interpreter resolver.
func WithResolver(r InterpreterResolver) HostOption {
	return func(p *HostProvider) {
		p.resolver = r
	}
}

// WithCreateCommand sets the template run once to create the environment,
// e.g. "{interpreter} -m venv {envdir}".
func WithCreateCommand(t Template) HostOption {
	return func(p *HostProvider) {
		p.create = t
	}
}

// WithShell overrides shell detection.
func WithShell(shell string) HostOption {
	return func(p *HostProvider) {
		p.shell = shell
	}
}

// WithHostExecCommand sets a custom exec command function for testing.
func WithHostExecCommand(fn ExecCommandFunc) HostOption {
	return func(p *HostProvider) {
		p.execCommand = fn
	}
}

// NewHostProvider creates a host provider. Interpreters are looked up on PATH
// unless WithResolver is given.
func NewHostProvider(opts ...HostOption) *HostProvider {
	p := &HostProvider{execCommand: exec.CommandContext}
	for _, opt := range opts {
		opt(p)
	}
	if p.resolver == nil {
		p.resolver = NewPathResolver(nil)
	}
	return p
}

// Kind returns KindHost.
func (p *HostProvider) Kind() Kind { return KindHost }

// Available reports whether a shell can be found.
func (p *HostProvider) Available() bool {
	_, err := p.detectShell()
	return err == nil
}

// Provision resolves the interpreter, creates the cell directory and runs
// the creation command when one is configured.
func (p *HostProvider) Provision(ctx context.Context, req ProvisionRequest) (Runtime, error) {
	if req.OS != "" && req.OS.Normalize() != types.HostOS() {
		return nil, &UnsupportedOSError{Kind: KindHost, OS: req.OS}
	}
	shell, err := p.detectShell()
	if err != nil {
		return nil, err
	}
	interpreter, err := p.resolver.Resolve(req.Interpreter)
	if err != nil {
		return nil, err
	}
	if err := prepareEnvDir(req.EnvDir); err != nil {
		return nil, err
	}

	rt := &hostRuntime{
		interpreter: interpreter,
		python:      interpreter,
		envDir:      req.EnvDir,
		projectDir:  req.ProjectDir,
		shell:       shell,
		shellArgs:   shellArgs(shell),
		execCommand: p.execCommand,
	}
	if p.create.IsEmpty() {
		return rt, nil
	}

	argv := p.create.Expand(TemplateValues{Vars: map[string]string{
		PlaceholderInterpreter: interpreter,
		PlaceholderEnvDir:      req.EnvDir,
		PlaceholderProject:     req.ProjectDir,
	}})
	code, err := rt.Run(ctx, Invocation{Argv: argv, Env: hostEnvMap()})
	if err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}
	if code != 0 {
		return nil, fmt.Errorf("environment creation command %q exited with code %d", p.create, code)
	}
	rt.python = filepath.Join(envBinDir(req.EnvDir), pythonExecutable())
	return rt, nil
}

// detectShell picks the shell commands run through.
func (p *HostProvider) detectShell() (string, error) {
	if p.shell != "" {
		return p.shell, nil
	}

	switch goruntime.GOOS {
	case "windows":
		if pwsh, err := exec.LookPath("pwsh"); err == nil {
			return pwsh, nil
		}
		if ps, err := exec.LookPath("powershell"); err == nil {
			return ps, nil
		}
		return exec.LookPath("cmd")
	default:
		if sh, err := exec.LookPath("sh"); err == nil {
			return sh, nil
		}
		if bash, err := exec.LookPath("bash"); err == nil {
			return bash, nil
		}
		return "", errors.New("no shell found")
	}
}

// shellArgs returns the arguments placed before the script.
func shellArgs(shell string) []string {
	base := filepath.Base(shell)
	if i := strings.LastIndex(base, "\\"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(strings.ToLower(base), ".exe")

	switch base {
	case "cmd":
		return []string{"/C"}
	case "powershell", "pwsh":
		return []string{"-NoProfile", "-Command"}
	default:
		return []string{"-c"}
	}
}

func pythonExecutable() string {
	if goruntime.GOOS == "windows" {
		return "python.exe"
	}
	return "python"
}

func hostEnvMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}

func (r *hostRuntime) Kind() Kind          { return KindHost }
func (r *hostRuntime) Interpreter() string { return r.interpreter }
func (r *hostRuntime) Python() string      { return r.python }
func (r *hostRuntime) EnvDir() string      { return r.envDir }
func (r *hostRuntime) ProjectDir() string  { return r.projectDir }

// Run executes inv with the environment's bin directory first on PATH.
func (r *hostRuntime) Run(ctx context.Context, inv Invocation) (types.ExitCode, error) {
	binDir := envBinDir(r.envDir)
	env := withPathPrefix(inv.Env, binDir, string(os.PathListSeparator))

	var cmd *exec.Cmd
	if len(inv.Argv) > 0 {
		cmd = r.execCommand(ctx, lookPathIn(inv.Argv[0], binDir), inv.Argv[1:]...)
	} else {
		if strings.TrimSpace(inv.Script) == "" {
			return 1, errors.New("nothing to run")
		}
		args := append(append([]string{}, r.shellArgs...), inv.Script)
		cmd = r.execCommand(ctx, r.shell, args...)
	}
	setProcessGroup(cmd)
	cmd.Dir = resolveWorkDir(r.projectDir, inv.WorkDir)
	cmd.Env = EnvToSlice(env)
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr

	return exitStatus(ctx, cmd.Run())
}

// Close is a no-op: the cell directory is removed by the executor.
func (r *hostRuntime) Close() error { return nil }

// lookPathIn prefers an executable from dir over the PATH of this process
// for bare command names.
func lookPathIn(name, dir string) string {
	if strings.ContainsAny(name, `/\`) {
		return name
	}
	candidate := filepath.Join(dir, name)
	if goruntime.GOOS == "windows" && filepath.Ext(candidate) == "" {
		candidate += ".exe"
	}
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return name
}

// exitStatus converts the result of running a process into an exit code.
func exitStatus(ctx context.Context, err error) (types.ExitCode, error) {
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
	return 1, fmt.Errorf("failed to execute command: %w", err)
}
