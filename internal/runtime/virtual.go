// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/envmatrix/envmatrix/pkg/types"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

type (
	// VirtualProvider interprets commands in-process with mvdan/sh. It serves
	// every OS tag, which makes it the runtime of choice for portable tests.
	VirtualProvider struct {
		resolver InterpreterResolver
		create   Template
	}

	// VirtualOption configures a VirtualProvider.
	VirtualOption func(*VirtualProvider)

	virtualRuntime struct {
		interpreter string
		python      string
		envDir      string
		projectDir  string
	}
)

// WithVirtualResolver sets the interpreter resolver.
func WithVirtualResolver(r InterpreterResolver) VirtualOption {
	return func(p *VirtualProvider) {
		p.resolver = r
	}
}

// WithVirtualCreateCommand sets the environment creation template.
func WithVirtualCreateCommand(t Template) VirtualOption {
	return func(p *VirtualProvider) {
		p.create = t
	}
}

// NewVirtualProvider creates a virtual provider.
func NewVirtualProvider(opts ...VirtualOption) *VirtualProvider {
	p := &VirtualProvider{}
	for _, opt := range opts {
		opt(p)
	}
	if p.resolver == nil {
		p.resolver = NewPathResolver(nil)
	}
	return p
}

// Kind returns KindVirtual.
func (p *VirtualProvider) Kind() Kind { return KindVirtual }

// Available always returns true: the interpreter is built in.
func (p *VirtualProvider) Available() bool { return true }

// Provision resolves the interpreter and creates the cell directory.
func (p *VirtualProvider) Provision(ctx context.Context, req ProvisionRequest) (Runtime, error) {
	interpreter, err := p.resolver.Resolve(req.Interpreter)
	if err != nil {
		return nil, err
	}
	if err := prepareEnvDir(req.EnvDir); err != nil {
		return nil, err
	}

	rt := &virtualRuntime{
		interpreter: interpreter,
		python:      interpreter,
		envDir:      req.EnvDir,
		projectDir:  req.ProjectDir,
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

// CheckSyntax parses script as a POSIX shell program.
func CheckSyntax(script string) error {
	if _, err := syntax.NewParser().Parse(strings.NewReader(script), "command"); err != nil {
		return fmt.Errorf("command syntax error: %w", err)
	}
	return nil
}

// QuoteArgv renders argv as a single shell command line.
func QuoteArgv(argv []string) (string, error) {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		q, err := syntax.Quote(a, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("cannot quote argument %q: %w", a, err)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " "), nil
}

func (r *virtualRuntime) Kind() Kind          { return KindVirtual }
func (r *virtualRuntime) Interpreter() string { return r.interpreter }
func (r *virtualRuntime) Python() string      { return r.python }
func (r *virtualRuntime) EnvDir() string      { return r.envDir }
func (r *virtualRuntime) ProjectDir() string  { return r.projectDir }

// Run interprets inv with the environment's bin directory first on PATH.
func (r *virtualRuntime) Run(ctx context.Context, inv Invocation) (types.ExitCode, error) {
	script := inv.Script
	if len(inv.Argv) > 0 {
		var err error
		if script, err = QuoteArgv(inv.Argv); err != nil {
			return 1, err
		}
	}
	if strings.TrimSpace(script) == "" {
		return 1, errors.New("nothing to run")
	}

	prog, err := syntax.NewParser().Parse(strings.NewReader(script), "command")
	if err != nil {
		return 1, fmt.Errorf("failed to parse command: %w", err)
	}

	env := withPathPrefix(inv.Env, envBinDir(r.envDir), string(os.PathListSeparator))
	runner, err := interp.New(
		interp.Dir(resolveWorkDir(r.projectDir, inv.WorkDir)),
		interp.Env(expand.ListEnviron(EnvToSlice(env)...)),
		interp.StdIO(nil, writerOrDiscard(inv.Stdout), writerOrDiscard(inv.Stderr)),
	)
	if err != nil {
		return 1, fmt.Errorf("failed to create interpreter: %w", err)
	}

	err = runner.Run(ctx, prog)
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.ExitInterrupted, ctxErr
	}
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return types.ExitCode(status), nil
	}
	return 1, fmt.Errorf("command execution failed: %w", err)
}

// Close is a no-op: the cell directory is removed by the executor.
func (r *virtualRuntime) Close() error { return nil }

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
