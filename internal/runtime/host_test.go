// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"testing"
	"time"

	"github.com/envmatrix/envmatrix/pkg/types"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if goruntime.GOOS == "windows" {
		t.Skip("host runtime tests use a POSIX shell")
	}
}

// newTestHostRuntime provisions a host runtime whose "interpreter" is sh.
func newTestHostRuntime(t *testing.T, opts ...HostOption) (Runtime, ProvisionRequest) {
	t.Helper()
	skipOnWindows(t)

	req := ProvisionRequest{
		EnvDir:     filepath.Join(t.TempDir(), "env"),
		ProjectDir: t.TempDir(),
		OS:         types.HostOS(),
		Name:       "test:py311@" + string(types.HostOS()),
	}
	opts = append([]HostOption{WithResolver(StaticResolver{"": "sh"})}, opts...)
	rt, err := NewHostProvider(opts...).Provision(context.Background(), req)
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt, req
}

func TestHostProvider_Provision(t *testing.T) {
	t.Parallel()

	rt, req := newTestHostRuntime(t)

	if rt.Kind() != KindHost {
		t.Errorf("Kind() = %q, want %q", rt.Kind(), KindHost)
	}
	if rt.Interpreter() != "sh" || rt.Python() != "sh" {
		t.Errorf("Interpreter() = %q, Python() = %q, want sh for both", rt.Interpreter(), rt.Python())
	}
	if rt.EnvDir() != req.EnvDir || rt.ProjectDir() != req.ProjectDir {
		t.Errorf("EnvDir() = %q, ProjectDir() = %q", rt.EnvDir(), rt.ProjectDir())
	}
	if info, err := os.Stat(req.EnvDir); err != nil || !info.IsDir() {
		t.Errorf("environment directory was not created: %v", err)
	}
}

func TestHostProvider_ProvisionRunsCreateCommand(t *testing.T) {
	t.Parallel()

	rt, req := newTestHostRuntime(t, WithCreateCommand(MustParseTemplate("mkdir -p {envdir}/bin")))

	if _, err := os.Stat(filepath.Join(req.EnvDir, "bin")); err != nil {
		t.Fatalf("creation command did not run: %v", err)
	}
	if want := filepath.Join(req.EnvDir, "bin", "python"); rt.Python() != want {
		t.Errorf("Python() = %q, want %q", rt.Python(), want)
	}
}

func TestHostProvider_ProvisionFailures(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	tests := []struct {
		name    string
		opts    []HostOption
		os      types.OSName
		wantErr error
	}{
		{
			name:    "foreign os",
			opts:    []HostOption{WithResolver(StaticResolver{"": "sh"})},
			os:      "plan9",
			wantErr: ErrUnsupportedOS,
		},
		{
			name:    "missing interpreter",
			opts:    []HostOption{WithResolver(StaticResolver{})},
			wantErr: ErrNoInterpreter,
		},
		{
			name: "failing create command",
			opts: []HostOption{
				WithResolver(StaticResolver{"": "sh"}),
				WithCreateCommand(MustParseTemplate("false")),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewHostProvider(tt.opts...).Provision(context.Background(), ProvisionRequest{
				EnvDir:     filepath.Join(t.TempDir(), "env"),
				ProjectDir: t.TempDir(),
				OS:         tt.os,
			})
			if err == nil {
				t.Fatal("Provision() succeeded, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Provision() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHostRuntime_Run(t *testing.T) {
	t.Parallel()

	rt, req := newTestHostRuntime(t)
	if err := os.Mkdir(filepath.Join(req.ProjectDir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		inv      Invocation
		wantCode types.ExitCode
		wantOut  string
	}{
		{
			name:    "script output",
			inv:     Invocation{Script: "echo hello"},
			wantOut: "hello\n",
		},
		{
			name:     "exit code",
			inv:      Invocation{Script: "exit 3"},
			wantCode: 3,
		},
		{
			name:    "argv",
			inv:     Invocation{Argv: []string{"sh", "-c", `echo "$1"`, "sh", "a b"}},
			wantOut: "a b\n",
		},
		{
			name:    "work dir relative to project",
			inv:     Invocation{Script: "basename \"$PWD\"", WorkDir: "sub"},
			wantOut: "sub\n",
		},
		{
			name:    "env map is the whole environment",
			inv:     Invocation{Script: `echo "${ONLY:-unset} ${HOME:-nohome}"`, Env: map[string]string{"ONLY": "set"}},
			wantOut: "set nohome\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var stdout bytes.Buffer
			inv := tt.inv
			inv.Stdout = &stdout
			if inv.Env == nil {
				inv.Env = map[string]string{"PATH": os.Getenv("PATH")}
			} else {
				inv.Env["PATH"] = os.Getenv("PATH")
			}
			code, err := rt.Run(context.Background(), inv)
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if code != tt.wantCode {
				t.Errorf("Run() = %d, want %d", code, tt.wantCode)
			}
			if tt.wantOut != "" && stdout.String() != tt.wantOut {
				t.Errorf("stdout = %q, want %q", stdout.String(), tt.wantOut)
			}
		})
	}
}

func TestHostRuntime_RunPrependsEnvBin(t *testing.T) {
	t.Parallel()

	rt, req := newTestHostRuntime(t)
	var stdout bytes.Buffer
	_, err := rt.Run(context.Background(), Invocation{
		Script: `echo "$PATH"`,
		Env:    map[string]string{"PATH": "/usr/bin:/bin"},
		Stdout: &stdout,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	want := filepath.Join(req.EnvDir, "bin") + ":/usr/bin:/bin"
	if got := strings.TrimSpace(stdout.String()); got != want {
		t.Errorf("PATH = %q, want %q", got, want)
	}
}

func TestHostRuntime_RunCancelled(t *testing.T) {
	t.Parallel()

	rt, _ := newTestHostRuntime(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	code, err := rt.Run(ctx, Invocation{Script: "sleep 5", Env: map[string]string{"PATH": os.Getenv("PATH")}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want context.DeadlineExceeded", err)
	}
	if code != types.ExitInterrupted {
		t.Errorf("Run() = %d, want %d", code, types.ExitInterrupted)
	}
}

func TestHostRuntime_RunCancelledKillsChildren(t *testing.T) {
	t.Parallel()

	rt, _ := newTestHostRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	var stdout bytes.Buffer
	start := time.Now()
	code, err := rt.Run(ctx, Invocation{
		Script: "sleep 5 && echo done",
		Env:    map[string]string{"PATH": os.Getenv("PATH")},
		Stdout: &stdout,
	})
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if code != types.ExitInterrupted {
		t.Errorf("Run() = %d, want %d", code, types.ExitInterrupted)
	}
	if elapsed > 3*time.Second {
		t.Errorf("Run() returned after %v, the sleep child outlived cancellation", elapsed)
	}
	if strings.Contains(stdout.String(), "done") {
		t.Errorf("stdout = %q, the script should not have finished", stdout.String())
	}
}

func TestHostRuntime_RunNothing(t *testing.T) {
	t.Parallel()

	rt, _ := newTestHostRuntime(t)
	if _, err := rt.Run(context.Background(), Invocation{Script: "  "}); err == nil {
		t.Error("Run() with an empty script should fail")
	}
}

func TestShellArgs(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/bin/sh":            "-c",
		"/usr/bin/bash":      "-c",
		`C:\Windows\cmd.exe`: "/C",
		"pwsh":               "-NoProfile",
		"powershell.exe":     "-NoProfile",
	}
	for shell, want := range tests {
		if got := shellArgs(shell); got[0] != want {
			t.Errorf("shellArgs(%q)[0] = %q, want %q", shell, got[0], want)
		}
	}
}

func TestLookPathIn(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tool"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	if got := lookPathIn("tool", dir); got != filepath.Join(dir, "tool") {
		t.Errorf("lookPathIn(tool) = %q, want the environment copy", got)
	}
	if got := lookPathIn("other", dir); got != "other" {
		t.Errorf("lookPathIn(other) = %q, want other", got)
	}
	if got := lookPathIn("/bin/tool", dir); got != "/bin/tool" {
		t.Errorf("lookPathIn(/bin/tool) = %q, want it unchanged", got)
	}
}
