// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/envmatrix/envmatrix/internal/container"
	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/types"
)

type (
	// fakeEngine records container operations and answers Exec from a script.
	fakeEngine struct {
		mu        sync.Mutex
		available bool
		startErr  error
		started   []container.StartOptions
		execs     []fakeExec
		removed   []container.ContainerID
		// exitFor returns the exit code for a command; nil means 0.
		exitFor func(command []string) types.ExitCode
	}

	fakeExec struct {
		ID      container.ContainerID
		Command []string
		Opts    container.ExecOptions
	}
)

func newFakeEngine() *fakeEngine { return &fakeEngine{available: true} }

func (e *fakeEngine) Name() string    { return "fake" }
func (e *fakeEngine) Available() bool { return e.available }

func (e *fakeEngine) Start(_ context.Context, opts container.StartOptions) (container.ContainerID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return "", e.startErr
	}
	e.started = append(e.started, opts)
	return container.ContainerID("ctr-" + opts.Name), nil
}

func (e *fakeEngine) Exec(_ context.Context, id container.ContainerID, command []string, opts container.ExecOptions) (types.ExitCode, error) {
	e.mu.Lock()
	e.execs = append(e.execs, fakeExec{ID: id, Command: command, Opts: opts})
	exitFor := e.exitFor
	e.mu.Unlock()
	if exitFor == nil {
		return 0, nil
	}
	return exitFor(command), nil
}

func (e *fakeEngine) Remove(_ context.Context, id container.ContainerID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, id)
	return nil
}

func testContainerRequest(t *testing.T) ProvisionRequest {
	t.Helper()
	return ProvisionRequest{
		Interpreter: "py311",
		EnvDir:      filepath.Join(t.TempDir(), "env"),
		ProjectDir:  t.TempDir(),
		OS:          types.OSLinux,
		Name:        "test:py311@linux",
		Labels:      map[string]string{"io.envmatrix.cell": "test:py311@linux"},
	}
}

func TestContainerProvider_Provision(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	req := testContainerRequest(t)
	rt, err := NewContainerProvider(engine).Provision(context.Background(), req)
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}

	if len(engine.started) != 1 {
		t.Fatalf("started %d containers, want 1", len(engine.started))
	}
	opts := engine.started[0]
	if opts.Image != "python:3.11-slim" {
		t.Errorf("Image = %q, want python:3.11-slim", opts.Image)
	}
	if opts.Name != "envmatrix-test-py311-linux" {
		t.Errorf("Name = %q, want envmatrix-test-py311-linux", opts.Name)
	}
	if opts.WorkDir != ContainerProjectDir {
		t.Errorf("WorkDir = %q, want %q", opts.WorkDir, ContainerProjectDir)
	}
	wantVolumes := []container.VolumeMount{
		{HostPath: req.EnvDir, ContainerPath: ContainerEnvDir},
		{HostPath: req.ProjectDir, ContainerPath: ContainerProjectDir},
	}
	if !slices.Equal(opts.Volumes, wantVolumes) {
		t.Errorf("Volumes = %v, want %v", opts.Volumes, wantVolumes)
	}
	if opts.Labels[LabelManaged] != "true" || opts.Labels["io.envmatrix.cell"] != req.Name {
		t.Errorf("Labels = %v, want the managed and cell labels", opts.Labels)
	}
	if _, ok := req.Labels[LabelManaged]; ok {
		t.Error("Provision() must not modify the request labels")
	}

	if rt.Interpreter() != "python3.11" || rt.Python() != "python3.11" {
		t.Errorf("Interpreter() = %q, Python() = %q", rt.Interpreter(), rt.Python())
	}
	if rt.EnvDir() != ContainerEnvDir || rt.ProjectDir() != ContainerProjectDir {
		t.Errorf("EnvDir() = %q, ProjectDir() = %q", rt.EnvDir(), rt.ProjectDir())
	}
}

func TestContainerProvider_Image(t *testing.T) {
	t.Parallel()

	tests := []struct {
		template string
		spec     string
		want     container.ImageTag
	}{
		{"", "3.12", "python:3.12-slim"},
		{"", "", "python:3-slim"},
		{"", "pypy3", "python:3-slim"},
		{"ghcr.io/acme/py:{version}", "py310", "ghcr.io/acme/py:3.10"},
		{"debian:bookworm", "3.11", "debian:bookworm"},
	}

	for _, tt := range tests {
		p := NewContainerProvider(newFakeEngine(), WithImageTemplate(tt.template))
		got := p.Image(ProvisionRequest{Interpreter: envspec.VersionSpec(tt.spec)})
		if got != tt.want {
			t.Errorf("Image(template=%q, spec=%q) = %q, want %q", tt.template, tt.spec, got, tt.want)
		}
	}
}

func TestContainerProvider_ProvisionFailures(t *testing.T) {
	t.Parallel()

	t.Run("non-linux cell", func(t *testing.T) {
		t.Parallel()
		req := testContainerRequest(t)
		req.OS = types.OSWindows
		_, err := NewContainerProvider(newFakeEngine()).Provision(context.Background(), req)
		if !errors.Is(err, ErrUnsupportedOS) {
			t.Errorf("Provision() error = %v, want ErrUnsupportedOS", err)
		}
	})

	t.Run("start failure", func(t *testing.T) {
		t.Parallel()
		engine := newFakeEngine()
		engine.startErr = errors.New("image pull failed")
		_, err := NewContainerProvider(engine).Provision(context.Background(), testContainerRequest(t))
		if err == nil || !strings.Contains(err.Error(), "image pull failed") {
			t.Errorf("Provision() error = %v, want the start error", err)
		}
	})

	t.Run("create failure removes the container", func(t *testing.T) {
		t.Parallel()
		engine := newFakeEngine()
		engine.exitFor = func([]string) types.ExitCode { return 2 }
		p := NewContainerProvider(engine, WithContainerCreateCommand(MustParseTemplate("{interpreter} -m venv {envdir}")))
		_, err := p.Provision(context.Background(), testContainerRequest(t))
		if err == nil {
			t.Fatal("Provision() succeeded, want error")
		}
		if len(engine.removed) != 1 {
			t.Errorf("removed %d containers, want 1", len(engine.removed))
		}
	})
}

func TestContainerProvider_CreateCommand(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	p := NewContainerProvider(engine, WithContainerCreateCommand(MustParseTemplate("{interpreter} -m venv {envdir}")))
	rt, err := p.Provision(context.Background(), testContainerRequest(t))
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}

	want := []string{"python3.11", "-m", "venv", ContainerEnvDir}
	if len(engine.execs) != 1 || !slices.Equal(engine.execs[0].Command, want) {
		t.Fatalf("execs = %+v, want one exec of %v", engine.execs, want)
	}
	if rt.Python() != ContainerEnvDir+"/bin/python" {
		t.Errorf("Python() = %q, want the environment interpreter", rt.Python())
	}
}

func TestContainerRuntime_Run(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.exitFor = func(command []string) types.ExitCode {
		if slices.Contains(command, "exit 4") {
			return 4
		}
		return 0
	}
	rt, err := NewContainerProvider(engine).Provision(context.Background(), testContainerRequest(t))
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}

	code, err := rt.Run(context.Background(), Invocation{
		Script:  "exit 4",
		WorkDir: "src",
		Env:     map[string]string{"PATH": "/host/only", "CI": "true"},
	})
	if err != nil || code != 4 {
		t.Fatalf("Run() = (%d, %v), want (4, nil)", code, err)
	}

	got := engine.execs[0]
	if got.ID != "ctr-envmatrix-test-py311-linux" {
		t.Errorf("exec container = %q", got.ID)
	}
	if !slices.Equal(got.Command, []string{"sh", "-c", "exit 4"}) {
		t.Errorf("Command = %v, want sh -c", got.Command)
	}
	if got.Opts.WorkDir != ContainerProjectDir+"/src" {
		t.Errorf("WorkDir = %q", got.Opts.WorkDir)
	}
	wantEnv := []string{"CI=true", "PATH=" + ContainerEnvDir + "/bin:" + containerSystemPath}
	if !slices.Equal(got.Opts.Env, wantEnv) {
		t.Errorf("Env = %v, want %v", got.Opts.Env, wantEnv)
	}
}

func TestContainerRuntime_CloseOnce(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	rt, err := NewContainerProvider(engine).Provision(context.Background(), testContainerRequest(t))
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}

	for range 3 {
		if err := rt.Close(); err != nil {
			t.Fatalf("Close() error: %v", err)
		}
	}
	if len(engine.removed) != 1 {
		t.Errorf("removed %d times, want 1", len(engine.removed))
	}
}

func TestContainerProvider_Available(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	if !NewContainerProvider(engine).Available() {
		t.Error("Available() = false with an available engine")
	}
	engine.available = false
	if NewContainerProvider(engine).Available() {
		t.Error("Available() = true with an unavailable engine")
	}
	if NewContainerProvider(nil).Available() {
		t.Error("Available() = true without an engine")
	}
}

func TestContainerName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":                     "",
		"test:py311@linux":     "envmatrix-test-py311-linux",
		"lint:default@linux#2": "envmatrix-lint-default-linux-2",
		"a b/c":                "envmatrix-a-b-c",
	}
	for in, want := range tests {
		if got := containerName(in); got != want {
			t.Errorf("containerName(%q) = %q, want %q", in, got, want)
		}
	}
}
