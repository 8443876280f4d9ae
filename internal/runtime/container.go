// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/envmatrix/envmatrix/internal/container"
	"github.com/envmatrix/envmatrix/pkg/types"
)

// Mount points inside cell containers.
const (
	ContainerEnvDir     = "/envmatrix/env"
	ContainerProjectDir = "/envmatrix/project"

	// DefaultContainerImage is used when no image template is configured.
	DefaultContainerImage = "python:{version}-slim"

	// defaultImageVersion fills {version} when the environment names no interpreter.
	defaultImageVersion = "3"

	containerSystemPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

	// LabelManaged marks containers started by envmatrix.
	LabelManaged = "io.envmatrix.managed"
)

var containerNameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

type (
	// ContainerProvider runs each cell in its own long-lived container.
	ContainerProvider struct {
		engine        container.Engine
		imageTemplate string
		create        Template
	}

	// ContainerOption configures a ContainerProvider.
	ContainerOption func(*ContainerProvider)

	containerRuntime struct {
		engine      container.Engine
		id          container.ContainerID
		interpreter string
		python      string
		closeOnce   sync.Once
		closeErr    error
	}
)

// WithImageTemplate sets the image template, e.g. "python:{version}-slim".
func WithImageTemplate(tmpl string) ContainerOption {
	return func(p *ContainerProvider) {
		if tmpl != "" {
			p.imageTemplate = tmpl
		}
	}
}

// WithContainerCreateCommand sets the environment creation template, run
// inside the container.
func WithContainerCreateCommand(t Template) ContainerOption {
	return func(p *ContainerProvider) {
		p.create = t
	}
}

// NewContainerProvider creates a provider over engine.
func NewContainerProvider(engine container.Engine, opts ...ContainerOption) *ContainerProvider {
	p := &ContainerProvider{engine: engine, imageTemplate: DefaultContainerImage}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Kind returns KindContainer.
func (p *ContainerProvider) Kind() Kind { return KindContainer }

// Available reports whether the engine answers.
func (p *ContainerProvider) Available() bool {
	return p.engine != nil && p.engine.Available()
}

// Image renders the image template for an interpreter spec.
func (p *ContainerProvider) Image(req ProvisionRequest) container.ImageTag {
	version := VersionNumber(req.Interpreter)
	if version == "" {
		version = defaultImageVersion
	}
	return container.ImageTag(strings.ReplaceAll(p.imageTemplate, PlaceholderVersion, version))
}

// Provision starts the cell container with the cell directory and the
// project mounted.
func (p *ContainerProvider) Provision(ctx context.Context, req ProvisionRequest) (Runtime, error) {
	if req.OS != "" && req.OS.Normalize() != types.OSLinux {
		return nil, &UnsupportedOSError{Kind: KindContainer, OS: req.OS}
	}
	if err := prepareEnvDir(req.EnvDir); err != nil {
		return nil, err
	}

	labels := maps.Clone(req.Labels)
	if labels == nil {
		labels = make(map[string]string)
	}
	labels[LabelManaged] = "true"

	id, err := p.engine.Start(ctx, container.StartOptions{
		Image:   p.Image(req),
		Name:    containerName(req.Name),
		WorkDir: ContainerProjectDir,
		Volumes: []container.VolumeMount{
			{HostPath: req.EnvDir, ContainerPath: ContainerEnvDir},
			{HostPath: req.ProjectDir, ContainerPath: ContainerProjectDir},
		},
		Labels: labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s container: %w", p.engine.Name(), err)
	}

	interpreter := "python3"
	if v := VersionNumber(req.Interpreter); v != "" {
		interpreter = "python" + v
	}
	rt := &containerRuntime{engine: p.engine, id: id, interpreter: interpreter, python: interpreter}
	if p.create.IsEmpty() {
		return rt, nil
	}

	argv := p.create.Expand(TemplateValues{Vars: map[string]string{
		PlaceholderInterpreter: interpreter,
		PlaceholderEnvDir:      ContainerEnvDir,
		PlaceholderProject:     ContainerProjectDir,
	}})
	code, err := rt.Run(ctx, Invocation{Argv: argv})
	if err == nil && code != 0 {
		err = fmt.Errorf("environment creation command %q exited with code %d", p.create, code)
	}
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.python = path.Join(ContainerEnvDir, "bin", "python")
	return rt, nil
}

// containerName derives a valid engine name from a cell identifier.
func containerName(name string) string {
	if name == "" {
		return ""
	}
	return "envmatrix-" + strings.Trim(containerNameUnsafe.ReplaceAllString(name, "-"), "-.")
}

func (r *containerRuntime) Kind() Kind          { return KindContainer }
func (r *containerRuntime) Interpreter() string { return r.interpreter }
func (r *containerRuntime) Python() string      { return r.python }
func (r *containerRuntime) EnvDir() string      { return ContainerEnvDir }
func (r *containerRuntime) ProjectDir() string  { return ContainerProjectDir }

// Run executes inv in the cell container.
func (r *containerRuntime) Run(ctx context.Context, inv Invocation) (types.ExitCode, error) {
	command := inv.Argv
	if len(command) == 0 {
		command = []string{"sh", "-c", inv.Script}
	}
	// Host PATH entries mean nothing inside the image.
	env := maps.Clone(inv.Env)
	if env == nil {
		env = make(map[string]string)
	}
	env["PATH"] = path.Join(ContainerEnvDir, "bin") + ":" + containerSystemPath

	return r.engine.Exec(ctx, r.id, command, container.ExecOptions{
		WorkDir: path.Join(ContainerProjectDir, inv.WorkDir),
		Env:     EnvToSlice(env),
		Stdout:  inv.Stdout,
		Stderr:  inv.Stderr,
	})
}

// Close removes the container. Removal runs even when the run was cancelled.
func (r *containerRuntime) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.engine.Remove(context.Background(), r.id)
		if r.closeErr != nil {
			slog.Warn("failed to remove cell container", "container", r.id, "error", r.closeErr)
		}
	})
	return r.closeErr
}
