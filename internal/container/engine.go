// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/envmatrix/envmatrix/pkg/types"
)

const (
	// EngineTypePodman selects the podman CLI.
	EngineTypePodman EngineType = "podman"
	// EngineTypeDocker selects the docker CLI.
	EngineTypeDocker EngineType = "docker"
	// EngineTypeAuto tries podman, then docker.
	EngineTypeAuto EngineType = ""
)

var (
	// ErrEngineNotAvailable is the sentinel error wrapped by EngineNotAvailableError.
	ErrEngineNotAvailable = errors.New("container engine not available")

	// ErrInvalidEngineType is the sentinel error wrapped by InvalidEngineTypeError.
	ErrInvalidEngineType = errors.New("invalid container engine type")
)

type (
	// Engine is the subset of container operations the container runtime needs.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available checks if the engine is usable on this system.
		Available() bool
		// Start launches a detached, long-lived container and returns its ID.
		Start(ctx context.Context, opts StartOptions) (ContainerID, error)
		// Exec runs a command in a started container. A non-zero exit is
		// returned as the exit code, not as an error.
		Exec(ctx context.Context, id ContainerID, command []string, opts ExecOptions) (types.ExitCode, error)
		// Remove force-removes a container.
		Remove(ctx context.Context, id ContainerID) error
	}

	// EngineType identifies the container engine.
	EngineType string

	// ContainerID identifies a started container.
	ContainerID string

	// ImageTag names a container image, e.g. "python:3.12-slim".
	ImageTag string

	// StartOptions describes the container launched for one environment.
	StartOptions struct {
		Image   ImageTag
		Name    string
		WorkDir string
		Env     map[string]string
		Volumes []VolumeMount
		Labels  map[string]string
	}

	// ExecOptions describes one command run inside a started container.
	ExecOptions struct {
		WorkDir string
		Env     []string
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// EngineNotAvailableError is returned when neither the preferred engine
	// nor its fallback can be used.
	EngineNotAvailableError struct {
		Engine EngineType
		Reason string
	}

	// InvalidEngineTypeError is returned for an unknown engine name.
	InvalidEngineTypeError struct {
		Value EngineType
	}
)

// String returns the string representation of the EngineType.
func (t EngineType) String() string { return string(t) }

// Validate returns an error if the EngineType is not docker, podman or empty.
func (t EngineType) Validate() error {
	switch t {
	case EngineTypeDocker, EngineTypePodman, EngineTypeAuto:
		return nil
	default:
		return &InvalidEngineTypeError{Value: t}
	}
}

// String returns the string representation of the ContainerID.
func (id ContainerID) String() string { return string(id) }

// String returns the string representation of the ImageTag.
func (i ImageTag) String() string { return string(i) }

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrEngineNotAvailable so callers can use errors.Is for programmatic detection.
func (e *EngineNotAvailableError) Unwrap() error { return ErrEngineNotAvailable }

// Error implements the error interface.
func (e *InvalidEngineTypeError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: docker, podman)", e.Value)
}

// Unwrap returns ErrInvalidEngineType so callers can use errors.Is for programmatic detection.
func (e *InvalidEngineTypeError) Unwrap() error { return ErrInvalidEngineType }

// NewEngine returns the preferred engine, falling back to the other one when
// the preferred engine is not available. An empty type auto-detects.
func NewEngine(preferred EngineType, opts ...BaseCLIEngineOption) (Engine, error) {
	if err := preferred.Validate(); err != nil {
		return nil, err
	}

	var candidates []Engine
	switch preferred {
	case EngineTypeDocker:
		candidates = []Engine{NewDockerEngine(opts...), NewPodmanEngine(opts...)}
	case EngineTypePodman:
		candidates = []Engine{NewPodmanEngine(opts...), NewDockerEngine(opts...)}
	default:
		return AutoDetectEngine(opts...)
	}

	for _, engine := range candidates {
		if engine.Available() {
			return engine, nil
		}
	}
	return nil, &EngineNotAvailableError{
		Engine: preferred,
		Reason: fmt.Sprintf("%s is not installed or not accessible, and the %s fallback is also not available",
			candidates[0].Name(), candidates[1].Name()),
	}
}

// AutoDetectEngine returns the first available engine, trying podman first.
func AutoDetectEngine(opts ...BaseCLIEngineOption) (Engine, error) {
	for _, engine := range []Engine{NewPodmanEngine(opts...), NewDockerEngine(opts...)} {
		if engine.Available() {
			return engine, nil
		}
	}
	return nil, &EngineNotAvailableError{
		Engine: "any",
		Reason: "no container engine (podman or docker) is available on this system",
	}
}
