// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	goruntime "runtime"
	"slices"
	"strings"

	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/types"
)

// Runtime kinds.
const (
	KindHost      Kind = "host"
	KindVirtual   Kind = "virtual"
	KindContainer Kind = "container"
)

var (
	// ErrInvalidKind is the sentinel error wrapped by InvalidKindError.
	ErrInvalidKind = errors.New("invalid runtime kind")

	// ErrRuntimeNotAvailable is returned when no usable provider is registered
	// for the requested kind.
	ErrRuntimeNotAvailable = errors.New("runtime not available")

	// ErrNoInterpreter is the sentinel error wrapped by NoInterpreterError.
	ErrNoInterpreter = errors.New("no matching interpreter")

	// ErrUnsupportedOS is the sentinel error wrapped by UnsupportedOSError.
	ErrUnsupportedOS = errors.New("operating system not supported by runtime")
)

type (
	// Kind names a runtime provider.
	Kind string

	// InvalidKindError is returned when a Kind value is not recognized.
	InvalidKindError struct {
		Value Kind
	}

	// ProvisionRequest describes the environment a cell needs.
	ProvisionRequest struct {
		// Interpreter selects the base interpreter; empty means the default one.
		Interpreter envspec.VersionSpec
		// EnvDir is the cell's private directory on the host. It is created if missing.
		EnvDir string
		// ProjectDir is the project root on the host.
		ProjectDir string
		// OS is the operating system tag of the cell.
		OS types.OSName
		// Name identifies the cell in engine-visible names and labels.
		Name string
		// Labels are attached to engine resources where supported.
		Labels map[string]string
	}

	// Invocation is one command run inside a provisioned runtime. Argv, when
	// set, is executed as-is; otherwise Script is run by the runtime's shell.
	Invocation struct {
		Script string
		Argv   []string
		// WorkDir is relative to the project root; empty means the project root.
		WorkDir string
		// Env is the complete command environment.
		Env    map[string]string
		Stdout io.Writer
		Stderr io.Writer
	}

	// Provider provisions runtimes of one kind.
	Provider interface {
		Kind() Kind
		// Available reports whether the provider can provision on this host.
		Available() bool
		// Provision creates the runtime described by req.
		Provision(ctx context.Context, req ProvisionRequest) (Runtime, error)
	}

	// Runtime is a provisioned, isolated cell environment.
	Runtime interface {
		Kind() Kind
		// Interpreter is the base interpreter command as seen by commands.
		Interpreter() string
		// Python is the interpreter inside the environment as seen by commands.
		// It equals Interpreter when no creation command is configured.
		Python() string
		// EnvDir is the cell directory as seen by commands.
		EnvDir() string
		// ProjectDir is the project root as seen by commands.
		ProjectDir() string
		// Run executes inv and returns its exit code. A non-nil error means the
		// command could not be run to completion; on cancellation the code is
		// types.ExitInterrupted and the error is the context's.
		Run(ctx context.Context, inv Invocation) (types.ExitCode, error)
		// Close releases the runtime. It is safe to call more than once.
		Close() error
	}

	// NoInterpreterError is returned when no interpreter matches a VersionSpec.
	NoInterpreterError struct {
		Spec  envspec.VersionSpec
		Tried []string
	}

	// UnsupportedOSError is returned when a provider cannot serve a cell's OS.
	UnsupportedOSError struct {
		Kind Kind
		OS   types.OSName
	}

	// Registry holds the providers available to a run.
	Registry struct {
		providers map[Kind]Provider
	}
)

// String returns the string representation of the Kind.
func (k Kind) String() string { return string(k) }

// Validate returns nil if the Kind is a known provider kind.
func (k Kind) Validate() error {
	switch k {
	case KindHost, KindVirtual, KindContainer:
		return nil
	default:
		return &InvalidKindError{Value: k}
	}
}

// Error implements the error interface.
func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("invalid runtime kind %q (valid: %s, %s, %s)", e.Value, KindHost, KindVirtual, KindContainer)
}

// Unwrap returns ErrInvalidKind for errors.Is() compatibility.
func (e *InvalidKindError) Unwrap() error { return ErrInvalidKind }

// Error implements the error interface.
func (e *NoInterpreterError) Error() string {
	spec := string(e.Spec)
	if spec == "" {
		spec = "default"
	}
	if len(e.Tried) == 0 {
		return fmt.Sprintf("no interpreter found for %q", spec)
	}
	return fmt.Sprintf("no interpreter found for %q (tried %s)", spec, strings.Join(e.Tried, ", "))
}

// Unwrap returns ErrNoInterpreter for errors.Is() compatibility.
func (e *NoInterpreterError) Unwrap() error { return ErrNoInterpreter }

// Error implements the error interface.
func (e *UnsupportedOSError) Error() string {
	return fmt.Sprintf("%s runtime cannot run %s cells", e.Kind, e.OS)
}

// Unwrap returns ErrUnsupportedOS for errors.Is() compatibility.
func (e *UnsupportedOSError) Unwrap() error { return ErrUnsupportedOS }

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[Kind]Provider)}
}

// Register adds or replaces the provider for its kind.
func (r *Registry) Register(p Provider) {
	r.providers[p.Kind()] = p
}

// Get returns the provider of the given kind if it is registered and available.
func (r *Registry) Get(kind Kind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s runtime is not registered", ErrRuntimeNotAvailable, kind)
	}
	if !p.Available() {
		return nil, fmt.Errorf("%w: %s runtime is not usable on this host", ErrRuntimeNotAvailable, kind)
	}
	return p, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// prepareEnvDir creates the cell directory.
func prepareEnvDir(dir string) error {
	if dir == "" {
		return errors.New("environment directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create environment directory: %w", err)
	}
	return nil
}

// envBinDir is the directory holding the executables of an environment
// created under dir.
func envBinDir(dir string) string {
	if goruntime.GOOS == "windows" {
		return filepath.Join(dir, "Scripts")
	}
	return filepath.Join(dir, "bin")
}

// resolveWorkDir joins a relative working directory onto root.
func resolveWorkDir(root, dir string) string {
	if dir == "" {
		return root
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}
