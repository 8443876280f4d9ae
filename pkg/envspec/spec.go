// SPDX-License-Identifier: MPL-2.0

package envspec

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/envmatrix/envmatrix/pkg/types"
)

var (
	// ErrConfig is the sentinel error wrapped by ConfigError.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidEnvironmentName is the sentinel error wrapped by InvalidEnvironmentNameError.
	ErrInvalidEnvironmentName = errors.New("invalid environment name")

	// ErrInvalidExtraName is the sentinel error wrapped by InvalidExtraNameError.
	ErrInvalidExtraName = errors.New("invalid extra name")
)

type (
	// EnvironmentName is the unique key of an environment in a Registry.
	// It must be non-empty, contain no whitespace and no square brackets.
	EnvironmentName string

	// ExtraName names an optional dependency group. Without an extras table
	// the name is forwarded to the installer as-is.
	ExtraName string

	// PackageConstraint is a requirement string such as
	// "ruff==0.4.1" or "pytest[cov]>=8; python_version<'3.12'".
	PackageConstraint string

	// VersionSpec selects a base interpreter, e.g. "3.11", "py312" or "pypy3".
	VersionSpec string

	// EnvironmentSpec is the concrete, merged configuration of one environment.
	// Empty strings mean "not configured" for BaseInterpreter and
	// WorkingDirectoryOverride. Slices and maps are never nil.
	EnvironmentSpec struct {
		Name                      EnvironmentName
		Description               types.DescriptionText
		BaseInterpreter           VersionSpec
		UsesDevelopMode           bool
		ExtrasRequested           []ExtraName
		ExplicitDependencies      []PackageConstraint
		PassthroughEnvVarPatterns []string
		WorkingDirectoryOverride  string
		SetEnv                    map[string]string
		Commands                  []Command
	}

	// Fields is the set of environment fields that may be shared through the
	// default block or overridden per environment.
	Fields struct {
		BaseInterpreter           Optional[VersionSpec]
		UsesDevelopMode           Optional[bool]
		ExtrasRequested           Optional[[]ExtraName]
		ExplicitDependencies      Optional[[]PackageConstraint]
		PassthroughEnvVarPatterns Optional[[]string]
		WorkingDirectoryOverride  Optional[string]
		SetEnv                    Optional[map[string]string]
		Commands                  Optional[[]Command]
	}

	// PartialSpec is one environment block as declared in the registry:
	// only the fields it sets explicitly are present.
	PartialSpec struct {
		Name        EnvironmentName
		Description Optional[types.DescriptionText]
		Fields
	}

	// DefaultBlock is merged into every environment of a Registry.
	DefaultBlock struct {
		Fields
	}

	// Registry is the ordered set of environment declarations plus the shared
	// default block. It is read-only once built.
	Registry struct {
		defaults DefaultBlock
		order    []EnvironmentName
		envs     map[EnvironmentName]PartialSpec
	}

	// ExtrasCatalog reports which extras are known. A nil catalog accepts any name.
	ExtrasCatalog interface {
		HasExtra(name ExtraName) bool
	}

	// ConfigError describes a malformed or ambiguous registry or matrix
	// definition. It is always detected before any environment runs.
	ConfigError struct {
		Source      string
		Line        int
		Environment EnvironmentName
		Field       string
		Reason      string
	}

	// InvalidEnvironmentNameError is returned when an EnvironmentName is malformed.
	InvalidEnvironmentNameError struct {
		Value EnvironmentName
	}

	// InvalidExtraNameError is returned when an ExtraName is malformed.
	InvalidExtraNameError struct {
		Value ExtraName
	}
)

// String returns the string representation of the EnvironmentName.
func (n EnvironmentName) String() string { return string(n) }

// IsValid returns whether the EnvironmentName can be used as a registry key.
func (n EnvironmentName) IsValid() (bool, []error) {
	s := string(n)
	if s == "" || strings.ContainsAny(s, "[]") || strings.ContainsFunc(s, unicode.IsSpace) {
		return false, []error{&InvalidEnvironmentNameError{Value: n}}
	}
	return true, nil
}

// Error implements the error interface for InvalidEnvironmentNameError.
func (e *InvalidEnvironmentNameError) Error() string {
	return fmt.Sprintf("invalid environment name %q: must be non-empty without whitespace or brackets", e.Value)
}

// Unwrap returns ErrInvalidEnvironmentName for errors.Is() compatibility.
func (e *InvalidEnvironmentNameError) Unwrap() error { return ErrInvalidEnvironmentName }

// String returns the string representation of the ExtraName.
func (x ExtraName) String() string { return string(x) }

// IsValid returns whether the ExtraName is non-empty and free of separators.
func (x ExtraName) IsValid() (bool, []error) {
	s := string(x)
	if s == "" || strings.ContainsRune(s, ',') || strings.ContainsFunc(s, unicode.IsSpace) {
		return false, []error{&InvalidExtraNameError{Value: x}}
	}
	return true, nil
}

// Error implements the error interface for InvalidExtraNameError.
func (e *InvalidExtraNameError) Error() string {
	return fmt.Sprintf("invalid extra name %q: must be non-empty without whitespace or commas", e.Value)
}

// Unwrap returns ErrInvalidExtraName for errors.Is() compatibility.
func (e *InvalidExtraNameError) Unwrap() error { return ErrInvalidExtraName }

// String returns the string representation of the PackageConstraint.
func (p PackageConstraint) String() string { return string(p) }

// String returns the string representation of the VersionSpec.
func (v VersionSpec) String() string { return string(v) }

// Error implements the error interface.
func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config error")
	if e.Source != "" {
		b.WriteString(" in ")
		b.WriteString(e.Source)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
	}
	if e.Environment != "" {
		fmt.Fprintf(&b, ": environment %q", e.Environment)
	}
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// Unwrap returns ErrConfig so callers can use errors.Is for programmatic detection.
func (e *ConfigError) Unwrap() error { return ErrConfig }

// IsEmpty reports whether no field is set.
func (f Fields) IsEmpty() bool {
	return !f.BaseInterpreter.IsSet() &&
		!f.UsesDevelopMode.IsSet() &&
		!f.ExtrasRequested.IsSet() &&
		!f.ExplicitDependencies.IsSet() &&
		!f.PassthroughEnvVarPatterns.IsSet() &&
		!f.WorkingDirectoryOverride.IsSet() &&
		!f.SetEnv.IsSet() &&
		!f.Commands.IsSet()
}

// NewRegistry builds a Registry from a default block and environment
// declarations in listing order. Duplicate or invalid names are a ConfigError.
func NewRegistry(defaults DefaultBlock, envs ...PartialSpec) (*Registry, error) {
	r := &Registry{defaults: defaults, envs: make(map[EnvironmentName]PartialSpec, len(envs))}
	for _, env := range envs {
		if err := r.add(env); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(env PartialSpec) error {
	if ok, errs := env.Name.IsValid(); !ok {
		return &ConfigError{Environment: env.Name, Reason: errors.Join(errs...).Error()}
	}
	if _, dup := r.envs[env.Name]; dup {
		return &ConfigError{Environment: env.Name, Reason: "duplicate environment"}
	}
	r.order = append(r.order, env.Name)
	r.envs[env.Name] = env
	return nil
}

// Defaults returns the registry's default block.
func (r *Registry) Defaults() DefaultBlock { return r.defaults }

// Names returns the environment names in declaration order.
func (r *Registry) Names() []EnvironmentName {
	return append([]EnvironmentName(nil), r.order...)
}

// Len returns the number of declared environments.
func (r *Registry) Len() int { return len(r.order) }

// Lookup returns the declaration of the named environment.
func (r *Registry) Lookup(name EnvironmentName) (PartialSpec, bool) {
	env, ok := r.envs[name]
	return env, ok
}

// Environments returns every declaration in declaration order.
func (r *Registry) Environments() []PartialSpec {
	out := make([]PartialSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.envs[name])
	}
	return out
}

// Resolve merges the named environment with the default block.
func (r *Registry) Resolve(name EnvironmentName, catalog ExtrasCatalog) (EnvironmentSpec, error) {
	env, ok := r.envs[name]
	if !ok {
		return EnvironmentSpec{}, &ConfigError{Environment: name, Reason: "unknown environment"}
	}
	return Merge(r.defaults, env, catalog)
}

// ResolveAll merges every environment in declaration order. All merge errors
// are reported together.
func (r *Registry) ResolveAll(catalog ExtrasCatalog) ([]EnvironmentSpec, error) {
	specs := make([]EnvironmentSpec, 0, len(r.order))
	var errs []error
	for _, name := range r.order {
		spec, err := Merge(r.defaults, r.envs[name], catalog)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		specs = append(specs, spec)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return specs, nil
}
