// SPDX-License-Identifier: MPL-2.0

package envspectest

import (
	"maps"
	"testing"

	"github.com/envmatrix/envmatrix/pkg/envspec"
)

// EnvironmentOption configures a test environment declaration.
type EnvironmentOption func(*envspec.PartialSpec)

// NewTestEnvironment creates an environment declaration with the given name.
// By default it sets nothing but a single "true" command, so that it merges
// into a valid EnvironmentSpec even with an empty default block.
//
// Usage:
//
//	env := envspectest.NewTestEnvironment("lint")
//	env := envspectest.NewTestEnvironment("lint",
//	    envspectest.WithCommands("-ruff format --check .", "ruff check ."),
//	    envspectest.WithDeps("ruff==0.4.1"),
//	)
func NewTestEnvironment(name string, opts ...EnvironmentOption) envspec.PartialSpec {
	env := envspec.PartialSpec{Name: envspec.EnvironmentName(name)}
	env.Commands = envspec.Some([]envspec.Command{{Text: "true"}})
	for _, opt := range opts {
		opt(&env)
	}
	return env
}

// WithCommands replaces the command sequence. A leading "-" marks the
// command as allowed to fail, as in the registry format.
func WithCommands(raw ...string) EnvironmentOption {
	return func(e *envspec.PartialSpec) {
		cmds := make([]envspec.Command, 0, len(raw))
		for _, r := range raw {
			cmd, err := envspec.ParseCommand(r)
			if err != nil {
				panic("envspectest: " + err.Error())
			}
			cmds = append(cmds, cmd)
		}
		e.Commands = envspec.Some(cmds)
	}
}

// WithoutCommands leaves the command sequence unset so it comes from the defaults.
func WithoutCommands() EnvironmentOption {
	return func(e *envspec.PartialSpec) {
		e.Commands = envspec.None[[]envspec.Command]()
	}
}

// WithInterpreter sets the base interpreter.
func WithInterpreter(v string) EnvironmentOption {
	return func(e *envspec.PartialSpec) {
		e.BaseInterpreter = envspec.Some(envspec.VersionSpec(v))
	}
}

// WithDevelop sets develop mode.
func WithDevelop(develop bool) EnvironmentOption {
	return func(e *envspec.PartialSpec) {
		e.UsesDevelopMode = envspec.Some(develop)
	}
}

// WithExtras sets the requested extras. No arguments is an explicit opt-out.
func WithExtras(names ...string) EnvironmentOption {
	return func(e *envspec.PartialSpec) {
		extras := make([]envspec.ExtraName, len(names))
		for i, n := range names {
			extras[i] = envspec.ExtraName(n)
		}
		e.ExtrasRequested = envspec.Some(extras)
	}
}

// WithDeps sets the explicit dependencies.
func WithDeps(deps ...string) EnvironmentOption {
	return func(e *envspec.PartialSpec) {
		pkgs := make([]envspec.PackageConstraint, len(deps))
		for i, d := range deps {
			pkgs[i] = envspec.PackageConstraint(d)
		}
		e.ExplicitDependencies = envspec.Some(pkgs)
	}
}

// WithPassenv sets the passthrough variable patterns.
func WithPassenv(patterns ...string) EnvironmentOption {
	return func(e *envspec.PartialSpec) {
		e.PassthroughEnvVarPatterns = envspec.Some(patterns)
	}
}

// WithChangedir sets the working directory override.
func WithChangedir(dir string) EnvironmentOption {
	return func(e *envspec.PartialSpec) {
		e.WorkingDirectoryOverride = envspec.Some(dir)
	}
}

// WithSetEnv sets fixed variables. The map is copied.
func WithSetEnv(env map[string]string) EnvironmentOption {
	return func(e *envspec.PartialSpec) {
		e.SetEnv = envspec.Some(maps.Clone(env))
	}
}

// NewTestRegistry builds a registry with an empty default block.
// The test fails immediately if the declarations are invalid.
func NewTestRegistry(t testing.TB, envs ...envspec.PartialSpec) *envspec.Registry {
	t.Helper()
	return NewTestRegistryWithDefaults(t, envspec.DefaultBlock{}, envs...)
}

// NewTestRegistryWithDefaults builds a registry with the given default block.
func NewTestRegistryWithDefaults(t testing.TB, defaults envspec.DefaultBlock, envs ...envspec.PartialSpec) *envspec.Registry {
	t.Helper()
	reg, err := envspec.NewRegistry(defaults, envs...)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return reg
}

// MustResolve merges the named environment, failing the test on error.
func MustResolve(t testing.TB, reg *envspec.Registry, name string) envspec.EnvironmentSpec {
	t.Helper()
	spec, err := reg.Resolve(envspec.EnvironmentName(name), nil)
	if err != nil {
		t.Fatalf("failed to resolve %s: %v", name, err)
	}
	return spec
}
