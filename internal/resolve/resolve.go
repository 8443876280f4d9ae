// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/envmatrix/envmatrix/pkg/envspec"
)

const (
	// DevelopMode installs the project itself in editable form after the packages.
	DevelopMode InstallMode = "develop"
	// StandardMode installs only the packages.
	StandardMode InstallMode = "standard"

	originDeps = "deps"
)

// ErrDependencyConflict is the sentinel error wrapped by DependencyConflictError.
var ErrDependencyConflict = errors.New("dependency conflict")

type (
	// InstallMode selects whether the project is installed in develop form.
	InstallMode string

	// InstallPlan is the flat set of packages handed to the installer.
	InstallPlan struct {
		Packages []envspec.PackageConstraint
		Mode     InstallMode
		// ProjectExtras are extras forwarded to the develop install as
		// ".[a,b]" because no extras table was available to expand them.
		ProjectExtras []envspec.ExtraName
	}

	// Resolver expands extras and collapses requirements. A Resolver with a
	// nil Table forwards extras to the project install instead.
	Resolver struct {
		Table *Table
	}

	// DependencyConflictError reports two different version constraints for
	// one distribution within an environment.
	DependencyConflictError struct {
		Environment envspec.EnvironmentName
		Package     string
		First       envspec.PackageConstraint
		FirstFrom   string
		Second      envspec.PackageConstraint
		SecondFrom  string
	}
)

// Error implements the error interface.
func (e *DependencyConflictError) Error() string {
	return fmt.Sprintf("environment %q: conflicting constraints for %s: %q (from %s) and %q (from %s)",
		e.Environment, e.Package, e.First, e.FirstFrom, e.Second, e.SecondFrom)
}

// Unwrap returns ErrDependencyConflict so callers can use errors.Is for programmatic detection.
func (e *DependencyConflictError) Unwrap() error { return ErrDependencyConflict }

// NewResolver returns a Resolver backed by table, which may be nil.
func NewResolver(table *Table) *Resolver {
	return &Resolver{Table: table}
}

// Catalog returns the extras catalog to validate merged specs against, or nil
// when no table is loaded.
func (r *Resolver) Catalog() envspec.ExtrasCatalog {
	if r == nil || r.Table == nil {
		return nil
	}
	return r.Table
}

// Resolve builds the install plan for spec. Packages from extras come first,
// in extras order, followed by explicit dependencies; the first occurrence of
// each distribution fixes its position.
func (r *Resolver) Resolve(spec envspec.EnvironmentSpec) (InstallPlan, error) {
	plan := InstallPlan{
		Packages:      []envspec.PackageConstraint{},
		Mode:          StandardMode,
		ProjectExtras: []envspec.ExtraName{},
	}
	if spec.UsesDevelopMode {
		plan.Mode = DevelopMode
	}

	var (
		reqs    []Requirement
		origins []string
		index   = make(map[string]int)
	)
	add := func(raw envspec.PackageConstraint, origin string) error {
		req := ParseRequirement(raw)
		k := req.key()
		i, seen := index[k]
		if !seen {
			index[k] = len(reqs)
			reqs = append(reqs, req)
			origins = append(origins, origin)
			return nil
		}
		prev := reqs[i]
		if !reqs[i].absorb(req) {
			return &DependencyConflictError{
				Environment: spec.Name,
				Package:     req.Name,
				First:       prev.Raw,
				FirstFrom:   origins[i],
				Second:      req.Raw,
				SecondFrom:  origin,
			}
		}
		return nil
	}

	for _, extra := range spec.ExtrasRequested {
		if r.Table == nil {
			plan.ProjectExtras = append(plan.ProjectExtras, extra)
			continue
		}
		pkgs, ok := r.Table.Lookup(extra)
		if !ok {
			return InstallPlan{}, &envspec.ConfigError{
				Environment: spec.Name,
				Field:       envspec.KeyExtras,
				Reason:      fmt.Sprintf("unknown extra %q", extra),
			}
		}
		for _, pkg := range pkgs {
			if err := add(pkg, "extra "+string(extra)); err != nil {
				return InstallPlan{}, err
			}
		}
	}
	for _, dep := range spec.ExplicitDependencies {
		if strings.TrimSpace(string(dep)) == "" {
			continue
		}
		if err := add(dep, originDeps); err != nil {
			return InstallPlan{}, err
		}
	}

	for _, req := range reqs {
		plan.Packages = append(plan.Packages, req.Raw)
	}
	return plan, nil
}

// DevelopTarget returns the installer argument for the project itself:
// "." or ".[a,b]" when extras are forwarded.
func (p InstallPlan) DevelopTarget(projectDir string) string {
	if projectDir == "" {
		projectDir = "."
	}
	if len(p.ProjectExtras) == 0 {
		return projectDir
	}
	names := make([]string, len(p.ProjectExtras))
	for i, x := range p.ProjectExtras {
		names[i] = string(x)
	}
	return projectDir + "[" + strings.Join(names, ",") + "]"
}
