// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"github.com/envmatrix/envmatrix/pkg/envspec"
)

const (
	// ExtrasFileName is a standalone extras table with a flat [extras] section.
	ExtrasFileName = "extras.toml"
	// PyprojectFileName carries extras under [project.optional-dependencies].
	PyprojectFileName = "pyproject.toml"
)

// ErrExtrasCycle is returned when self-referencing extras form a cycle.
var ErrExtrasCycle = errors.New("extras reference each other in a cycle")

type (
	// Table maps normalized extra names to the packages they pull in.
	// It is read-only after loading.
	Table struct {
		source string
		extras map[string][]envspec.PackageConstraint
	}

	tableDocument struct {
		Project struct {
			Name                 string              `toml:"name"`
			OptionalDependencies map[string][]string `toml:"optional-dependencies"`
		} `toml:"project"`
		Extras map[string][]string `toml:"extras"`
	}
)

// NewTable builds a Table from raw extras. Requirements on the project itself
// ("<project>[other]") are expanded into the other extras' packages.
func NewTable(project string, raw map[string][]string) (*Table, error) {
	t := &Table{extras: make(map[string][]envspec.PackageConstraint, len(raw))}
	normalized := make(map[string][]string, len(raw))
	for name, pkgs := range raw {
		normalized[NormalizeName(name)] = pkgs
	}

	self := NormalizeName(project)
	var expand func(name string, visiting []string) ([]envspec.PackageConstraint, error)
	expand = func(name string, visiting []string) ([]envspec.PackageConstraint, error) {
		if done, ok := t.extras[name]; ok {
			return done, nil
		}
		if slices.Contains(visiting, name) {
			return nil, fmt.Errorf("%w: %v", ErrExtrasCycle, append(visiting, name))
		}
		out := []envspec.PackageConstraint{}
		for _, pkg := range normalized[name] {
			req := ParseRequirement(envspec.PackageConstraint(pkg))
			if self == "" || req.Opaque || req.Name != self {
				out = append(out, envspec.PackageConstraint(pkg))
				continue
			}
			for _, inner := range req.Extras {
				if _, ok := normalized[inner]; !ok {
					return nil, fmt.Errorf("extra %q references unknown extra %q", name, inner)
				}
				pkgs, err := expand(inner, append(slices.Clone(visiting), name))
				if err != nil {
					return nil, err
				}
				out = append(out, pkgs...)
			}
		}
		t.extras[name] = out
		return out, nil
	}

	names := make([]string, 0, len(normalized))
	for name := range normalized {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if _, err := expand(name, nil); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// LoadTable reads an extras table from a pyproject.toml or extras.toml file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read extras table: %w", err)
	}

	var doc tableDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, &envspec.ConfigError{Source: path, Line: row, Reason: fmt.Sprintf("column %d: %s", col, decodeErr.Error())}
		}
		return nil, &envspec.ConfigError{Source: path, Reason: err.Error()}
	}

	raw := doc.Extras
	if filepath.Base(path) == PyprojectFileName || raw == nil {
		raw = doc.Project.OptionalDependencies
	}
	t, err := NewTable(doc.Project.Name, raw)
	if err != nil {
		return nil, &envspec.ConfigError{Source: path, Field: "extras", Reason: err.Error()}
	}
	t.source = path
	return t, nil
}

// FindTable looks for extras.toml, then pyproject.toml, in dir. It returns a
// nil Table and no error when neither exists, or when pyproject.toml declares
// no optional dependencies.
func FindTable(dir string) (*Table, error) {
	for _, name := range []string{ExtrasFileName, PyprojectFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		t, err := LoadTable(path)
		if err != nil {
			return nil, err
		}
		if name == PyprojectFileName && t.Len() == 0 {
			return nil, nil
		}
		return t, nil
	}
	return nil, nil
}

// Source returns the file the table was loaded from, if any.
func (t *Table) Source() string { return t.source }

// Len returns the number of extras.
func (t *Table) Len() int { return len(t.extras) }

// Names returns the normalized extra names, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.extras))
	for name := range t.extras {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// HasExtra implements envspec.ExtrasCatalog.
func (t *Table) HasExtra(name envspec.ExtraName) bool {
	_, ok := t.extras[NormalizeName(string(name))]
	return ok
}

// Lookup returns the packages of an extra.
func (t *Table) Lookup(name envspec.ExtraName) ([]envspec.PackageConstraint, bool) {
	pkgs, ok := t.extras[NormalizeName(string(name))]
	return pkgs, ok
}
