// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/envmatrix/envmatrix/pkg/envspec"
)

const pyproject = `[project]
name = "Demo_Project"
version = "1.0"

[project.optional-dependencies]
testing = ["pytest>=8", "coverage"]
cli = ["click"]
all = ["demo-project[testing,cli]"]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTable_Pyproject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	table, err := LoadTable(writeFile(t, dir, PyprojectFileName, pyproject))
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}

	if !slices.Equal(table.Names(), []string{"all", "cli", "testing"}) {
		t.Errorf("unexpected extras: %v", table.Names())
	}
	all, ok := table.Lookup("all")
	if !ok {
		t.Fatal("expected extra all")
	}
	want := []envspec.PackageConstraint{"pytest>=8", "coverage", "click"}
	if !slices.Equal(all, want) {
		t.Errorf("expected self-reference expanded to %v, got %v", want, all)
	}
	if !table.HasExtra("Testing") {
		t.Error("extra lookup must normalize names")
	}
}

func TestLoadTable_ExtrasFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, ExtrasFileName, "[extras]\nx = [\"pkgA\"]\n")

	table, err := FindTable(dir)
	if err != nil {
		t.Fatalf("FindTable: %v", err)
	}
	if table == nil || !table.HasExtra("x") {
		t.Fatalf("expected table with extra x, got %+v", table)
	}
	if table.Source() != filepath.Join(dir, ExtrasFileName) {
		t.Errorf("unexpected source %q", table.Source())
	}
}

func TestFindTable_None(t *testing.T) {
	t.Parallel()

	table, err := FindTable(t.TempDir())
	if err != nil || table != nil {
		t.Errorf("expected no table and no error, got %v, %v", table, err)
	}

	dir := t.TempDir()
	writeFile(t, dir, PyprojectFileName, "[project]\nname = \"x\"\n")
	table, err = FindTable(dir)
	if err != nil || table != nil {
		t.Errorf("pyproject without optional dependencies must yield no table, got %v, %v", table, err)
	}
}

func TestLoadTable_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := LoadTable(writeFile(t, dir, "broken.toml", "[extras\n"))
	if !errors.Is(err, envspec.ErrConfig) {
		t.Errorf("expected ErrConfig for malformed TOML, got %v", err)
	}

	cyclic := "[project]\nname = \"p\"\n[project.optional-dependencies]\na = [\"p[b]\"]\nb = [\"p[a]\"]\n"
	_, err = LoadTable(writeFile(t, t.TempDir(), PyprojectFileName, cyclic))
	if !errors.Is(err, envspec.ErrConfig) {
		t.Errorf("expected ErrConfig for cyclic extras, got %v", err)
	}
}
