// SPDX-License-Identifier: MPL-2.0

package envspec

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/envmatrix/envmatrix/pkg/types"
)

const sampleRegistry = `# shared settings
[defaults]
develop = false
extras = testing
commands =
    pytest -v

[env:lint]
description = Static checks
base_interpreter = 3.11
extras =
deps =
    ruff==0.4.1
passenv = CI GITHUB_*
changedir = src
setenv =
    PYTHONDONTWRITEBYTECODE=1
; allowed to fail first
commands =
    -ruff format --check .
    ruff check .

[env:py312]
base_interpreter = py312
extras = cli, docs
develop = yes
`

func mustParse(t *testing.T, text string) *Registry {
	t.Helper()

	reg, err := Parse(strings.NewReader(text), "envmatrix.ini")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return reg
}

func TestParse_Sample(t *testing.T) {
	t.Parallel()

	reg := mustParse(t, sampleRegistry)

	if got := reg.Names(); !slices.Equal(got, []EnvironmentName{"lint", "py312"}) {
		t.Fatalf("expected [lint py312], got %v", got)
	}

	defaults := reg.Defaults()
	if dev, ok := defaults.UsesDevelopMode.Get(); !ok || dev {
		t.Errorf("expected develop=false set in defaults, got %v (set=%v)", dev, ok)
	}

	lint, _ := reg.Lookup("lint")
	extras, ok := lint.ExtrasRequested.Get()
	if !ok || extras == nil || len(extras) != 0 {
		t.Errorf("expected explicit empty extras, got %v (set=%v)", extras, ok)
	}
	if desc, _ := lint.Description.Get(); desc != "Static checks" {
		t.Errorf("expected description, got %q", desc)
	}
	cmds, _ := lint.Commands.Get()
	want := []Command{{Text: "ruff format --check .", AllowedToFail: true}, {Text: "ruff check ."}}
	if !slices.Equal(cmds, want) {
		t.Errorf("expected %v, got %v", want, cmds)
	}
	pass, _ := lint.PassthroughEnvVarPatterns.Get()
	if !slices.Equal(pass, []string{"CI", "GITHUB_*"}) {
		t.Errorf("expected passenv [CI GITHUB_*], got %v", pass)
	}
	env, _ := lint.SetEnv.Get()
	if env["PYTHONDONTWRITEBYTECODE"] != "1" {
		t.Errorf("expected setenv entry, got %v", env)
	}

	py, _ := reg.Lookup("py312")
	pyExtras, _ := py.ExtrasRequested.Get()
	if !slices.Equal(pyExtras, []ExtraName{"cli", "docs"}) {
		t.Errorf("expected comma separated extras, got %v", pyExtras)
	}
	if py.Commands.IsSet() {
		t.Error("py312 does not set commands")
	}

	spec, err := reg.Resolve("py312", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !slices.Equal(spec.ExtrasRequested, []ExtraName{"testing", "cli", "docs"}) {
		t.Errorf("expected merged extras, got %v", spec.ExtrasRequested)
	}
	if !slices.Equal(spec.Commands, []Command{{Text: "pytest -v"}}) {
		t.Errorf("expected inherited commands, got %v", spec.Commands)
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		wantLine int
	}{
		{name: "duplicate section", text: "[env:a]\ncommands = x\n[env:a]\ncommands = y\n", wantLine: 3},
		{name: "duplicate defaults", text: "[defaults]\n[defaults]\n", wantLine: 2},
		{name: "duplicate key", text: "[env:a]\ndeps = x\ndeps = y\n", wantLine: 3},
		{name: "unknown key", text: "[env:a]\nplatform = linux\n", wantLine: 2},
		{name: "unknown section", text: "[testenv:a]\n", wantLine: 1},
		{name: "entry before section", text: "deps = x\n", wantLine: 1},
		{name: "continuation without key", text: "[env:a]\n    pytest\n", wantLine: 2},
		{name: "bad boolean", text: "[env:a]\ndevelop = maybe\n", wantLine: 2},
		{name: "bad setenv", text: "[env:a]\nsetenv =\n    NOVALUE\n", wantLine: 2},
		{name: "description in defaults", text: "[defaults]\ndescription = x\n", wantLine: 2},
		{name: "multi-line interpreter", text: "[env:a]\nbase_interpreter =\n    3.11\n    3.12\n", wantLine: 2},
		{name: "invalid name", text: "[env:two words]\n", wantLine: 1},
		{name: "marker only command", text: "[env:a]\ncommands =\n    -\n", wantLine: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(strings.NewReader(tt.text), "bad.ini")
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if cfgErr.Line != tt.wantLine {
				t.Errorf("expected line %d, got %d (%v)", tt.wantLine, cfgErr.Line, err)
			}
			if cfgErr.Source != "bad.ini" {
				t.Errorf("expected source bad.ini, got %q", cfgErr.Source)
			}
		})
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	t.Parallel()

	registries := map[string]*Registry{
		"sample": mustParse(t, sampleRegistry),
		"empty":  mustParse(t, ""),
	}

	built, err := NewRegistry(
		DefaultBlock{Fields: Fields{
			BaseInterpreter: Some(VersionSpec("3.12")),
			SetEnv:          Some(map[string]string{"B": "2", "A": "x=y"}),
		}},
		PartialSpec{
			Name:        "multi",
			Description: Some[types.DescriptionText]("first line\nsecond line"),
			Fields: Fields{
				ExplicitDependencies:      Some([]PackageConstraint{"requests>=2; python_version<'3.13'", "pytest[cov]"}),
				PassthroughEnvVarPatterns: Some([]string{"!SECRET_*", "HOME"}),
				Commands:                  Some([]Command{{Text: "--version", AllowedToFail: true}, {Text: "echo done"}}),
				WorkingDirectoryOverride:  Some(""),
			},
		},
		PartialSpec{Name: "bare", Description: Some[types.DescriptionText]("")},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	registries["built"] = built

	for name, reg := range registries {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			text := reg.String()
			again, err := Parse(strings.NewReader(text), "formatted.ini")
			if err != nil {
				t.Fatalf("re-parse of formatted registry failed: %v\n%s", err, text)
			}
			if !reflect.DeepEqual(reg, again) {
				t.Errorf("round trip changed the registry:\n%s\nbefore: %+v\nafter:  %+v", text, reg, again)
			}
			if again.String() != text {
				t.Errorf("formatting is not stable:\n%s\nvs\n%s", text, again.String())
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultRegistryFile)
	if err := os.WriteFile(path, []byte(sampleRegistry), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if reg.Len() != 2 {
		t.Errorf("expected 2 environments, got %d", reg.Len())
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.ini")); err == nil {
		t.Error("expected error for missing file")
	}
}
