// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/envmatrix/envmatrix/internal/testutil"
	"github.com/envmatrix/envmatrix/pkg/envspec"
)

const cueWorkflow = `
stages: [
	{
		name: "lint"
		cells: [{environment: "lint"}]
	},
	{
		name:        "test"
		needs:       ["lint"]
		environment: "py{runtimeVersion}-{toggleFlags}"
		axes: [
			{name: "runtimeVersion", values: ["3.10", "3.11"]},
			{name: "toggleFlags", values: ["", "slow"]},
		]
		exclude: [{runtimeVersion: "3.10", toggleFlags: "slow"}]
		include: [{runtimeVersion: "3.11", toggleFlags: "", operatingSystem: "windows"}]
	},
]
`

const yamlWorkflow = `
stages:
  - name: lint
    cells:
      - environment: lint
  - name: test
    needs: [lint]
    environment: "py{runtimeVersion}-{toggleFlags}"
    axes:
      - name: runtimeVersion
        values: ["3.10", "3.11"]
      - name: toggleFlags
        values: ["", slow]
    exclude:
      - runtimeVersion: "3.10"
        toggleFlags: slow
    include:
      - runtimeVersion: "3.11"
        toggleFlags: ""
        operatingSystem: windows
`

func TestFormatFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want Format
	}{
		{"envmatrix.cue", FormatCUE},
		{"ci/matrix.yml", FormatYAML},
		{"MATRIX.YAML", FormatYAML},
	}
	for _, tt := range tests {
		got, err := FormatFor(tt.path)
		if err != nil || got != tt.want {
			t.Errorf("FormatFor(%q) = %q, %v; want %q", tt.path, got, err, tt.want)
		}
	}
	if _, err := FormatFor("matrix.json"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("FormatFor(matrix.json) error = %v, want ErrUnknownFormat", err)
	}
}

func TestParse_CUEAndYAMLAgree(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cuePath := filepath.Join(dir, "matrix.cue")
	yamlPath := filepath.Join(dir, "matrix.yaml")
	testutil.MustWriteFile(t, cuePath, cueWorkflow)
	testutil.MustWriteFile(t, yamlPath, yamlWorkflow)

	fromCUE, err := Parse(cuePath)
	if err != nil {
		t.Fatalf("Parse(cue) error = %v", err)
	}
	fromYAML, err := Parse(yamlPath)
	if err != nil {
		t.Fatalf("Parse(yaml) error = %v", err)
	}

	reg := testRegistry(t)
	cuePlan, err := Build(fromCUE, reg)
	if err != nil {
		t.Fatalf("Build(cue) error = %v", err)
	}
	yamlPlan, err := Build(fromYAML, reg)
	if err != nil {
		t.Fatalf("Build(yaml) error = %v", err)
	}

	want := []string{
		"lint:lint@linux",
		"test:py3.10@linux",
		"test:py3.11@linux",
		"test:py3.11-slow@linux",
		"test:py3.11@windows",
	}
	for name, plan := range map[string]*Plan{"cue": cuePlan, "yaml": yamlPlan} {
		got := cellIDs(plan)
		if strings.Join(got, " ") != strings.Join(want, " ") {
			t.Errorf("%s cells = %v, want %v", name, got, want)
		}
	}
	if fromCUE.Source != cuePath {
		t.Errorf("Source = %q, want %q", fromCUE.Source, cuePath)
	}
}

func TestParseBytes_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		format  Format
		data    string
		wantMsg string
	}{
		{"cue unknown field", FormatCUE, `stages: [{name: "a", environment: "x", parallel: true}]`, "parallel"},
		{"cue no stages", FormatCUE, `stages: []`, ""},
		{"cue bad stage name", FormatCUE, `stages: [{name: "a b", environment: "x"}]`, ""},
		{"yaml unknown field", FormatYAML, "stages:\n  - name: a\n    environment: x\n    parallel: true\n", "parallel"},
		{"yaml empty document", FormatYAML, "", "no stages"},
		{"yaml syntax", FormatYAML, "stages: [", ""},
		{"duplicate stage", FormatYAML, "stages:\n  - {name: a, environment: x}\n  - {name: a, environment: y}\n", "duplicate stage"},
		{"stage without cells", FormatYAML, "stages:\n  - name: a\n", "has no cells"},
		{"duplicate axis", FormatYAML, "stages:\n  - name: a\n    environment: e{x}\n    axes: [{name: x, values: [1]}, {name: x, values: [2]}]\n", "duplicate axis"},
		{"empty axis", FormatYAML, "stages:\n  - name: a\n    environment: e{x}\n    axes: [{name: x, values: []}]\n", "no values"},
		{"exclude unknown axis", FormatYAML, "stages:\n  - name: a\n    environment: e{x}\n    axes: [{name: x, values: [1]}]\n    exclude: [{y: 1}]\n", "unknown axis"},
		{"unknown placeholder", FormatYAML, "stages:\n  - name: a\n    environment: e{y}\n    axes: [{name: x, values: [1]}]\n", "names no axis"},
		{"needs itself", FormatYAML, "stages:\n  - {name: a, environment: x, needs: [a]}\n", "needs itself"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseBytes([]byte(tt.data), "matrix", tt.format)
			if !errors.Is(err, envspec.ErrConfig) {
				t.Fatalf("ParseBytes() error = %v, want ConfigError", err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should mention %q", err, tt.wantMsg)
			}
			if !strings.Contains(err.Error(), "matrix") {
				t.Errorf("error %q should name the source", err)
			}
		})
	}
}

func TestParse_UnknownExtension(t *testing.T) {
	t.Parallel()

	_, err := Parse(filepath.Join(t.TempDir(), "matrix.toml"))
	if !errors.Is(err, envspec.ErrConfig) {
		t.Errorf("Parse() error = %v, want ConfigError", err)
	}
}

func TestParse_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Parse(filepath.Join(t.TempDir(), "absent.yml"))
	if err == nil || errors.Is(err, envspec.ErrConfig) {
		t.Errorf("Parse() error = %v, want a read error", err)
	}
}
