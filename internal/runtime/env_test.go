// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"maps"
	"slices"
	"testing"
)

func TestEnvFilter_Filter(t *testing.T) {
	t.Parallel()

	host := []string{
		"PATH=/usr/bin",
		"HOME=/home/ci",
		"CI=true",
		"GITHUB_SHA=abc",
		"GITHUB_TOKEN=secret",
		"AWS_SECRET_ACCESS_KEY=nope",
		"MALFORMED",
	}

	tests := []struct {
		name     string
		filter   EnvFilter
		patterns []string
		want     map[string]string
	}{
		{
			name:     "no patterns forwards only always names",
			filter:   EnvFilter{Always: []string{"PATH", "HOME"}},
			patterns: nil,
			want:     map[string]string{"PATH": "/usr/bin", "HOME": "/home/ci"},
		},
		{
			name:     "glob and exclusion",
			filter:   EnvFilter{Always: []string{"PATH"}},
			patterns: []string{"CI", "GITHUB_*", "!GITHUB_TOKEN"},
			want:     map[string]string{"PATH": "/usr/bin", "CI": "true", "GITHUB_SHA": "abc"},
		},
		{
			name:     "prefix allow-list narrows patterns",
			filter:   EnvFilter{AllowedPrefixes: []string{"GITHUB_"}},
			patterns: []string{"*"},
			want:     map[string]string{"GITHUB_SHA": "abc", "GITHUB_TOKEN": "secret"},
		},
		{
			name:     "always bypasses the allow-list",
			filter:   EnvFilter{AllowedPrefixes: []string{"CI"}, Always: []string{"HOME"}},
			patterns: []string{"*"},
			want:     map[string]string{"HOME": "/home/ci", "CI": "true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.filter.Filter(host, tt.patterns)
			if err != nil {
				t.Fatalf("Filter() error: %v", err)
			}
			if !maps.Equal(got, tt.want) {
				t.Errorf("Filter() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Every forwarded name must carry an allowed prefix unless it is in Always.
func TestEnvFilter_PrefixProperty(t *testing.T) {
	t.Parallel()

	host := []string{"A_ONE=1", "A_TWO=2", "B_ONE=3", "PATH=/bin", "C=4"}
	filter := EnvFilter{AllowedPrefixes: []string{"A_"}, Always: []string{"PATH"}}

	for _, patterns := range [][]string{nil, {"*"}, {"B_*"}, {"A_*", "!A_TWO"}, {"C", "A_ONE"}} {
		got, err := filter.Filter(host, patterns)
		if err != nil {
			t.Fatalf("Filter(%v) error: %v", patterns, err)
		}
		for name := range got {
			if name != "PATH" && !filter.prefixAllowed(name) {
				t.Errorf("Filter(%v) forwarded %s outside the allow-list", patterns, name)
			}
		}
	}
}

func TestBuildEnv_Layering(t *testing.T) {
	t.Parallel()

	env, err := BuildEnv(EnvFilter{}, EnvLayers{
		Host:     []string{"LANG=C", "MODE=host", "KEEP=1"},
		Patterns: []string{"*"},
		SetEnv:   map[string]string{"MODE": "setenv", EnvVarCell: "from-setenv"},
		Fixed:    map[string]string{EnvVarCell: "test:py311@linux"},
	})
	if err != nil {
		t.Fatalf("BuildEnv() error: %v", err)
	}

	want := map[string]string{
		"LANG":     "C",
		"KEEP":     "1",
		"MODE":     "setenv",
		EnvVarCell: "test:py311@linux",
	}
	if !maps.Equal(env, want) {
		t.Errorf("BuildEnv() = %v, want %v", env, want)
	}
}

func TestBuildEnv_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := BuildEnv(EnvFilter{}, EnvLayers{Host: []string{"A=1"}, Patterns: []string{"[unclosed"}})
	if err == nil {
		t.Error("BuildEnv() should reject a malformed pattern")
	}
}

func TestValidatePatterns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		patterns []string
		wantErr  bool
	}{
		{"none", nil, false},
		{"globs and exclusions", []string{"CI", "LC_*", "!LC_ALL"}, false},
		{"unclosed class", []string{"["}, true},
		{"bare exclusion", []string{"HOME", "!"}, true},
	}
	for _, tt := range tests {
		if err := ValidatePatterns(tt.patterns); (err != nil) != tt.wantErr {
			t.Errorf("%s: ValidatePatterns(%q) = %v, wantErr %v", tt.name, tt.patterns, err, tt.wantErr)
		}
	}
}

func TestAxisEnvVar(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"runtimeVersion":   "ENVMATRIX_AXIS_RUNTIMEVERSION",
		"toggleFlags":      "ENVMATRIX_AXIS_TOGGLEFLAGS",
		"operating-system": "ENVMATRIX_AXIS_OPERATING_SYSTEM",
		"db.v2":            "ENVMATRIX_AXIS_DB_V2",
	}
	for axis, want := range tests {
		if got := AxisEnvVar(axis); got != want {
			t.Errorf("AxisEnvVar(%q) = %q, want %q", axis, got, want)
		}
	}
}

func TestEnvToSlice_Sorted(t *testing.T) {
	t.Parallel()

	got := EnvToSlice(map[string]string{"B": "2", "A": "1", "C": ""})
	want := []string{"A=1", "B=2", "C="}
	if !slices.Equal(got, want) {
		t.Errorf("EnvToSlice() = %v, want %v", got, want)
	}
}

func TestWithPathPrefix(t *testing.T) {
	t.Parallel()

	orig := map[string]string{"PATH": "/usr/bin"}
	got := withPathPrefix(orig, "/env/bin", ":")
	if got["PATH"] != "/env/bin:/usr/bin" {
		t.Errorf("PATH = %q, want /env/bin:/usr/bin", got["PATH"])
	}
	if orig["PATH"] != "/usr/bin" {
		t.Error("withPathPrefix must not modify its input")
	}
	if got := withPathPrefix(nil, "/env/bin", ":"); got["PATH"] != "/env/bin" {
		t.Errorf("PATH = %q, want /env/bin for an empty environment", got["PATH"])
	}
}
