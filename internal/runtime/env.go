// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/moby/patternmatcher"
)

// Per-cell variables set by the executor on every command.
const (
	EnvVarEnvironment = "ENVMATRIX_ENV"
	EnvVarCell        = "ENVMATRIX_CELL"
	EnvVarStage       = "ENVMATRIX_STAGE"
	EnvVarOS          = "ENVMATRIX_OS"
	EnvVarEnvDir      = "ENVMATRIX_ENVDIR"
	EnvVarRunID       = "ENVMATRIX_RUN_ID"
	// EnvVarAxisPrefix prefixes one variable per matrix axis value.
	EnvVarAxisPrefix = "ENVMATRIX_AXIS_"
)

type (
	// EnvFilter is the process-wide restriction on host variables.
	EnvFilter struct {
		// AllowedPrefixes restricts forwarded names; empty means no restriction.
		AllowedPrefixes []string
		// Always names variables forwarded regardless of patterns and prefixes.
		Always []string
	}

	// EnvLayers are the sources of a command environment, lowest precedence first.
	EnvLayers struct {
		// Host is the host environment in os.Environ form.
		Host []string
		// Patterns are the environment's passthrough globs; "!" excludes.
		Patterns []string
		// SetEnv are the environment's fixed variables.
		SetEnv map[string]string
		// Fixed are the per-cell variables.
		Fixed map[string]string
	}
)

// ValidatePatterns reports the first passthrough pattern that does not compile.
func ValidatePatterns(patterns []string) error {
	if _, err := patternmatcher.New(patterns); err != nil {
		return fmt.Errorf("invalid passthrough pattern: %w", err)
	}
	return nil
}

// Filter returns the host variables a command may see: those named in
// Always, plus those matching patterns and an allowed prefix.
func (f EnvFilter) Filter(host []string, patterns []string) (map[string]string, error) {
	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("invalid passthrough pattern: %w", err)
	}

	out := make(map[string]string)
	for _, kv := range host {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		if slices.Contains(f.Always, name) {
			out[name] = value
			continue
		}
		if !f.prefixAllowed(name) {
			continue
		}
		matched, err := matcher.MatchesOrParentMatches(name)
		if err != nil {
			return nil, fmt.Errorf("invalid passthrough pattern: %w", err)
		}
		if matched {
			out[name] = value
		}
	}
	return out, nil
}

func (f EnvFilter) prefixAllowed(name string) bool {
	if len(f.AllowedPrefixes) == 0 {
		return true
	}
	for _, p := range f.AllowedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// BuildEnv layers the filtered host variables, SetEnv and Fixed, each
// overriding the previous one.
func BuildEnv(filter EnvFilter, layers EnvLayers) (map[string]string, error) {
	host := layers.Host
	if host == nil {
		host = os.Environ()
	}
	env, err := filter.Filter(host, layers.Patterns)
	if err != nil {
		return nil, err
	}
	maps.Copy(env, layers.SetEnv)
	maps.Copy(env, layers.Fixed)
	return env, nil
}

// AxisEnvVar returns the variable name of a matrix axis, e.g.
// "runtimeVersion" -> "ENVMATRIX_AXIS_RUNTIMEVERSION".
func AxisEnvVar(axis string) string {
	var b strings.Builder
	b.WriteString(EnvVarAxisPrefix)
	for _, r := range strings.ToUpper(axis) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EnvToSlice converts an environment map to sorted KEY=VALUE entries.
func EnvToSlice(env map[string]string) []string {
	keys := slices.Sorted(maps.Keys(env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// withPathPrefix returns a copy of env with dir prepended to PATH.
func withPathPrefix(env map[string]string, dir string, sep string) map[string]string {
	out := maps.Clone(env)
	if out == nil {
		out = make(map[string]string)
	}
	if cur := out["PATH"]; cur != "" {
		out["PATH"] = dir + sep + cur
	} else {
		out["PATH"] = dir
	}
	return out
}
