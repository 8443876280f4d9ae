// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"os/exec"
	"regexp"
	"strings"

	"github.com/envmatrix/envmatrix/pkg/envspec"
)

var (
	// numericVersion matches "3", "3.11" and "3.11.4".
	numericVersion = regexp.MustCompile(`^\d+(\.\d+){0,2}$`)
	// pyShorthand matches tox-style "py3", "py311" and "py3.12".
	pyShorthand = regexp.MustCompile(`^py(\d)(\.?)(\d*)$`)
)

type (
	// InterpreterResolver maps a VersionSpec onto an interpreter command.
	InterpreterResolver interface {
		Resolve(spec envspec.VersionSpec) (string, error)
	}

	// LookPathFunc finds an executable by name.
	LookPathFunc func(file string) (string, error)

	// PathResolver resolves interpreters by searching PATH.
	PathResolver struct {
		lookPath LookPathFunc
	}

	// StaticResolver resolves interpreters from a fixed table. It never
	// touches the filesystem.
	StaticResolver map[envspec.VersionSpec]string
)

// NewPathResolver creates a resolver backed by lookPath, or exec.LookPath when nil.
func NewPathResolver(lookPath LookPathFunc) *PathResolver {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	return &PathResolver{lookPath: lookPath}
}

// Resolve returns the first candidate of spec found on PATH.
func (r *PathResolver) Resolve(spec envspec.VersionSpec) (string, error) {
	candidates := Candidates(spec)
	for _, c := range candidates {
		if path, err := r.lookPath(c); err == nil {
			return path, nil
		}
	}
	return "", &NoInterpreterError{Spec: spec, Tried: candidates}
}

// Resolve returns the configured command for spec.
func (r StaticResolver) Resolve(spec envspec.VersionSpec) (string, error) {
	if path, ok := r[spec]; ok {
		return path, nil
	}
	return "", &NoInterpreterError{Spec: spec}
}

// Candidates lists the executable names tried for spec, most specific first.
//
//	""       -> python3, python
//	"3.11"   -> python3.11
//	"py311"  -> python3.11
//	"py3"    -> python3
//	"pypy3"  -> pypy3
func Candidates(spec envspec.VersionSpec) []string {
	s := strings.TrimSpace(string(spec))
	if s == "" {
		return []string{"python3", "python"}
	}
	if v := VersionNumber(spec); v != "" {
		return []string{"python" + v}
	}
	return []string{s}
}

// VersionNumber extracts the dotted version of a numeric or "pyXY" spec,
// or returns "" when spec names an interpreter directly.
func VersionNumber(spec envspec.VersionSpec) string {
	s := strings.TrimSpace(string(spec))
	if numericVersion.MatchString(s) {
		return s
	}
	m := pyShorthand.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	if m[3] == "" {
		return m[1]
	}
	return m[1] + "." + m[3]
}
