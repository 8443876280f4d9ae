// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"regexp"
	"slices"
	"strings"

	"github.com/envmatrix/envmatrix/pkg/envspec"
)

var (
	requirementPattern = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:\[([^\]]*)\])?\s*([^;]*)(?:;(.*))?$`)
	separatorRun       = regexp.MustCompile(`[-_.]+`)
)

// Requirement is a parsed PackageConstraint.
type Requirement struct {
	// Raw is the constraint as declared.
	Raw envspec.PackageConstraint
	// Name is the normalized distribution name. Empty for opaque requirements.
	Name string
	// Extras are the bracketed extras of the distribution, in declared order.
	Extras []string
	// Specifier is the version specifier with whitespace removed.
	Specifier string
	// Marker is the environment marker after ";", kept verbatim.
	Marker string
	// Opaque is set for installer options, paths and URLs, which are passed
	// through untouched and only de-duplicated by their raw text.
	Opaque bool
}

// NormalizeName lower-cases a distribution or extra name and collapses runs
// of "-", "_" and "." into a single "-".
func NormalizeName(name string) string {
	return separatorRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// ParseRequirement splits a PackageConstraint into its parts.
func ParseRequirement(raw envspec.PackageConstraint) Requirement {
	text := strings.TrimSpace(string(raw))
	if text == "" || strings.HasPrefix(text, "-") || strings.ContainsAny(text, "/\\") || strings.Contains(text, " @ ") {
		return Requirement{Raw: raw, Opaque: true}
	}
	m := requirementPattern.FindStringSubmatch(text)
	if m == nil {
		return Requirement{Raw: raw, Opaque: true}
	}

	req := Requirement{
		Raw:       raw,
		Name:      NormalizeName(m[1]),
		Specifier: strings.Join(strings.Fields(m[3]), ""),
		Marker:    strings.TrimSpace(m[4]),
	}
	for _, extra := range strings.Split(m[2], ",") {
		if extra = strings.TrimSpace(extra); extra != "" {
			req.Extras = append(req.Extras, NormalizeName(extra))
		}
	}
	return req
}

// key identifies requirements that must be collapsed into one.
func (r Requirement) key() string {
	if r.Opaque {
		return "raw:" + string(r.Raw)
	}
	return r.Name + ";" + r.Marker
}

// String renders the requirement in canonical form.
func (r Requirement) String() string {
	if r.Opaque {
		return string(r.Raw)
	}
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[")
		b.WriteString(strings.Join(r.Extras, ","))
		b.WriteString("]")
	}
	b.WriteString(r.Specifier)
	if r.Marker != "" {
		b.WriteString("; ")
		b.WriteString(r.Marker)
	}
	return b.String()
}

// absorb merges other into r when they name the same distribution. It reports
// false when both carry different non-empty specifiers.
func (r *Requirement) absorb(other Requirement) bool {
	if other.Specifier != "" && r.Specifier != "" && other.Specifier != r.Specifier {
		return false
	}
	changed := false
	if r.Specifier == "" && other.Specifier != "" {
		r.Specifier = other.Specifier
		changed = true
	}
	for _, extra := range other.Extras {
		if !slices.Contains(r.Extras, extra) {
			r.Extras = append(r.Extras, extra)
			changed = true
		}
	}
	if changed {
		r.Raw = envspec.PackageConstraint(r.String())
	}
	return true
}
