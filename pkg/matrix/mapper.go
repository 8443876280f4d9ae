// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"fmt"
	"strings"

	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/types"
)

// AxisOS is the short spelling of the operatingSystem axis.
const AxisOS = "os"

// ErrInvalidTemplate is the sentinel error wrapped by InvalidTemplateError.
var ErrInvalidTemplate = errors.New("invalid environment template")

type (
	// CellMapper binds a combination of axis values to an environment and
	// an operating system.
	CellMapper interface {
		MapCell(values []AxisValue) (envspec.EnvironmentName, types.OSName, error)
	}

	// CellMapperFunc adapts a function to CellMapper.
	CellMapperFunc func(values []AxisValue) (envspec.EnvironmentName, types.OSName, error)

	// InvalidTemplateError is returned for a malformed environment template.
	InvalidTemplateError struct {
		Template string
		Reason   string
	}

	// TemplateMapper renders "{axis}" placeholders of an environment name
	// template. A placeholder that renders empty takes one adjacent '-' with
	// it, so "py{runtimeVersion}-{toggleFlags}" gives "py3.11" when the
	// toggles are empty.
	TemplateMapper struct {
		parts     []templatePart
		defaultOS types.OSName
	}

	templatePart struct {
		literal     string
		placeholder string
	}
)

// MapCell calls f.
func (f CellMapperFunc) MapCell(values []AxisValue) (envspec.EnvironmentName, types.OSName, error) {
	return f(values)
}

// Error implements the error interface.
func (e *InvalidTemplateError) Error() string {
	return fmt.Sprintf("invalid environment template %q: %s", e.Template, e.Reason)
}

// Unwrap returns ErrInvalidTemplate for errors.Is() compatibility.
func (e *InvalidTemplateError) Unwrap() error { return ErrInvalidTemplate }

// NewTemplateMapper parses tmpl. defaultOS applies to cells without an
// operatingSystem value; empty means linux.
func NewTemplateMapper(tmpl string, defaultOS types.OSName) (*TemplateMapper, error) {
	m := &TemplateMapper{defaultOS: defaultOS}
	rest := tmpl
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return nil, &InvalidTemplateError{Template: tmpl, Reason: "unmatched '}'"}
			}
			m.parts = append(m.parts, templatePart{literal: rest})
			break
		}
		if strings.IndexByte(rest[:open], '}') >= 0 {
			return nil, &InvalidTemplateError{Template: tmpl, Reason: "unmatched '}'"}
		}
		if open > 0 {
			m.parts = append(m.parts, templatePart{literal: rest[:open]})
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, &InvalidTemplateError{Template: tmpl, Reason: "unterminated placeholder"}
		}
		name := rest[open+1 : open+end]
		if name == "" || strings.ContainsAny(name, "{ \t") {
			return nil, &InvalidTemplateError{Template: tmpl, Reason: fmt.Sprintf("bad placeholder {%s}", name)}
		}
		m.parts = append(m.parts, templatePart{placeholder: name})
		rest = rest[open+end+1:]
	}
	return m, nil
}

// Placeholders returns the axis names the template references, in order.
func (m *TemplateMapper) Placeholders() []string {
	var names []string
	for _, p := range m.parts {
		if p.placeholder != "" {
			names = append(names, p.placeholder)
		}
	}
	return names
}

// Render substitutes values into the template. Axes without a value render empty.
func (m *TemplateMapper) Render(values []AxisValue) string {
	rendered := make([]string, len(m.parts))
	for i, p := range m.parts {
		if p.placeholder == "" {
			rendered[i] = p.literal
			continue
		}
		rendered[i], _ = valueOf(values, p.placeholder)
	}

	for i, p := range m.parts {
		if p.placeholder == "" || rendered[i] != "" {
			continue
		}
		switch {
		case i > 0 && strings.HasSuffix(rendered[i-1], "-"):
			rendered[i-1] = strings.TrimSuffix(rendered[i-1], "-")
		case i+1 < len(rendered) && strings.HasPrefix(rendered[i+1], "-"):
			rendered[i+1] = strings.TrimPrefix(rendered[i+1], "-")
		}
	}
	return strings.Join(rendered, "")
}

// MapCell renders the environment name and picks the cell's OS.
func (m *TemplateMapper) MapCell(values []AxisValue) (envspec.EnvironmentName, types.OSName, error) {
	return envspec.EnvironmentName(m.Render(values)), osFor(values, m.defaultOS), nil
}

// osFor returns the operatingSystem (or os) axis value, else fallback,
// else linux. CI aliases such as ubuntu-latest are folded onto their pool.
func osFor(values []AxisValue, fallback types.OSName) types.OSName {
	for _, axis := range []string{AxisOperatingSystem, AxisOS} {
		if v, ok := valueOf(values, axis); ok && v != "" {
			return types.OSName(v).Normalize()
		}
	}
	if fallback != "" {
		return fallback.Normalize()
	}
	return types.OSLinux
}

func valueOf(values []AxisValue, axis string) (string, bool) {
	for _, v := range values {
		if v.Axis == axis {
			return v.Value, true
		}
	}
	return "", false
}
