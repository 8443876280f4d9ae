// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/types"
)

// Well-known axis names.
const (
	AxisRuntimeVersion  = "runtimeVersion"
	AxisToggleFlags     = "toggleFlags"
	AxisOperatingSystem = "operatingSystem"

	// DefaultStage is the single stage used when no workflow is given.
	DefaultStage StageName = "default"
)

// ErrInvalidStageName is the sentinel error wrapped by InvalidStageNameError.
var ErrInvalidStageName = errors.New("invalid stage name")

type (
	// StageName identifies a stage of the workflow.
	StageName string

	// InvalidStageNameError is returned when a StageName is malformed.
	InvalidStageNameError struct {
		Value StageName
	}

	// Axis is one dimension of the matrix.
	Axis struct {
		Name   string   `json:"name" yaml:"name"`
		Values []string `json:"values" yaml:"values"`
	}

	// AxisValue is the value one cell takes on one axis.
	AxisValue struct {
		Axis  string `json:"axis"`
		Value string `json:"value"`
	}

	// Cell is one concrete combination of axis values, bound to an
	// environment of the registry and an operating system.
	Cell struct {
		// ID is "<stage>:<environment>@<os>", suffixed "#n" when the same
		// triple occurs more than once in a stage.
		ID          string                  `json:"id"`
		Stage       StageName               `json:"stage"`
		Values      []AxisValue             `json:"values,omitempty"`
		Environment envspec.EnvironmentName `json:"environment"`
		OS          types.OSName            `json:"os"`
		// Included marks cells added by an include entry rather than the product.
		Included bool `json:"included,omitempty"`
	}
)

// String returns the string representation of the StageName.
func (s StageName) String() string { return string(s) }

// IsValid returns whether the StageName is non-empty and free of whitespace
// and the ':' '@' '#' separators used in cell IDs.
func (s StageName) IsValid() (bool, []error) {
	v := string(s)
	if v == "" || strings.ContainsAny(v, ":@#") || strings.ContainsFunc(v, unicode.IsSpace) {
		return false, []error{&InvalidStageNameError{Value: s}}
	}
	return true, nil
}

// Error implements the error interface.
func (e *InvalidStageNameError) Error() string {
	return fmt.Sprintf("invalid stage name %q: must be non-empty without whitespace or ':', '@', '#'", e.Value)
}

// Unwrap returns ErrInvalidStageName for errors.Is() compatibility.
func (e *InvalidStageNameError) Unwrap() error { return ErrInvalidStageName }

// Value returns the cell's value on axis.
func (c Cell) Value(axis string) (string, bool) {
	for _, v := range c.Values {
		if v.Axis == axis {
			return v.Value, true
		}
	}
	return "", false
}

// Label renders the axis values as "a=1, b=2", or "" for a cell without axes.
func (c Cell) Label() string {
	parts := make([]string, len(c.Values))
	for i, v := range c.Values {
		parts[i] = v.Axis + "=" + v.Value
	}
	return strings.Join(parts, ", ")
}

// Slug returns a filesystem-safe form of the cell ID.
func (c Cell) Slug() string {
	var b strings.Builder
	for _, r := range c.ID {
		switch {
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// cellID builds the base ID of a cell before duplicate numbering.
func cellID(stage StageName, env envspec.EnvironmentName, os types.OSName) string {
	return fmt.Sprintf("%s:%s@%s", stage, env, os)
}
