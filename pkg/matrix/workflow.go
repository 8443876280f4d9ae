// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"fmt"

	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/types"
)

// Reserved keys of include entries that do not name axes.
const (
	// IncludeKeyEnvironment names the environment of an included cell directly.
	IncludeKeyEnvironment = "environment"
)

type (
	// Workflow is a parsed matrix workflow document.
	Workflow struct {
		Stages []Stage `json:"stages" yaml:"stages"`

		// Source is the file the workflow was read from.
		Source string `json:"-" yaml:"-"`
	}

	// Stage is one gated group of cells.
	Stage struct {
		Name  StageName   `json:"name" yaml:"name"`
		Needs []StageName `json:"needs,omitempty" yaml:"needs,omitempty"`
		// OS is the operating system of cells without an operatingSystem value.
		OS types.OSName `json:"os,omitempty" yaml:"os,omitempty"`
		// Environment is the environment name template, e.g. "py{runtimeVersion}".
		Environment string              `json:"environment,omitempty" yaml:"environment,omitempty"`
		Axes        []Axis              `json:"axes,omitempty" yaml:"axes,omitempty"`
		Include     []map[string]string `json:"include,omitempty" yaml:"include,omitempty"`
		Exclude     []map[string]string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
		// Cells are listed explicitly and appended after the expanded ones.
		Cells []CellRef `json:"cells,omitempty" yaml:"cells,omitempty"`
	}

	// CellRef names one explicit cell.
	CellRef struct {
		Environment envspec.EnvironmentName `json:"environment" yaml:"environment"`
		OS          types.OSName            `json:"os,omitempty" yaml:"os,omitempty"`
	}
)

// expands reports whether the stage produces cells from its axes.
func (s Stage) expands() bool {
	return s.Environment != "" || len(s.Axes) > 0 || len(s.Include) > 0
}

// validate checks the stage in isolation. Registry membership and needs are
// checked when the plan is built.
func (s Stage) validate(field string) []error {
	var errs []error
	fail := func(sub, format string, args ...any) {
		errs = append(errs, &envspec.ConfigError{Field: field + sub, Reason: fmt.Sprintf(format, args...)})
	}

	if ok, nameErrs := s.Name.IsValid(); !ok {
		fail(".name", "%v", nameErrs[0])
	}
	for _, need := range s.Needs {
		if need == s.Name {
			fail(".needs", "stage %q needs itself", s.Name)
		}
	}
	if s.OS != "" {
		if ok, osErrs := s.OS.IsValid(); !ok {
			fail(".os", "%v", osErrs[0])
		}
	}

	seen := make(map[string]bool, len(s.Axes))
	for i, axis := range s.Axes {
		sub := fmt.Sprintf(".axes[%d]", i)
		switch {
		case axis.Name == "":
			fail(sub, "axis name is empty")
		case axis.Name == IncludeKeyEnvironment:
			fail(sub, "%q is reserved and cannot name an axis", IncludeKeyEnvironment)
		case seen[axis.Name]:
			fail(sub, "duplicate axis %q", axis.Name)
		case len(axis.Values) == 0:
			fail(sub, "axis %q has no values", axis.Name)
		}
		seen[axis.Name] = true
	}

	for i, entry := range s.Exclude {
		for key := range entry {
			if !seen[key] {
				fail(fmt.Sprintf(".exclude[%d]", i), "unknown axis %q", key)
			}
		}
	}
	for i, entry := range s.Include {
		if len(entry) == 0 {
			fail(fmt.Sprintf(".include[%d]", i), "include entry is empty")
		}
	}

	if s.Environment != "" {
		mapper, err := NewTemplateMapper(s.Environment, s.OS)
		if err != nil {
			fail(".environment", "%v", err)
		} else {
			for _, name := range mapper.Placeholders() {
				if !seen[name] && !includesKey(s.Include, name) {
					fail(".environment", "placeholder {%s} names no axis", name)
				}
			}
		}
	}

	for i, ref := range s.Cells {
		sub := fmt.Sprintf(".cells[%d]", i)
		if ok, envErrs := ref.Environment.IsValid(); !ok {
			fail(sub+".environment", "%v", envErrs[0])
		}
		if ref.OS != "" {
			if ok, osErrs := ref.OS.IsValid(); !ok {
				fail(sub+".os", "%v", osErrs[0])
			}
		}
	}

	if !s.expands() && len(s.Cells) == 0 {
		fail("", "stage %q has no cells", s.Name)
	}
	return errs
}

func includesKey(include []map[string]string, key string) bool {
	for _, entry := range include {
		if _, ok := entry[key]; ok {
			return true
		}
	}
	return false
}
