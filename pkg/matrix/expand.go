// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/envmatrix/envmatrix/pkg/envspec"
)

// ErrNoEnvironment is returned when a cell maps to no environment name.
var ErrNoEnvironment = errors.New("cell maps to no environment")

// Expand returns the Cartesian product of axes in declaration order, the
// first axis varying slowest. Combinations matching an exclude entry on all
// of its keys are dropped. Each include entry is appended afterwards, in
// declared order, as a cell of its own; its "environment" key names the
// environment directly, other keys become axis values.
//
// Expand with neither axes nor includes yields a single cell without values.
// The returned cells carry no stage or ID.
func Expand(axes []Axis, include, exclude []map[string]string, mapper CellMapper) ([]Cell, error) {
	var combos [][]AxisValue
	switch {
	case len(axes) > 0:
		combos = product(axes)
	case len(include) == 0:
		combos = [][]AxisValue{nil}
	}

	cells := make([]Cell, 0, len(combos)+len(include))
	for _, values := range combos {
		if excluded(values, exclude) {
			continue
		}
		cell, err := mapCell(values, "", mapper)
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}

	for _, entry := range include {
		cell, err := mapCell(includeValues(axes, entry), envspec.EnvironmentName(entry[IncludeKeyEnvironment]), mapper)
		if err != nil {
			return nil, err
		}
		cell.Included = true
		cells = append(cells, cell)
	}
	return cells, nil
}

func product(axes []Axis) [][]AxisValue {
	total := 1
	for _, axis := range axes {
		total *= len(axis.Values)
	}
	if total == 0 {
		return nil
	}

	combos := make([][]AxisValue, 0, total)
	idx := make([]int, len(axes))
	for range total {
		values := make([]AxisValue, len(axes))
		for i, axis := range axes {
			values[i] = AxisValue{Axis: axis.Name, Value: axis.Values[idx[i]]}
		}
		combos = append(combos, values)

		// Advance like an odometer: the last axis turns fastest.
		for i := len(axes) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(axes[i].Values) {
				break
			}
			idx[i] = 0
		}
	}
	return combos
}

func excluded(values []AxisValue, exclude []map[string]string) bool {
	for _, entry := range exclude {
		if len(entry) == 0 {
			continue
		}
		match := true
		for key, want := range entry {
			if got, ok := valueOf(values, key); !ok || got != want {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// includeValues orders an include entry's keys by axis declaration, then
// keys naming no axis alphabetically.
func includeValues(axes []Axis, entry map[string]string) []AxisValue {
	var values []AxisValue
	for _, axis := range axes {
		if v, ok := entry[axis.Name]; ok {
			values = append(values, AxisValue{Axis: axis.Name, Value: v})
		}
	}
	for _, key := range slices.Sorted(maps.Keys(entry)) {
		if key == IncludeKeyEnvironment || slices.ContainsFunc(axes, func(a Axis) bool { return a.Name == key }) {
			continue
		}
		values = append(values, AxisValue{Axis: key, Value: entry[key]})
	}
	return values
}

func mapCell(values []AxisValue, env envspec.EnvironmentName, mapper CellMapper) (Cell, error) {
	mapped, os, err := mapper.MapCell(values)
	if err != nil {
		return Cell{}, err
	}
	if env == "" {
		env = mapped
	}
	cell := Cell{Values: values, Environment: env, OS: os}
	if env == "" {
		return Cell{}, fmt.Errorf("%w: %s", ErrNoEnvironment, describeValues(cell))
	}
	return cell, nil
}

func describeValues(c Cell) string {
	if label := c.Label(); label != "" {
		return label
	}
	return "(no axis values)"
}
