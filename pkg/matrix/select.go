// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"fmt"
	"strings"

	"github.com/moby/patternmatcher"
)

// SelectAll selects every cell.
const SelectAll = "all"

// ErrNoMatchingCells is the sentinel error wrapped by NoMatchingCellsError.
var ErrNoMatchingCells = errors.New("no matching cells")

// NoMatchingCellsError is returned when a selector matches nothing.
type NoMatchingCellsError struct {
	Selector string
}

// Error implements the error interface.
func (e *NoMatchingCellsError) Error() string {
	return fmt.Sprintf("selector %q matches no stage, cell or environment", e.Selector)
}

// Unwrap returns ErrNoMatchingCells for errors.Is() compatibility.
func (e *NoMatchingCellsError) Unwrap() error { return ErrNoMatchingCells }

// Select narrows the plan to the cells matching selector: "all" (or empty),
// a stage name, a cell ID, an environment name, or a glob over cell IDs
// such as "test:py3*".
func (p *Plan) Select(selector string) (*Plan, error) {
	if selector == "" || selector == SelectAll {
		return p, nil
	}

	var matcher *patternmatcher.PatternMatcher
	if strings.ContainsAny(selector, "*?[") {
		m, err := patternmatcher.New([]string{selector})
		if err != nil {
			return nil, fmt.Errorf("invalid cell selector %q: %w", selector, err)
		}
		matcher = m
	}

	var matchErr error
	selected := p.Filter(func(c Cell) bool {
		if string(c.Stage) == selector || c.ID == selector || string(c.Environment) == selector {
			return true
		}
		if matcher == nil {
			return false
		}
		ok, err := matcher.MatchesOrParentMatches(c.ID)
		if err != nil && matchErr == nil {
			matchErr = err
		}
		return ok
	})
	if matchErr != nil {
		return nil, fmt.Errorf("invalid cell selector %q: %w", selector, matchErr)
	}
	if selected.Len() == 0 {
		return nil, &NoMatchingCellsError{Selector: selector}
	}
	return selected, nil
}
