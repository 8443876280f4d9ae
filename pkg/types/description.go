// SPDX-License-Identifier: MPL-2.0

// Package types holds the value types shared by the envspec, matrix,
// executor and report packages. It imports only the standard library.
package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDescriptionText is the sentinel error wrapped by InvalidDescriptionTextError.
var ErrInvalidDescriptionText = errors.New("invalid description text")

type (
	// DescriptionText is the free text of an environment's description key.
	// It may span several registry lines; "" means no description.
	DescriptionText string

	// InvalidDescriptionTextError is returned for a description made only of
	// blank lines.
	InvalidDescriptionTextError struct {
		Value DescriptionText
	}
)

// String returns the full description.
func (d DescriptionText) String() string { return string(d) }

// Lines returns the description split into registry lines.
func (d DescriptionText) Lines() []string {
	if d == "" {
		return nil
	}
	return strings.Split(string(d), "\n")
}

// Summary returns the first non-blank line, for one-row listings.
func (d DescriptionText) Summary() string {
	for _, line := range d.Lines() {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return ""
}

// IsValid rejects a non-empty description without any visible text.
func (d DescriptionText) IsValid() (bool, []error) {
	if d != "" && d.Summary() == "" {
		return false, []error{&InvalidDescriptionTextError{Value: d}}
	}
	return true, nil
}

// Error implements the error interface.
func (e *InvalidDescriptionTextError) Error() string {
	return fmt.Sprintf("invalid description %q: no visible text", e.Value)
}

// Unwrap returns ErrInvalidDescriptionText for errors.Is() compatibility.
func (e *InvalidDescriptionTextError) Unwrap() error { return ErrInvalidDescriptionText }
