// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
)

const (
	// StatusPassed means every mandatory command exited zero.
	StatusPassed Status = "passed"
	// StatusFailed means an install step or a mandatory command failed.
	StatusFailed Status = "failed"
	// StatusSkipped means the environment never completed: its dependencies
	// conflicted, no runtime was available, a stage gate held it back or the
	// run was cancelled.
	StatusSkipped Status = "skipped"
)

// ErrInvalidStatus is the sentinel error wrapped by InvalidStatusError.
var ErrInvalidStatus = errors.New("invalid status")

type (
	// Status is the overall outcome of one environment run, and of a whole run
	// once aggregated.
	Status string

	// InvalidStatusError is returned when a Status value is not one of the
	// known outcomes.
	InvalidStatusError struct {
		Value Status
	}
)

// String returns the string representation of the Status.
func (s Status) String() string { return string(s) }

// IsValid returns whether the Status is one of passed, failed or skipped.
func (s Status) IsValid() (bool, []error) {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped:
		return true, nil
	default:
		return false, []error{&InvalidStatusError{Value: s}}
	}
}

// ExitCode maps an overall run status to the process exit code.
// Anything other than Passed exits with ExitFailed.
func (s Status) ExitCode() ExitCode {
	if s == StatusPassed {
		return ExitPassed
	}
	return ExitFailed
}

// Error implements the error interface for InvalidStatusError.
func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status %q (valid: passed, failed, skipped)", e.Value)
}

// Unwrap returns ErrInvalidStatus for errors.Is() compatibility.
func (e *InvalidStatusError) Unwrap() error { return ErrInvalidStatus }
