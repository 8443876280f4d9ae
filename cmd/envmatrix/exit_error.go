// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/envmatrix/envmatrix/pkg/types"
)

// ExitError carries the process exit code out of a RunE handler. Err is
// nil for runs that failed or were interrupted: the report already told
// the user why, so nothing more is printed.
type ExitError struct {
	Code types.ExitCode
	Err  error
}

// Error returns Err's message, or the exit code when Err is nil.
func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit status " + e.Code.String()
	}
	return e.Err.Error()
}

// Unwrap returns Err.
func (e *ExitError) Unwrap() error { return e.Err }

// configFailure marks err as a configuration error detected before any cell
// ran.
func configFailure(err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: types.ExitConfigError, Err: err}
}
