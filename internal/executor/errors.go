// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"errors"
	"fmt"

	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/types"
)

var (
	// ErrProvision is the sentinel error wrapped by ProvisionError.
	ErrProvision = errors.New("provisioning failed")

	// ErrInstall is the sentinel error wrapped by InstallError.
	ErrInstall = errors.New("installation failed")

	// ErrCommandFailed is the sentinel error wrapped by CommandFailure.
	ErrCommandFailed = errors.New("command failed")

	// ErrAllowedFailure is the sentinel error wrapped by AllowedFailure.
	ErrAllowedFailure = errors.New("allowed command failure")

	// ErrCancelled is recorded when a run is cancelled before it seals.
	ErrCancelled = errors.New("run cancelled")
)

type (
	// ProvisionError is returned when no runtime could be provisioned for a
	// cell. The cell is Skipped.
	ProvisionError struct {
		Environment envspec.EnvironmentName
		Interpreter envspec.VersionSpec
		Err         error
	}

	// InstallError is returned when an install step exits non-zero or cannot
	// be run. The cell is Failed and no command runs.
	InstallError struct {
		Environment envspec.EnvironmentName
		Step        InstallStep
		ExitCode    types.ExitCode
		Err         error
	}

	// CommandFailure is a mandatory command that exited non-zero. The
	// sequence aborts and the cell is Failed.
	CommandFailure struct {
		Command  string
		Index    int
		ExitCode types.ExitCode
	}

	// AllowedFailure is an allowed-to-fail command that exited non-zero. It
	// is recorded and the sequence continues.
	AllowedFailure struct {
		Command  string
		Index    int
		ExitCode types.ExitCode
	}
)

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	interp := string(e.Interpreter)
	if interp == "" {
		interp = "default interpreter"
	}
	return fmt.Sprintf("cannot provision %s for environment %q: %v", interp, e.Environment, e.Err)
}

// Unwrap returns both ErrProvision and the underlying cause.
func (e *ProvisionError) Unwrap() []error { return []error{ErrProvision, e.Err} }

// Error implements the error interface.
func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s install for environment %q failed: %v", e.Step, e.Environment, e.Err)
	}
	return fmt.Sprintf("%s install for environment %q exited with code %d", e.Step, e.Environment, e.ExitCode)
}

// Unwrap returns ErrInstall for errors.Is() compatibility.
func (e *InstallError) Unwrap() error { return ErrInstall }

// Error implements the error interface.
func (e *CommandFailure) Error() string {
	return fmt.Sprintf("command %d %q exited with code %d", e.Index+1, e.Command, e.ExitCode)
}

// Unwrap returns ErrCommandFailed for errors.Is() compatibility.
func (e *CommandFailure) Unwrap() error { return ErrCommandFailed }

// Error implements the error interface.
func (e *AllowedFailure) Error() string {
	return fmt.Sprintf("allowed-to-fail command %d %q exited with code %d", e.Index+1, e.Command, e.ExitCode)
}

// Unwrap returns ErrAllowedFailure for errors.Is() compatibility.
func (e *AllowedFailure) Unwrap() error { return ErrAllowedFailure }
