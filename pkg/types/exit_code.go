// SPDX-License-Identifier: MPL-2.0

package types

import (
	"fmt"
	"strconv"
)

const (
	// ExitPassed is the process exit code for a run whose overall status is Passed.
	ExitPassed ExitCode = 0
	// ExitFailed is the process exit code for a run whose overall status is Failed.
	ExitFailed ExitCode = 1
	// ExitConfigError is the process exit code for a configuration error
	// detected before any environment was started.
	ExitConfigError ExitCode = 2
	// ExitInterrupted is recorded for a command killed by cancellation when the
	// runtime cannot report a real status.
	ExitInterrupted ExitCode = 130

	// signalBase is added to a signal number by POSIX shells.
	signalBase = 128
)

// ExitCode is the exit status of a command, an install step or the whole
// envmatrix process.
type ExitCode int

// IsTransient reports whether the code comes from the container engine
// itself (125 and 126) rather than from the command it ran. Cell container
// start is retried once on these codes.
func (c ExitCode) IsTransient() bool { return c == 125 || c == 126 }

// Signal returns the signal that killed the command, going by the shell
// convention of 128+n. ok is false for ordinary exit codes.
func (c ExitCode) Signal() (sig int, ok bool) {
	if c > signalBase && c <= signalBase+64 {
		return int(c) - signalBase, true
	}
	return 0, false
}

// Describe renders the code for reports: "exited 3", "interrupted" or
// "killed by signal 9".
func (c ExitCode) Describe() string {
	if c == ExitInterrupted {
		return "interrupted"
	}
	if sig, ok := c.Signal(); ok {
		return fmt.Sprintf("killed by signal %d", sig)
	}
	return "exited " + c.String()
}

// String returns the decimal form of the code.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
