// SPDX-License-Identifier: MPL-2.0

// Package executor runs one matrix cell: it resolves the install plan,
// provisions an isolated runtime, installs packages and runs the command
// sequence, producing a sealed RunResult.
//
// Per-cell failures never escape as errors; they are recorded in the
// RunResult with the status the failure class implies.
package executor
