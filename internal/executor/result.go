// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"time"

	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/matrix"
	"github.com/envmatrix/envmatrix/pkg/types"
)

// Executor states, in the order a cell moves through them.
const (
	StatePending      State = "pending"
	StateProvisioning State = "provisioning"
	StateInstalling   State = "installing"
	StateRunning      State = "running"
	StateSealed       State = "sealed"
)

// Install steps.
const (
	InstallPackages InstallStep = "packages"
	InstallProject  InstallStep = "project"
)

// ReasonStageGate is recorded on cells held back by a failed earlier stage.
const ReasonStageGate = "stage gate"

type (
	// State is a step of the per-cell state machine.
	State string

	// InstallStep names one of the two install invocations.
	InstallStep string

	// Transition is reported to observers on every state change. Index is
	// the command index while Running and -1 otherwise.
	Transition struct {
		Cell  string
		From  State
		To    State
		Index int
	}

	// CommandResult is the outcome of one attempted command.
	CommandResult struct {
		Command       string         `json:"command"`
		AllowedToFail bool           `json:"allowed_to_fail,omitempty"`
		ExitCode      types.ExitCode `json:"exit_code"`
		DurationMs    int64          `json:"duration_ms"`
	}

	// InstallResult is the outcome of one install step.
	InstallResult struct {
		Step       InstallStep    `json:"step"`
		Argv       []string       `json:"argv"`
		ExitCode   types.ExitCode `json:"exit_code"`
		DurationMs int64          `json:"duration_ms"`
	}

	// RunResult is the record of one cell run. CommandResults only grow while
	// the cell runs and are never rewritten.
	RunResult struct {
		RunID           string                  `json:"run_id"`
		Cell            string                  `json:"cell"`
		Stage           matrix.StageName        `json:"stage"`
		Environment     envspec.EnvironmentName `json:"environment"`
		OS              types.OSName            `json:"os"`
		Values          []matrix.AxisValue      `json:"values,omitempty"`
		Interpreter     string                  `json:"interpreter,omitempty"`
		Packages        []string                `json:"packages,omitempty"`
		InstallResults  []InstallResult         `json:"install_results,omitempty"`
		CommandResults  []CommandResult         `json:"command_results"`
		Status          types.Status            `json:"status"`
		Reason          string                  `json:"reason,omitempty"`
		AllowedFailures int                     `json:"allowed_failures,omitempty"`
		StartedAt       time.Time               `json:"started_at"`
		FinishedAt      time.Time               `json:"finished_at"`

		// Err is the error that decided the status, if any.
		Err error `json:"-"`
	}
)

// String returns the string representation of the State.
func (s State) String() string { return string(s) }

// String returns the string representation of the InstallStep.
func (s InstallStep) String() string { return string(s) }

// Duration is the wall time between start and seal.
func (r RunResult) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FirstFailure returns the first mandatory command that exited non-zero.
func (r RunResult) FirstFailure() (CommandResult, bool) {
	for _, c := range r.CommandResults {
		if !c.AllowedToFail && c.ExitCode != 0 {
			return c, true
		}
	}
	return CommandResult{}, false
}

// Warnings returns the allowed-to-fail commands that exited non-zero.
func (r RunResult) Warnings() []CommandResult {
	var out []CommandResult
	for _, c := range r.CommandResults {
		if c.AllowedToFail && c.ExitCode != 0 {
			out = append(out, c)
		}
	}
	return out
}

// SkippedResult builds the sealed result of a cell that never started.
func SkippedResult(runID string, cell matrix.Cell, reason string, at time.Time) RunResult {
	return RunResult{
		RunID:          runID,
		Cell:           cell.ID,
		Stage:          cell.Stage,
		Environment:    cell.Environment,
		OS:             cell.OS,
		Values:         cell.Values,
		CommandResults: []CommandResult{},
		Status:         types.StatusSkipped,
		Reason:         reason,
		StartedAt:      at,
		FinishedAt:     at,
	}
}
