// SPDX-License-Identifier: MPL-2.0

package types

import "testing"

func TestExitCode_Describe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ExitCode
		want string
	}{
		{0, "exited 0"},
		{3, "exited 3"},
		{128, "exited 128"},
		{ExitInterrupted, "interrupted"},
		{137, "killed by signal 9"},
		{143, "killed by signal 15"},
		{255, "exited 255"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			if got := tt.code.Describe(); got != tt.want {
				t.Errorf("ExitCode(%d).Describe() = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestExitCode_IsTransient(t *testing.T) {
	t.Parallel()

	for code, want := range map[ExitCode]bool{0: false, 1: false, 124: false, 125: true, 126: true, 127: false} {
		if got := code.IsTransient(); got != want {
			t.Errorf("ExitCode(%d).IsTransient() = %v, want %v", code, got, want)
		}
	}
}

func TestStatus_ExitCodeMapping(t *testing.T) {
	t.Parallel()

	for status, want := range map[Status]ExitCode{StatusPassed: ExitPassed, StatusFailed: ExitFailed, StatusSkipped: ExitFailed} {
		if got := status.ExitCode(); got != want {
			t.Errorf("%s.ExitCode() = %d, want %d", status, got, want)
		}
	}
}
