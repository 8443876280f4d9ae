// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/envmatrix/envmatrix/internal/issue"
	"github.com/envmatrix/envmatrix/pkg/types"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
)

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version takes priority", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v1.2.3"
		Commit = "abc1234"
		BuildDate = "2026-06-15T10:00:00Z"

		got := getVersionString()
		want := "v1.2.3 (commit: abc1234, built: 2026-06-15T10:00:00Z)"
		if got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})

	t.Run("dev build", func(t *testing.T) {
		origVersion := Version
		t.Cleanup(func() { Version = origVersion })

		Version = "dev"
		if got := getVersionString(); got != "dev (built from source)" {
			t.Errorf("getVersionString() = %q, want %q", got, "dev (built from source)")
		}
	})
}

func TestExitCodeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want types.ExitCode
	}{
		{"failed run", &ExitError{Code: types.ExitFailed}, types.ExitFailed},
		{"wrapped exit error", fmt.Errorf("run: %w", &ExitError{Code: types.ExitInterrupted}), types.ExitInterrupted},
		{"config failure", configFailure(errors.New("bad registry")), types.ExitConfigError},
		{"usage error", errors.New(`unknown flag: --bogus`), types.ExitConfigError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitError(t *testing.T) {
	t.Parallel()

	bare := &ExitError{Code: types.ExitFailed}
	if bare.Error() != "exit status 1" {
		t.Errorf("Error() = %q, want %q", bare.Error(), "exit status 1")
	}
	if bare.Unwrap() != nil {
		t.Error("Unwrap() of a bare ExitError should be nil")
	}

	cause := errors.New("registry not found")
	wrapped := &ExitError{Code: types.ExitConfigError, Err: cause}
	if !errors.Is(wrapped, cause) {
		t.Error("ExitError should unwrap to its cause")
	}
	if configFailure(nil) != nil {
		t.Error("configFailure(nil) should be nil")
	}
}

func TestFormatErrorForDisplay(t *testing.T) {
	t.Parallel()

	ae := issue.NewErrorContext().
		WithOperation("load registry").
		WithResource("envmatrix.ini").
		WithSuggestion("Pass --registry to point at another file").
		Wrap(errors.New("no such file")).
		Build()

	got := formatErrorForDisplay(fmt.Errorf("outer: %w", ae), false)
	for _, want := range []string{"failed to load registry: envmatrix.ini: no such file", "Pass --registry"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatErrorForDisplay() = %q, want it to contain %q", got, want)
		}
	}
	if strings.Contains(got, "Error chain") {
		t.Error("non-verbose output should not include the error chain")
	}
	if !strings.Contains(formatErrorForDisplay(ae, true), "Error chain") {
		t.Error("verbose output should include the error chain")
	}

	if got := formatErrorForDisplay(errors.New("plain"), true); got != "plain" {
		t.Errorf("formatErrorForDisplay(plain) = %q, want %q", got, "plain")
	}
}

func TestHandleError(t *testing.T) {
	t.Parallel()

	app := NewApp()

	var silent strings.Builder
	app.handleError(&silent, fang.Styles{}, &ExitError{Code: types.ExitFailed})
	if silent.Len() != 0 {
		t.Errorf("bare ExitError should print nothing, got %q", silent.String())
	}

	var out strings.Builder
	app.handleError(&out, fang.Styles{}, configFailure(errors.New("stage list is empty")))
	if !strings.Contains(out.String(), "stage list is empty") {
		t.Errorf("handleError output = %q, want the cause", out.String())
	}
}

func TestLevelFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		explicit string
		verbose  bool
		want     log.Level
	}{
		{"", false, log.WarnLevel},
		{"", true, log.DebugLevel},
		{"info", true, log.InfoLevel},
		{"error", false, log.ErrorLevel},
		{"chatty", false, log.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.explicit, tt.verbose), func(t *testing.T) {
			t.Parallel()
			if got := levelFor(tt.explicit, tt.verbose); got != tt.want {
				t.Errorf("levelFor(%q, %v) = %v, want %v", tt.explicit, tt.verbose, got, tt.want)
			}
		})
	}
}

func TestSetupLogging_InvalidLevel(t *testing.T) {
	t.Parallel()

	app := &App{logLevel: "chatty"}
	err := app.setupLogging(&strings.Builder{})
	if !errors.Is(err, ErrInvalidLogLevel) {
		t.Fatalf("setupLogging() error = %v, want ErrInvalidLogLevel", err)
	}
	if exitCodeFor(err) != types.ExitConfigError {
		t.Errorf("exit code = %d, want %d", exitCodeFor(err), types.ExitConfigError)
	}
}
