// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"cuelang.org/go/cue/cuecontext"
)

func TestJSONPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		parts []string
		want  string
	}{
		{nil, ""},
		{[]string{"runtime"}, "runtime"},
		{[]string{"runtime", "kind"}, "runtime.kind"},
		{[]string{"stages", "0", "axes", "1", "values"}, "stages[0].axes[1].values"},
		{[]string{"0"}, "0"},
		{[]string{"stages", "v2"}, "stages.v2"},
	}

	for _, tt := range tests {
		if got := jsonPath(tt.parts); got != tt.want {
			t.Errorf("jsonPath(%q) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	if FormatError(nil, "x.cue") != nil {
		t.Error("FormatError(nil) should be nil")
	}

	plain := errors.New("boom")
	err := FormatError(plain, "x.cue")
	if !errors.Is(err, plain) || err.Error() != "x.cue: boom" {
		t.Errorf("FormatError(plain) = %v", err)
	}

	wrapped := fmt.Errorf("open matrix.cue: %w", fs.ErrNotExist)
	err = FormatError(wrapped, "matrix.cue")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("FormatError(wrapped) = %v, want fs.ErrNotExist in the chain", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Errorf("FormatError(wrapped) = %v, should not be a validation error", err)
	}
}

func TestFormatError_CUEProblem(t *testing.T) {
	t.Parallel()

	v := cuecontext.New().CompileString(`runtime: kind: "host" & "ssh"`)
	err := FormatError(v.Validate(), "config.cue")

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("FormatError() = %v (%T), want *ValidationError", err, err)
	}
	if verr.File != "config.cue" || verr.Path != "runtime.kind" {
		t.Errorf("ValidationError = %+v, want file config.cue and path runtime.kind", verr)
	}
}

func TestValidationError(t *testing.T) {
	t.Parallel()

	withPath := &ValidationError{File: "config.cue", Path: "runtime.kind", Message: `conflicting values "host" and "ssh"`}
	if got, want := withPath.Error(), `config.cue: runtime.kind: conflicting values "host" and "ssh"`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	bare := &ValidationError{File: "config.cue", Message: "expected struct"}
	if got := bare.Error(); got != "config.cue: expected struct" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(withPath, ErrValidation) {
		t.Error("ValidationError should wrap ErrValidation")
	}
}
