// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

var (
	// ErrValidation is the sentinel error wrapped by ValidationError.
	ErrValidation = errors.New("CUE validation failed")

	// ErrFileTooLarge is the sentinel error wrapped by FileTooLargeError.
	ErrFileTooLarge = errors.New("file too large")
)

type (
	// ValidationError is one schema violation in a user file. Path uses
	// JSON notation, e.g. "stages[0].axes[1].values".
	ValidationError struct {
		File    string
		Path    string
		Message string
	}

	// FileTooLargeError is returned for files above MaxFileSize.
	FileTooLargeError struct {
		File string
		Size int
	}
)

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.File + ": " + e.Message
	}
	return e.File + ": " + e.Path + ": " + e.Message
}

// Unwrap returns ErrValidation for errors.Is() compatibility.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Error implements the error interface.
func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("%s: %d bytes exceeds the %d byte limit", e.File, e.Size, MaxFileSize)
}

// Unwrap returns ErrFileTooLarge for errors.Is() compatibility.
func (e *FileTooLargeError) Unwrap() error { return ErrFileTooLarge }

// FormatError turns a cue error into ValidationErrors, one per problem,
// joined when there are several.
//
//	matrix.cue: stages[0].needs: conflicting values "lint" and 3
func FormatError(err error, file string) error {
	if err == nil {
		return nil
	}
	var cueErr cueerrors.Error
	if !errors.As(err, &cueErr) {
		return fmt.Errorf("%s: %w", file, err)
	}
	problems := cueerrors.Errors(err)
	if len(problems) == 0 {
		return fmt.Errorf("%s: %w", file, err)
	}

	out := make([]error, 0, len(problems))
	for _, p := range problems {
		path := jsonPath(cueerrors.Path(p))
		msg := p.Error()
		// cue repeats the path at the start of some messages.
		if path != "" {
			if rest, ok := strings.CutPrefix(msg, path); ok {
				msg = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			}
		}
		out = append(out, &ValidationError{File: file, Path: path, Message: msg})
	}
	if len(out) == 1 {
		return out[0]
	}
	return errors.Join(out...)
}

// jsonPath renders ["stages", "0", "name"] as "stages[0].name".
func jsonPath(parts []string) string {
	var b strings.Builder
	for i, part := range parts {
		switch {
		case i > 0 && isIndex(part):
			b.WriteString("[" + part + "]")
		case i > 0:
			b.WriteString("." + part)
		default:
			b.WriteString(part)
		}
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
