// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	goruntime "runtime"
	"strings"
)

const (
	// OSLinux is the Linux host pool tag.
	OSLinux OSName = "linux"
	// OSMacOS is the macOS host pool tag.
	OSMacOS OSName = "macos"
	// OSWindows is the Windows host pool tag.
	OSWindows OSName = "windows"
)

// ErrInvalidOSName is the sentinel error wrapped by InvalidOSNameError.
var ErrInvalidOSName = errors.New("invalid operating system name")

type (
	// OSName is the operating system tag of a matrix cell. It selects the host
	// pool that may execute the cell. Tags are compared case-insensitively
	// after Normalize.
	OSName string

	// InvalidOSNameError is returned when an OSName is empty or contains whitespace.
	InvalidOSNameError struct {
		Value OSName
	}
)

// HostOS returns the tag of the operating system this process runs on.
func HostOS() OSName {
	switch goruntime.GOOS {
	case "darwin":
		return OSMacOS
	default:
		return OSName(goruntime.GOOS)
	}
}

// String returns the string representation of the OSName.
func (o OSName) String() string { return string(o) }

// Normalize lower-cases the tag and folds common CI aliases
// (ubuntu-latest, windows-2022, darwin, ...) onto their pool tag.
func (o OSName) Normalize() OSName {
	s := strings.ToLower(strings.TrimSpace(string(o)))
	switch {
	case strings.HasPrefix(s, "ubuntu"), strings.HasPrefix(s, "linux"):
		return OSLinux
	case strings.HasPrefix(s, "windows"), s == "win":
		return OSWindows
	case strings.HasPrefix(s, "macos"), strings.HasPrefix(s, "darwin"), s == "osx":
		return OSMacOS
	default:
		return OSName(s)
	}
}

// IsValid returns whether the OSName is non-empty and free of whitespace.
func (o OSName) IsValid() (bool, []error) {
	s := string(o)
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' }) {
		return false, []error{&InvalidOSNameError{Value: o}}
	}
	return true, nil
}

// Error implements the error interface for InvalidOSNameError.
func (e *InvalidOSNameError) Error() string {
	return fmt.Sprintf("invalid operating system %q: must be non-empty without whitespace", e.Value)
}

// Unwrap returns ErrInvalidOSName for errors.Is() compatibility.
func (e *InvalidOSNameError) Unwrap() error { return ErrInvalidOSName }
