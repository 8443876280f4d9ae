// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/envmatrix/envmatrix/pkg/types"
)

const (
	failurePermanent failureKind = iota
	failureEngine
	failureNetwork
	failureStorage
)

// failureKind sorts container engine errors by whether another attempt may
// succeed.
type failureKind int

// failureMarkers maps stderr fragments to the transient kind they signal.
var failureMarkers = []struct {
	fragment string
	kind     failureKind
}{
	{"ping_group_range", failureEngine},
	{"OCI runtime error", failureEngine},
	{"Temporary failure resolving", failureNetwork},
	{"Could not resolve host", failureNetwork},
	{"connection timed out", failureNetwork},
	{"connection refused", failureNetwork},
	{"TLS handshake timeout", failureNetwork},
	{"error creating overlay mount", failureStorage},
	{"error mounting layer", failureStorage},
}

func (k failureKind) String() string {
	switch k {
	case failureEngine:
		return "engine"
	case failureNetwork:
		return "network"
	case failureStorage:
		return "storage"
	default:
		return "permanent"
	}
}

// IsTransientError reports whether err is a container engine failure that
// may succeed on retry. Context cancellation is never transient.
func IsTransientError(err error) bool {
	return classifyFailure(err) != failurePermanent
}

func classifyFailure(err error) failureKind {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failurePermanent
	}

	// 125 and 126 come from the engine itself, not from the cell's command.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && types.ExitCode(exitErr.ExitCode()).IsTransient() {
		return failureEngine
	}

	msg := err.Error()
	for _, m := range failureMarkers {
		if strings.Contains(msg, m.fragment) {
			return m.kind
		}
	}
	return failurePermanent
}
