// SPDX-License-Identifier: MPL-2.0

package resultlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/envmatrix/envmatrix/internal/executor"
	"github.com/envmatrix/envmatrix/pkg/matrix"
	"github.com/envmatrix/envmatrix/pkg/types"
)

// FormatVersion is the version written to every log.
const FormatVersion = 1

var (
	// ErrUnsupportedVersion is returned by Read for logs of a newer format.
	ErrUnsupportedVersion = errors.New("unsupported result log version")

	// ErrInvalidRunID is returned for run IDs that cannot name a file.
	ErrInvalidRunID = errors.New("invalid run ID")
)

// Log is the persisted record of one run.
type Log struct {
	Version    int                  `json:"version"`
	RunID      string               `json:"run_id"`
	Selector   string               `json:"selector,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Status     types.Status         `json:"status"`
	Results    []executor.RunResult `json:"results"`
	Unserved   []matrix.Cell        `json:"unserved,omitempty"`
}

// NewRunID returns a time-ordered unique run ID.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// FileName returns the log file name of a run.
func FileName(runID string) string {
	return runID + ".json"
}

// Write stores log as indented JSON in dir and returns the file path.
// The file is replaced atomically.
func Write(dir string, log *Log) (string, error) {
	if log.RunID == "" || filepath.Base(log.RunID) != log.RunID {
		return "", fmt.Errorf("%w: %q", ErrInvalidRunID, log.RunID)
	}
	if log.Version == 0 {
		log.Version = FormatVersion
	}

	data, err := Marshal(log)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	path := filepath.Join(dir, FileName(log.RunID))
	tmp, err := os.CreateTemp(dir, ".tmp-"+log.RunID+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to write result log: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write result log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write result log: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write result log: %w", err)
	}
	return path, nil
}

// Marshal encodes log as indented JSON with a trailing newline.
func Marshal(log *Log) ([]byte, error) {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result log: %w", err)
	}
	return append(data, '\n'), nil
}

// Read loads a log written by Write.
func Read(path string) (*Log, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read result log: %w", err)
	}
	return Unmarshal(data, path)
}

// Unmarshal decodes a log. source names the input in error messages.
func Unmarshal(data []byte, source string) (*Log, error) {
	var log Log
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("failed to decode result log %s: %w", source, err)
	}
	if log.Version > FormatVersion {
		return nil, fmt.Errorf("%w: %d (this build reads up to %d)", ErrUnsupportedVersion, log.Version, FormatVersion)
	}
	return &log, nil
}
