// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/envmatrix/envmatrix/internal/config"

	"github.com/charmbracelet/log"
)

// ErrInvalidLogLevel is the sentinel error wrapped by InvalidLogLevelError.
var ErrInvalidLogLevel = errors.New("invalid log level")

// InvalidLogLevelError is returned for a --log-level value charmbracelet/log
// does not know.
type InvalidLogLevelError struct {
	Value string
}

// Error implements the error interface.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// setupLogging validates --log-level and installs the slog default.
func (a *App) setupLogging(w io.Writer) error {
	if a.logLevel != "" {
		if _, err := log.ParseLevel(a.logLevel); err != nil {
			return configFailure(&InvalidLogLevelError{Value: a.logLevel})
		}
	}
	a.logOut = w
	a.installLogger(w, levelFor(a.logLevel, a.verbose))
	return nil
}

// installLogger makes a charmbracelet/log handler at level the slog default.
func (a *App) installLogger(w io.Writer, level log.Level) {
	handler := log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          config.AppName,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)
}

// levelFor returns the explicit level, or warn (debug when verbose).
// An unparsable explicit level falls back to the same default.
func levelFor(explicit string, verbose bool) log.Level {
	if explicit != "" {
		if lvl, err := log.ParseLevel(explicit); err == nil {
			return lvl
		}
	}
	if verbose {
		return log.DebugLevel
	}
	return log.WarnLevel
}
