// SPDX-License-Identifier: MPL-2.0

package resultlog

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/envmatrix/envmatrix/internal/config"
)

type (
	// Store writes every run to the configured destinations.
	Store struct {
		dir      string
		history  *History
		uploader *Uploader
		logger   *slog.Logger
	}

	// Saved reports where a log went.
	Saved struct {
		Path      string
		History   bool
		ObjectKey string
	}
)

// OpenStore opens the destinations of cfg. Relative paths resolve against baseDir.
func OpenStore(ctx context.Context, cfg config.ResultsConfig, baseDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{dir: resolvePath(baseDir, cfg.Path), logger: logger}

	if cfg.SQLite != "" {
		h, err := OpenHistory(ctx, resolvePath(baseDir, cfg.SQLite))
		if err != nil {
			return nil, err
		}
		s.history = h
	}
	if cfg.Upload.Enabled() {
		u, err := NewUploader(cfg.Upload)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.uploader = u
	}
	return s, nil
}

// Dir returns the directory that receives JSON logs.
func (s *Store) Dir() string { return s.dir }

// Save writes log to the JSON file, then the history and the object store.
// The JSON file is authoritative: failures of the other destinations are
// returned joined but do not undo it.
func (s *Store) Save(ctx context.Context, log *Log) (Saved, error) {
	var saved Saved
	path, err := Write(s.dir, log)
	if err != nil {
		return saved, err
	}
	saved.Path = path
	s.logger.Debug("result log written", "path", path)

	var errs []error
	if s.history != nil {
		if err := s.history.Record(ctx, log); err != nil {
			errs = append(errs, err)
		} else {
			saved.History = true
		}
	}
	if s.uploader != nil {
		if err := s.uploader.EnsureBucket(ctx); err != nil {
			errs = append(errs, err)
		} else if key, err := s.uploader.Upload(ctx, log); err != nil {
			errs = append(errs, err)
		} else {
			saved.ObjectKey = key
			s.logger.Debug("result log uploaded", "key", key)
		}
	}
	return saved, errors.Join(errs...)
}

// Close releases the history database.
func (s *Store) Close() error {
	return s.history.Close()
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}
