// SPDX-License-Identifier: MPL-2.0

package resultlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/envmatrix/envmatrix/pkg/types"
)

var historySchema = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA foreign_keys=ON;`,
	`PRAGMA busy_timeout=5000;`,
	`
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  selector TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at_ns INTEGER NOT NULL,
  finished_at_ns INTEGER NOT NULL,
  cells INTEGER NOT NULL,
  failed INTEGER NOT NULL,
  skipped INTEGER NOT NULL
);`,
	`
CREATE TABLE IF NOT EXISTS cell_results (
  run_id TEXT NOT NULL,
  cell TEXT NOT NULL,
  stage TEXT NOT NULL,
  environment TEXT NOT NULL,
  os TEXT NOT NULL,
  status TEXT NOT NULL,
  reason TEXT NOT NULL,
  allowed_failures INTEGER NOT NULL,
  duration_ms INTEGER NOT NULL,
  PRIMARY KEY (run_id, cell),
  FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);`,
	`
CREATE TABLE IF NOT EXISTS command_results (
  run_id TEXT NOT NULL,
  cell TEXT NOT NULL,
  seq INTEGER NOT NULL,
  command TEXT NOT NULL,
  allowed_to_fail INTEGER NOT NULL,
  exit_code INTEGER NOT NULL,
  duration_ms INTEGER NOT NULL,
  PRIMARY KEY (run_id, cell, seq),
  FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);`,
}

type (
	// History is the SQLite run history.
	History struct {
		db   *sql.DB
		path string
	}

	// RunSummary is one row of the runs table.
	RunSummary struct {
		RunID      string
		Selector   string
		Status     types.Status
		StartedAt  time.Time
		FinishedAt time.Time
		Cells      int
		Failed     int
		Skipped    int
	}
)

// OpenHistory opens (creating if needed) the history database at path.
func OpenHistory(ctx context.Context, path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db, path: path}
	for _, stmt := range historySchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init history schema: %w", err)
		}
	}
	return h, nil
}

// Path returns the database file.
func (h *History) Path() string { return h.path }

// Close closes the database.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// Record stores log, replacing an earlier record of the same run.
func (h *History) Record(ctx context.Context, log *Log) (err error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, log.RunID); err != nil {
		return fmt.Errorf("replace run: %w", err)
	}

	var failed, skipped int
	for _, r := range log.Results {
		switch r.Status {
		case types.StatusFailed:
			failed++
		case types.StatusSkipped:
			skipped++
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, selector, status, started_at_ns, finished_at_ns, cells, failed, skipped)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.RunID, log.Selector, string(log.Status),
		log.StartedAt.UnixNano(), log.FinishedAt.UnixNano(),
		len(log.Results), failed, skipped,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, r := range log.Results {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO cell_results (run_id, cell, stage, environment, os, status, reason, allowed_failures, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			log.RunID, r.Cell, string(r.Stage), string(r.Environment), string(r.OS),
			string(r.Status), r.Reason, r.AllowedFailures, r.Duration().Milliseconds(),
		); err != nil {
			return fmt.Errorf("insert cell result %s: %w", r.Cell, err)
		}
		for i, c := range r.CommandResults {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO command_results (run_id, cell, seq, command, allowed_to_fail, exit_code, duration_ms)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				log.RunID, r.Cell, i, c.Command, c.AllowedToFail, int(c.ExitCode), c.DurationMs,
			); err != nil {
				return fmt.Errorf("insert command result %s[%d]: %w", r.Cell, i, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

// Runs returns the most recent runs first, at most limit (all when limit <= 0).
func (h *History) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT run_id, selector, status, started_at_ns, finished_at_ns, cells, failed, skipped
		FROM runs ORDER BY started_at_ns DESC, run_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s                 RunSummary
			status            string
			started, finished int64
		)
		if err := rows.Scan(&s.RunID, &s.Selector, &status, &started, &finished, &s.Cells, &s.Failed, &s.Skipped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		s.Status = types.Status(status)
		s.StartedAt = time.Unix(0, started).UTC()
		s.FinishedAt = time.Unix(0, finished).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// CommandCount returns the number of stored command results of a run.
func (h *History) CommandCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_results WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count command results: %w", err)
	}
	return n, nil
}
