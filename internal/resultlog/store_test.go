// SPDX-License-Identifier: MPL-2.0

package resultlog

import (
	"path/filepath"
	"testing"

	"github.com/envmatrix/envmatrix/internal/config"
)

func TestStore_Save(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := OpenStore(t.Context(), config.ResultsConfig{
		Path:   ".envmatrix/runs",
		SQLite: ".envmatrix/history.db",
	}, base, nil)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if want := filepath.Join(base, ".envmatrix", "runs"); store.Dir() != want {
		t.Errorf("Dir() = %q, want %q", store.Dir(), want)
	}

	saved, err := store.Save(t.Context(), sampleLog("run-7"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.Path != filepath.Join(base, ".envmatrix", "runs", "run-7.json") || !saved.History || saved.ObjectKey != "" {
		t.Errorf("Save() = %+v", saved)
	}

	if _, err := Read(saved.Path); err != nil {
		t.Errorf("Read(saved) error = %v", err)
	}
	h, err := OpenHistory(t.Context(), filepath.Join(base, ".envmatrix", "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	runs, err := h.Runs(t.Context(), 0)
	if err != nil || len(runs) != 1 || runs[0].RunID != "run-7" {
		t.Errorf("history runs = %+v, %v", runs, err)
	}
}

func TestStore_JSONOnly(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "abs")
	store, err := OpenStore(t.Context(), config.ResultsConfig{Path: dir}, "/ignored", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	saved, err := store.Save(t.Context(), sampleLog("run-8"))
	if err != nil {
		t.Fatal(err)
	}
	if saved.Path != filepath.Join(dir, "run-8.json") || saved.History {
		t.Errorf("Save() = %+v", saved)
	}
}
