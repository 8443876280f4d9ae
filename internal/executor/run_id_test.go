// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"testing"

	"github.com/google/uuid"
)

func TestShortRunID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want string
	}{
		{"01a140a8-3c2e-7d41-9f0e-5b6c7d8e9f01", "5b6c7d8e9f01"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := shortRunID(tt.id); got != tt.want {
			t.Errorf("shortRunID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestShortRunID_DistinctForRunsStartedTogether(t *testing.T) {
	t.Parallel()

	seen := make(map[string]string)
	for range 50 {
		id := uuid.Must(uuid.NewV7()).String()
		short := shortRunID(id)
		if prev, ok := seen[short]; ok {
			t.Fatalf("run IDs %s and %s share the container name prefix %q", prev, id, short)
		}
		seen[short] = id
	}
}
