// SPDX-License-Identifier: MPL-2.0

package resultlog

import (
	"errors"
	"testing"

	"github.com/envmatrix/envmatrix/internal/config"
)

func TestObjectKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix string
		want   string
	}{
		{"", "run-1.json"},
		{"ci", "ci/run-1.json"},
		{"ci/", "ci/run-1.json"},
		{"/ci/nightly/", "ci/nightly/run-1.json"},
	}
	for _, tt := range tests {
		if got := objectKey(tt.prefix, "run-1"); got != tt.want {
			t.Errorf("objectKey(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestNewUploader(t *testing.T) {
	t.Parallel()

	u, err := NewUploader(config.UploadConfig{Endpoint: "localhost:9000", Bucket: "runs", Prefix: "ci"})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if got := u.ObjectKey("abc"); got != "ci/abc.json" {
		t.Errorf("ObjectKey() = %q", got)
	}

	_, err = NewUploader(config.UploadConfig{Endpoint: "localhost:9000"})
	if !errors.Is(err, config.ErrInvalidUploadConfig) {
		t.Errorf("NewUploader(no bucket) error = %v, want ErrInvalidUploadConfig", err)
	}
}
