// SPDX-License-Identifier: MPL-2.0

package resultlog

import (
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/envmatrix/envmatrix/internal/config"
	"github.com/envmatrix/envmatrix/internal/testutil"
)

const (
	minioImage     = "minio/minio:RELEASE.2025-04-22T22-12-26Z"
	minioAccessKey = "envmatrix"
	minioSecretKey = "envmatrix-secret"
)

// TestUploader_Integration uploads a log to a throwaway MinIO server.
func TestUploader_Integration(t *testing.T) {
	testutil.RequireContainerProvider(t)
	testutil.AcquireContainerSlot(t)

	ctx := t.Context()
	server, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        minioImage,
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioAccessKey,
				"MINIO_ROOT_PASSWORD": minioSecretKey,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, server)
	if err != nil {
		t.Fatalf("failed to start MinIO: %v", err)
	}

	endpoint, err := server.PortEndpoint(ctx, "9000/tcp", "")
	if err != nil {
		t.Fatalf("failed to resolve MinIO endpoint: %v", err)
	}

	store, err := OpenStore(ctx, config.ResultsConfig{
		Path: t.TempDir(),
		Upload: config.UploadConfig{
			Endpoint:  endpoint,
			Bucket:    "envmatrix-runs",
			Prefix:    "ci",
			AccessKey: minioAccessKey,
			SecretKey: minioSecretKey,
		},
	}, "", nil)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer store.Close()

	saved, err := store.Save(ctx, sampleLog("run-42"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.ObjectKey != "ci/run-42.json" {
		t.Errorf("ObjectKey = %q", saved.ObjectKey)
	}

	data, err := store.uploader.Download(ctx, "run-42")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	for _, want := range []string{`"run_id": "run-42"`, `"status": "failed"`, `"version": 1`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("downloaded log missing %s:\n%s", want, data)
		}
	}
}
