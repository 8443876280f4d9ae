// SPDX-License-Identifier: MPL-2.0

package resultlog

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/envmatrix/envmatrix/internal/config"
)

// Uploader copies result logs to an S3-compatible object store.
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string
	region string
}

// NewUploader builds an Uploader from cfg. It does not contact the store.
func NewUploader(cfg config.UploadConfig) (*Uploader, error) {
	if ok, errs := cfg.IsValid(); !ok {
		return nil, errs[0]
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, region: cfg.Region}, nil
}

// ObjectKey returns the key a run's log is stored under.
func (u *Uploader) ObjectKey(runID string) string {
	return objectKey(u.prefix, runID)
}

// EnsureBucket creates the bucket when it does not exist.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: u.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", u.bucket, err)
	}
	return nil
}

// Upload stores log as JSON and returns its object key.
func (u *Uploader) Upload(ctx context.Context, log *Log) (string, error) {
	data, err := Marshal(log)
	if err != nil {
		return "", err
	}
	key := u.ObjectKey(log.RunID)
	_, err = u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"run-id": log.RunID,
			"status": string(log.Status),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload result log to %s/%s: %w", u.bucket, key, err)
	}
	return key, nil
}

// Download reads a run's log back from the store.
func (u *Uploader) Download(ctx context.Context, runID string) ([]byte, error) {
	obj, err := u.client.GetObject(ctx, u.bucket, u.ObjectKey(runID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download result log: %w", err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, fmt.Errorf("download result log: %w", err)
	}
	return buf.Bytes(), nil
}

func objectKey(prefix, runID string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return FileName(runID)
	}
	return path.Join(prefix, FileName(runID))
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
