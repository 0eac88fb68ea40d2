package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage implements Storage using a MinIO (or any S3-compatible) backend.
// Switching providers means changing STORAGE_ENDPOINT and credentials —
// no code changes are needed since the API is S3-compatible.
type MinioStorage struct {
	client     *minio.Client
	publicBase string
	log        *slog.Logger
}

// NewMinioStorage creates a MinIO client and returns a ready-to-use
// MinioStorage. Buckets are created lazily on first upload rather than at
// startup, since the set of buckets comes from the policy table.
func NewMinioStorage(endpoint, accessKey, secretKey, publicBase string, useSSL bool, log *slog.Logger) (*MinioStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioStorage{
		client:     client,
		publicBase: strings.TrimRight(publicBase, "/"),
		log:        log,
	}, nil
}

// Upload streams reader to MinIO under (bucket, key). size must be the exact
// byte count (pass -1 only if the size is genuinely unknown — MinIO will
// buffer it). The bucket is created if it does not exist yet.
func (s *MinioStorage) Upload(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	if err := s.ensureBucket(ctx, bucket); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %q/%q: %w", bucket, key, err)
	}
	return nil
}

// PresignedGet returns a time-limited download URL for the object.
func (s *MinioStorage) PresignedGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign get %q/%q: %w", bucket, key, err)
	}
	return u.String(), nil
}

// Delete removes the object at (bucket, key).
func (s *MinioStorage) Delete(ctx context.Context, bucket, key string) error {
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %q/%q: %w", bucket, key, err)
	}
	return nil
}

// PublicURL returns the stable browser-accessible URL for the given object.
// For local MinIO: "http://localhost:9000/avatar/<object-name>".
func (s *MinioStorage) PublicURL(bucket, key string) string {
	return s.publicBase + "/" + bucket + "/" + key
}

// ensureBucket idempotently creates bucket if it is absent.
func (s *MinioStorage) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence %q: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		s.log.Info("storage: created bucket", "bucket", bucket)
	}
	return nil
}
