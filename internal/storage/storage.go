// Package storage defines the interface for object storage operations.
// Swap implementations by changing the concrete type injected at startup —
// the MinIO implementation works with any S3-compatible provider.
package storage

import (
	"context"
	"io"
	"time"
)

// Storage is the port for uploading, linking, and deleting objects.
type Storage interface {
	// Upload streams data to the store under (bucket, key), creating the
	// bucket on first use if it does not exist.
	Upload(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error
	// PresignedGet returns a time-limited read URL for (bucket, key).
	PresignedGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	// Delete removes the object at (bucket, key).
	Delete(ctx context.Context, bucket, key string) error
	// PublicURL constructs the stable, browser-accessible URL for (bucket, key).
	PublicURL(bucket, key string) string
}
