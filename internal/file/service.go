package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fstorage/service/internal/policy"
	"github.com/fstorage/service/internal/storage"
)

// Validation errors: detected before any backend call, safe to retry after
// correcting input.
var (
	// ErrUnknownBucket is returned when the bucket has no configured policy.
	ErrUnknownBucket = policy.ErrUnknownBucket
	// ErrSizeExceeded is returned when the file is larger than the bucket allows.
	ErrSizeExceeded = errors.New("file size exceeds the bucket limit")
	// ErrUnsupportedFormat is returned when the file extension is not allowed.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Backend errors: a backend call was attempted and failed. Retrying is the
// caller's responsibility; the service never retries on its own.
var (
	// ErrUploadFailed is returned when the blob write or the metadata insert
	// failed. Compensation guarantees no metadata row is left behind.
	ErrUploadFailed = errors.New("file not uploaded")
	// ErrLinkGenerationFailed is returned when the store cannot produce a
	// presigned link for an existing object.
	ErrLinkGenerationFailed = errors.New("link generation failed")
	// ErrPartialDelete is returned when the metadata row was removed but the
	// blob delete failed. The reference is gone; the orphaned blob is an
	// out-of-band cleanup concern, not a consistency violation.
	ErrPartialDelete = errors.New("metadata removed but object deletion failed")
)

// Repository is the metadata persistence port consumed by the Service.
type Repository interface {
	Insert(ctx context.Context, f *File) (string, error)
	FindByObjectID(ctx context.Context, objectID string) (*File, error)
	Delete(ctx context.Context, f *File) error
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	ObjectID      string  `json:"objectId"`
	PermanentLink *string `json:"permanentLink"`
}

// Service orchestrates uploads, link generation, and deletion across the
// blob store and the metadata repository.
//
// The two backends fail independently and no transaction spans them, so
// each mutating operation is an ordered two-step sequence with a defined
// compensation: uploads write the blob before the row (a row never points
// at a missing object), deletes remove the row before the blob (a
// resolvable reference never dangles). Each call makes at most one attempt
// per step.
type Service struct {
	repo     Repository
	store    storage.Storage
	policies *policy.Table
	log      *slog.Logger
}

// NewService creates a new file Service.
func NewService(repo Repository, store storage.Storage, policies *policy.Table, log *slog.Logger) *Service {
	return &Service{repo: repo, store: store, policies: policies, log: log}
}

// Upload validates the file against the bucket policy, writes the blob,
// records the metadata row, and returns the minted object id. For public
// buckets the result also carries a permanent link.
//
// Preconditions are checked in order (bucket, size, extension) and fail
// before any side effect. If the metadata insert fails after the blob was
// written, the blob is deleted again; a failure of that compensation is
// logged but the caller still sees ErrUploadFailed.
func (s *Service) Upload(ctx context.Context, ownerID, bucketName, rawFilename string, content io.Reader, size int64) (*UploadResult, error) {
	pol, err := s.policies.Lookup(bucketName)
	if err != nil {
		return nil, ErrUnknownBucket
	}
	if size > pol.MaxSizeBytes {
		return nil, ErrSizeExceeded
	}
	ext := filepath.Ext(rawFilename)
	if !pol.AllowsExtension(ext) {
		return nil, ErrUnsupportedFormat
	}

	// The original filename is discarded here: the storage key is always a
	// freshly minted id plus the validated extension, never client text.
	objectID := uuid.NewString()
	objectName := objectID + ext

	if err := s.store.Upload(ctx, bucketName, objectName, content, size, contentTypeFor(ext)); err != nil {
		s.log.Error("blob write failed",
			"owner_id", ownerID, "bucket", bucketName, "object_id", objectID, "error", err)
		return nil, ErrUploadFailed
	}

	f := &File{
		OwnerID:    ownerID,
		ObjectID:   objectID,
		ObjectName: objectName,
		BucketName: bucketName,
	}
	if _, err := s.repo.Insert(ctx, f); err != nil {
		s.log.Error("metadata insert failed, compensating blob write",
			"owner_id", ownerID, "bucket", bucketName, "object_id", objectID,
			"duplicate", errors.Is(err, ErrDuplicate), "error", err)
		if delErr := s.store.Delete(ctx, bucketName, objectName); delErr != nil {
			// Orphaned blob: logged for out-of-band reconciliation, never
			// surfaced as success or as a different error kind.
			s.log.Error("compensation failed, orphaned blob remains",
				"owner_id", ownerID, "bucket", bucketName, "object_name", objectName, "error", delErr)
		}
		return nil, ErrUploadFailed
	}

	result := &UploadResult{ObjectID: objectID}
	if pol.IsPublic {
		link := s.store.PublicURL(bucketName, objectName)
		result.PermanentLink = &link
	}

	s.log.Info("file uploaded",
		"owner_id", ownerID, "bucket", bucketName, "object_id", objectID)
	return result, nil
}

// GetLink resolves an object id to a time-limited download link.
// Side-effect-free and idempotent.
func (s *Service) GetLink(ctx context.Context, bucketName, objectID string, ttl time.Duration) (string, error) {
	if _, err := s.policies.Lookup(bucketName); err != nil {
		return "", ErrUnknownBucket
	}

	f, err := s.repo.FindByObjectID(ctx, objectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolve object id: %w", err)
	}

	link, err := s.store.PresignedGet(ctx, f.BucketName, f.ObjectName, ttl)
	if err != nil {
		s.log.Error("presigned link generation failed",
			"bucket", f.BucketName, "object_id", objectID, "error", err)
		return "", ErrLinkGenerationFailed
	}
	return link, nil
}

// Delete removes a stored object: the metadata row first, then the blob.
//
// If the row delete fails the blob stays untouched and the reference is
// still resolvable. If the blob delete fails after the row is gone the
// call reports ErrPartialDelete, distinct from success, and the orphaned
// blob is left for out-of-band reconciliation.
//
// ownerID is recorded in logs but not checked against the row's owner:
// ownership does not gate deletion.
func (s *Service) Delete(ctx context.Context, ownerID, bucketName, objectID string) error {
	if _, err := s.policies.Lookup(bucketName); err != nil {
		return ErrUnknownBucket
	}

	f, err := s.repo.FindByObjectID(ctx, objectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("resolve object id: %w", err)
	}

	if err := s.repo.Delete(ctx, f); err != nil {
		s.log.Error("metadata delete failed, blob untouched",
			"owner_id", ownerID, "bucket", f.BucketName, "object_id", objectID, "error", err)
		return fmt.Errorf("delete metadata: %w", err)
	}

	if err := s.store.Delete(ctx, f.BucketName, f.ObjectName); err != nil {
		s.log.Error("blob delete failed after metadata removal",
			"owner_id", ownerID, "bucket", f.BucketName, "object_id", objectID, "error", err)
		return ErrPartialDelete
	}

	s.log.Info("file deleted",
		"owner_id", ownerID, "bucket", f.BucketName, "object_id", objectID)
	return nil
}

// contentTypeFor maps a file extension to a MIME type, falling back to
// application/octet-stream for unregistered extensions.
func contentTypeFor(ext string) string {
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
