// Package file manages stored-file metadata and the upload/delete
// consistency protocol between the object store and the database.
package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// File is the metadata row for one stored object. Rows are immutable:
// they are inserted on upload and deleted on removal, never updated.
type File struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	ObjectID   string    `json:"objectId"`
	ObjectName string    `json:"objectName"`
	BucketName string    `json:"bucketName"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// ErrNotFound is returned when no metadata row exists for an object id.
var ErrNotFound = errors.New("file not found")

// ErrDuplicate is returned when an insert collides with an existing
// object_id or object_name. Ids are randomly minted, so in practice this
// signals a mint collision rather than a client error.
var ErrDuplicate = errors.New("file already exists")

// PgRepository handles all file metadata database operations.
type PgRepository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PgRepository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: db}
}

// Insert stores a new metadata row and returns its generated id.
func (r *PgRepository) Insert(ctx context.Context, f *File) (string, error) {
	err := r.db.QueryRow(ctx,
		`INSERT INTO files (owner_id, object_id, object_name, bucket_name)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, uploaded_at`,
		f.OwnerID, f.ObjectID, f.ObjectName, f.BucketName,
	).Scan(&f.ID, &f.UploadedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("insert file: %w", err)
	}
	return f.ID, nil
}

// FindByObjectID fetches the metadata row for an externally visible object id.
func (r *PgRepository) FindByObjectID(ctx context.Context, objectID string) (*File, error) {
	f := &File{}
	err := r.db.QueryRow(ctx,
		`SELECT id, owner_id, object_id, object_name, bucket_name, uploaded_at
		 FROM files WHERE object_id = $1`,
		objectID,
	).Scan(&f.ID, &f.OwnerID, &f.ObjectID, &f.ObjectName, &f.BucketName, &f.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find file by object id: %w", err)
	}
	return f, nil
}

// Delete removes the metadata row. Deleting an already-deleted row is
// reported as ErrNotFound so concurrent deletes cannot both report success.
func (r *PgRepository) Delete(ctx context.Context, f *File) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, f.ID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation checks whether an error is a PostgreSQL unique_violation (code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
