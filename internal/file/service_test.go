package file_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fstorage/service/internal/file"
	"github.com/fstorage/service/internal/policy"
)

const policyYAML = `
avatar:
  max_size_bytes: 5242880
  allowed_extensions: [".jpg", ".png"]
  is_public: true
video:
  max_size_bytes: 524288000
  allowed_extensions: [".mp4"]
  is_public: false
`

type SpyRepository struct {
	mock.Mock
}

func (s *SpyRepository) Insert(ctx context.Context, f *file.File) (string, error) {
	args := s.Called(ctx, f)
	return args.String(0), args.Error(1)
}

func (s *SpyRepository) FindByObjectID(ctx context.Context, objectID string) (*file.File, error) {
	args := s.Called(ctx, objectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*file.File), args.Error(1)
}

func (s *SpyRepository) Delete(ctx context.Context, f *file.File) error {
	args := s.Called(ctx, f)
	return args.Error(0)
}

type SpyStorage struct {
	mock.Mock
}

func (s *SpyStorage) Upload(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	args := s.Called(ctx, bucket, key, reader, size, contentType)
	return args.Error(0)
}

func (s *SpyStorage) PresignedGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	args := s.Called(ctx, bucket, key, ttl)
	return args.String(0), args.Error(1)
}

func (s *SpyStorage) Delete(ctx context.Context, bucket, key string) error {
	args := s.Called(ctx, bucket, key)
	return args.Error(0)
}

func (s *SpyStorage) PublicURL(bucket, key string) string {
	return "http://localhost:9000/" + bucket + "/" + key
}

func newService(t *testing.T) (*file.Service, *SpyRepository, *SpyStorage) {
	t.Helper()
	policies, err := policy.Parse([]byte(policyYAML))
	require.NoError(t, err, "parse test policies")
	repo := new(SpyRepository)
	store := new(SpyStorage)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return file.NewService(repo, store, policies, log), repo, store
}

func TestUpload_ValidationFailures(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		filename string
		size     int64
		wantErr  error
	}{
		{"unknown bucket", "nope", "a.png", 10, file.ErrUnknownBucket},
		{"size exceeded", "avatar", "a.png", 5242881, file.ErrSizeExceeded},
		{"unsupported format", "avatar", "a.gif", 10, file.ErrUnsupportedFormat},
		{"no extension", "avatar", "noext", 10, file.ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, store := newService(t)

			_, err := svc.Upload(context.Background(), "u1", tt.bucket, tt.filename,
				strings.NewReader("x"), tt.size)

			assert.ErrorIs(t, err, tt.wantErr)
			// Fail fast: no backend is touched on a validation failure.
			store.AssertNotCalled(t, "Upload")
			repo.AssertNotCalled(t, "Insert")
		})
	}
}

func TestUpload_PublicBucketReturnsPermanentLink(t *testing.T) {
	svc, repo, store := newService(t)
	ctx := context.Background()

	var storedKey string
	store.On("Upload", ctx, "avatar", mock.Anything, mock.Anything, int64(10), "image/png").
		Run(func(args mock.Arguments) { storedKey = args.String(2) }).
		Return(nil)
	repo.On("Insert", ctx, mock.Anything).Return("row-1", nil)

	result, err := svc.Upload(ctx, "u1", "avatar", "selfie.png", strings.NewReader("0123456789"), 10)

	require.NoError(t, err)
	_, parseErr := uuid.Parse(result.ObjectID)
	assert.NoError(t, parseErr, "object id is a freshly minted uuid")
	require.NotNil(t, result.PermanentLink)
	assert.Contains(t, *result.PermanentLink, "/avatar/")
	assert.True(t, strings.HasSuffix(*result.PermanentLink, ".png"))

	// The storage key is never derived from the client filename.
	assert.Equal(t, result.ObjectID+".png", storedKey)
	assert.NotContains(t, storedKey, "selfie")

	store.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestUpload_PrivateBucketHasNoPermanentLink(t *testing.T) {
	svc, repo, store := newService(t)
	ctx := context.Background()

	store.On("Upload", ctx, "video", mock.Anything, mock.Anything, int64(4), "video/mp4").Return(nil)
	repo.On("Insert", ctx, mock.Anything).Return("row-1", nil)

	result, err := svc.Upload(ctx, "u1", "video", "clip.mp4", strings.NewReader("data"), 4)

	require.NoError(t, err)
	assert.NotEmpty(t, result.ObjectID)
	assert.Nil(t, result.PermanentLink)
}

func TestUpload_BlobWriteFailure(t *testing.T) {
	svc, repo, store := newService(t)
	ctx := context.Background()

	store.On("Upload", ctx, "avatar", mock.Anything, mock.Anything, int64(3), mock.Anything).
		Return(errors.New("connection refused"))

	_, err := svc.Upload(ctx, "u1", "avatar", "a.jpg", strings.NewReader("abc"), 3)

	assert.ErrorIs(t, err, file.ErrUploadFailed)
	// Blob write failed first, so there is nothing to compensate.
	repo.AssertNotCalled(t, "Insert")
	store.AssertNotCalled(t, "Delete")
}

func TestUpload_MetadataFailureCompensatesBlob(t *testing.T) {
	svc, repo, store := newService(t)
	ctx := context.Background()

	var storedKey string
	store.On("Upload", ctx, "avatar", mock.Anything, mock.Anything, int64(3), mock.Anything).
		Run(func(args mock.Arguments) { storedKey = args.String(2) }).
		Return(nil)
	repo.On("Insert", ctx, mock.Anything).Return("", errors.New("insert failed"))
	store.On("Delete", ctx, "avatar", mock.MatchedBy(func(key string) bool { return key == storedKey })).
		Return(nil)

	_, err := svc.Upload(ctx, "u1", "avatar", "a.jpg", strings.NewReader("abc"), 3)

	assert.ErrorIs(t, err, file.ErrUploadFailed)
	store.AssertExpectations(t)
}

func TestUpload_DuplicateInsertCompensatesBlob(t *testing.T) {
	svc, repo, store := newService(t)
	ctx := context.Background()

	store.On("Upload", ctx, "avatar", mock.Anything, mock.Anything, int64(3), mock.Anything).Return(nil)
	repo.On("Insert", ctx, mock.Anything).Return("", file.ErrDuplicate)
	store.On("Delete", ctx, "avatar", mock.Anything).Return(nil)

	_, err := svc.Upload(ctx, "u1", "avatar", "a.jpg", strings.NewReader("abc"), 3)

	// A uniqueness collision is an upload failure like any other insert
	// failure, and it still triggers blob compensation.
	assert.ErrorIs(t, err, file.ErrUploadFailed)
	store.AssertExpectations(t)
}

func TestUpload_CompensationFailureKeepsErrorKind(t *testing.T) {
	svc, repo, store := newService(t)
	ctx := context.Background()

	store.On("Upload", ctx, "avatar", mock.Anything, mock.Anything, int64(3), mock.Anything).Return(nil)
	repo.On("Insert", ctx, mock.Anything).Return("", errors.New("insert failed"))
	store.On("Delete", ctx, "avatar", mock.Anything).Return(errors.New("delete also failed"))

	_, err := svc.Upload(ctx, "u1", "avatar", "a.jpg", strings.NewReader("abc"), 3)

	// The orphaned blob is logged, not surfaced: the caller sees the same
	// error as a clean compensation.
	assert.ErrorIs(t, err, file.ErrUploadFailed)
}

func TestGetLink(t *testing.T) {
	stored := &file.File{
		ID:         "row-1",
		OwnerID:    "u1",
		ObjectID:   "obj-1",
		ObjectName: "obj-1.png",
		BucketName: "avatar",
	}

	t.Run("unknown bucket fails before any backend call", func(t *testing.T) {
		svc, repo, store := newService(t)

		_, err := svc.GetLink(context.Background(), "nope", "obj-1", time.Hour)

		assert.ErrorIs(t, err, file.ErrUnknownBucket)
		repo.AssertNotCalled(t, "FindByObjectID")
		store.AssertNotCalled(t, "PresignedGet")
	})

	t.Run("missing row is not found", func(t *testing.T) {
		svc, repo, store := newService(t)
		repo.On("FindByObjectID", mock.Anything, "obj-1").Return(nil, file.ErrNotFound)

		_, err := svc.GetLink(context.Background(), "avatar", "obj-1", time.Hour)

		assert.ErrorIs(t, err, file.ErrNotFound)
		store.AssertNotCalled(t, "PresignedGet")
	})

	t.Run("presign failure", func(t *testing.T) {
		svc, repo, store := newService(t)
		repo.On("FindByObjectID", mock.Anything, "obj-1").Return(stored, nil)
		store.On("PresignedGet", mock.Anything, "avatar", "obj-1.png", time.Hour).
			Return("", errors.New("store down"))

		_, err := svc.GetLink(context.Background(), "avatar", "obj-1", time.Hour)

		assert.ErrorIs(t, err, file.ErrLinkGenerationFailed)
	})

	t.Run("repeated calls succeed identically without mutation", func(t *testing.T) {
		svc, repo, store := newService(t)
		repo.On("FindByObjectID", mock.Anything, "obj-1").Return(stored, nil)
		store.On("PresignedGet", mock.Anything, "avatar", "obj-1.png", time.Hour).
			Return("https://signed.example/obj-1.png", nil)

		first, err := svc.GetLink(context.Background(), "avatar", "obj-1", time.Hour)
		require.NoError(t, err)
		second, err := svc.GetLink(context.Background(), "avatar", "obj-1", time.Hour)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		repo.AssertNotCalled(t, "Insert")
		repo.AssertNotCalled(t, "Delete")
		store.AssertNotCalled(t, "Delete")
	})
}

func TestDelete(t *testing.T) {
	stored := &file.File{
		ID:         "row-1",
		OwnerID:    "u1",
		ObjectID:   "obj-1",
		ObjectName: "obj-1.png",
		BucketName: "avatar",
	}

	t.Run("unknown bucket fails before any backend call", func(t *testing.T) {
		svc, repo, store := newService(t)

		err := svc.Delete(context.Background(), "u1", "nope", "obj-1")

		assert.ErrorIs(t, err, file.ErrUnknownBucket)
		repo.AssertNotCalled(t, "FindByObjectID")
		repo.AssertNotCalled(t, "Delete")
		store.AssertNotCalled(t, "Delete")
	})

	t.Run("missing row is not found", func(t *testing.T) {
		svc, repo, store := newService(t)
		repo.On("FindByObjectID", mock.Anything, "obj-1").Return(nil, file.ErrNotFound)

		err := svc.Delete(context.Background(), "u1", "avatar", "obj-1")

		assert.ErrorIs(t, err, file.ErrNotFound)
		store.AssertNotCalled(t, "Delete")
	})

	t.Run("metadata delete failure leaves blob untouched", func(t *testing.T) {
		svc, repo, store := newService(t)
		repo.On("FindByObjectID", mock.Anything, "obj-1").Return(stored, nil)
		repo.On("Delete", mock.Anything, stored).Return(errors.New("db down"))

		err := svc.Delete(context.Background(), "u1", "avatar", "obj-1")

		require.Error(t, err)
		assert.NotErrorIs(t, err, file.ErrPartialDelete)
		store.AssertNotCalled(t, "Delete")
	})

	t.Run("blob delete failure is a partial delete", func(t *testing.T) {
		svc, repo, store := newService(t)
		repo.On("FindByObjectID", mock.Anything, "obj-1").Return(stored, nil)
		repo.On("Delete", mock.Anything, stored).Return(nil)
		store.On("Delete", mock.Anything, "avatar", "obj-1.png").Return(errors.New("store down"))

		err := svc.Delete(context.Background(), "u1", "avatar", "obj-1")

		assert.ErrorIs(t, err, file.ErrPartialDelete)
	})

	t.Run("success removes row then blob", func(t *testing.T) {
		svc, repo, store := newService(t)
		repo.On("FindByObjectID", mock.Anything, "obj-1").Return(stored, nil)
		repo.On("Delete", mock.Anything, stored).Return(nil)
		store.On("Delete", mock.Anything, "avatar", "obj-1.png").Return(nil)

		err := svc.Delete(context.Background(), "u1", "avatar", "obj-1")

		require.NoError(t, err)
		repo.AssertExpectations(t)
		store.AssertExpectations(t)
	})
}

// In-memory fakes for end-to-end lifecycle tests. Both backends hold real
// state so the consistency protocol can be observed across calls.

type memRepo struct {
	rows map[string]*file.File
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[string]*file.File{}}
}

func (m *memRepo) Insert(_ context.Context, f *file.File) (string, error) {
	for _, existing := range m.rows {
		if existing.ObjectName == f.ObjectName {
			return "", file.ErrDuplicate
		}
	}
	f.ID = uuid.NewString()
	f.UploadedAt = time.Now()
	m.rows[f.ObjectID] = f
	return f.ID, nil
}

func (m *memRepo) FindByObjectID(_ context.Context, objectID string) (*file.File, error) {
	f, ok := m.rows[objectID]
	if !ok {
		return nil, file.ErrNotFound
	}
	return f, nil
}

func (m *memRepo) Delete(_ context.Context, f *file.File) error {
	if _, ok := m.rows[f.ObjectID]; !ok {
		return file.ErrNotFound
	}
	delete(m.rows, f.ObjectID)
	return nil
}

type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) key(bucket, key string) string { return bucket + "/" + key }

func (m *memStore) Upload(_ context.Context, bucket, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.objects[m.key(bucket, key)] = data
	return nil
}

func (m *memStore) PresignedGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	if _, ok := m.objects[m.key(bucket, key)]; !ok {
		return "", errors.New("no such object")
	}
	return "https://signed.example/" + m.key(bucket, key), nil
}

func (m *memStore) Delete(_ context.Context, bucket, key string) error {
	delete(m.objects, m.key(bucket, key))
	return nil
}

func (m *memStore) PublicURL(bucket, key string) string {
	return "http://localhost:9000/" + bucket + "/" + key
}

func newLifecycleService(t *testing.T) (*file.Service, *memRepo, *memStore) {
	t.Helper()
	policies, err := policy.Parse([]byte(policyYAML))
	require.NoError(t, err)
	repo := newMemRepo()
	store := newMemStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return file.NewService(repo, store, policies, log), repo, store
}

func TestLifecycle_UploadResolveDelete(t *testing.T) {
	svc, repo, store := newLifecycleService(t)
	ctx := context.Background()
	content := []byte("0123456789")

	result, err := svc.Upload(ctx, "u1", "avatar", "pic.png", bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	// Row and blob both exist, and the blob holds the exact input bytes.
	row, err := repo.FindByObjectID(ctx, result.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, content, store.objects["avatar/"+row.ObjectName])

	link, err := svc.GetLink(ctx, "avatar", result.ObjectID, time.Hour)
	require.NoError(t, err)
	assert.Contains(t, link, row.ObjectName)

	require.NoError(t, svc.Delete(ctx, "u1", "avatar", result.ObjectID))

	// Row gone, blob gone, link resolution now reports not found.
	_, err = svc.GetLink(ctx, "avatar", result.ObjectID, time.Hour)
	assert.ErrorIs(t, err, file.ErrNotFound)
	assert.Empty(t, store.objects)
	assert.Empty(t, repo.rows)
}

func TestLifecycle_ConcurrentUploadsNeverCollide(t *testing.T) {
	svc, _, store := newLifecycleService(t)
	ctx := context.Background()

	first, err := svc.Upload(ctx, "u1", "avatar", "same.png", strings.NewReader("a"), 1)
	require.NoError(t, err)
	second, err := svc.Upload(ctx, "u2", "avatar", "same.png", strings.NewReader("b"), 1)
	require.NoError(t, err)

	assert.NotEqual(t, first.ObjectID, second.ObjectID)
	assert.Len(t, store.objects, 2)
}
