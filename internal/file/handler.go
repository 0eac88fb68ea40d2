package file

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fstorage/service/internal/response"
)

// Handler holds HTTP handlers for file endpoints.
type Handler struct {
	svc     *Service
	linkTTL time.Duration
}

// NewHandler creates a new file Handler. linkTTL is the default and maximum
// validity of presigned links.
func NewHandler(svc *Service, linkTTL time.Duration) *Handler {
	return &Handler{svc: svc, linkTTL: linkTTL}
}

// Routes mounts the file endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/{ownerID}/{bucketName}/upload", h.Upload)
	r.Get("/{bucketName}/{objectID}/link", h.GetLink)
	r.Delete("/{ownerID}/{bucketName}/{objectID}", h.Delete)
}

// Upload godoc
//
//	@Summary		Upload a file
//	@Description	Validates the file against the bucket policy, stores it, and returns its object id. Public buckets also return a permanent link.
//	@Tags			files
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			ownerID		path		string	true	"Uploading principal"
//	@Param			bucketName	path		string	true	"Target bucket"
//	@Param			file		formData	file	true	"File to upload"
//	@Success		201	{object}	response.Envelope{data=UploadResult}
//	@Failure		400	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/files/{ownerID}/{bucketName}/upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	bucketName := chi.URLParam(r, "bucketName")

	f, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "multipart field 'file' is required")
		return
	}
	defer f.Close()

	result, err := h.svc.Upload(r.Context(), ownerID, bucketName, header.Filename, f, header.Size)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownBucket):
			response.BadRequest(w, "incorrect bucket name")
		case errors.Is(err, ErrSizeExceeded):
			response.BadRequest(w, "file size exceeds the maximum limit")
		case errors.Is(err, ErrUnsupportedFormat):
			response.BadRequest(w, "incorrect file format")
		case errors.Is(err, ErrUploadFailed):
			response.BadRequest(w, "file not uploaded")
		default:
			response.InternalError(w)
		}
		return
	}

	response.Created(w, result)
}

// linkPayload is the response body for GetLink.
type linkPayload struct {
	Link string `json:"link"`
}

// GetLink godoc
//
//	@Summary		Get a download link
//	@Description	Returns a time-limited presigned download link for a stored object.
//	@Tags			files
//	@Produce		json
//	@Param			bucketName	path	string	true	"Bucket name"
//	@Param			objectID	path	string	true	"Object id returned by upload"
//	@Param			ttl			query	int		false	"Link validity in seconds (capped at the configured maximum)"
//	@Success		200	{object}	response.Envelope{data=linkPayload}
//	@Failure		400	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		502	{object}	response.Envelope
//	@Router			/files/{bucketName}/{objectID}/link [get]
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	bucketName := chi.URLParam(r, "bucketName")
	objectID := chi.URLParam(r, "objectID")

	ttl := h.linkTTL
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			response.BadRequest(w, "ttl must be a positive number of seconds")
			return
		}
		if requested := time.Duration(secs) * time.Second; requested < ttl {
			ttl = requested
		}
	}

	link, err := h.svc.GetLink(r.Context(), bucketName, objectID, ttl)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownBucket):
			response.BadRequest(w, "incorrect bucket name")
		case errors.Is(err, ErrNotFound):
			response.NotFound(w, "file not found")
		case errors.Is(err, ErrLinkGenerationFailed):
			response.BadGateway(w, "link generation failed")
		default:
			response.InternalError(w)
		}
		return
	}

	response.OK(w, linkPayload{Link: link})
}

// Delete godoc
//
//	@Summary		Delete a file
//	@Description	Removes the metadata record and the stored object. The owner id is recorded but ownership is not enforced.
//	@Tags			files
//	@Produce		json
//	@Param			ownerID		path	string	true	"Requesting principal"
//	@Param			bucketName	path	string	true	"Bucket name"
//	@Param			objectID	path	string	true	"Object id returned by upload"
//	@Success		200	{object}	response.Envelope
//	@Failure		400	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		502	{object}	response.Envelope
//	@Router			/files/{ownerID}/{bucketName}/{objectID} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	bucketName := chi.URLParam(r, "bucketName")
	objectID := chi.URLParam(r, "objectID")

	if err := h.svc.Delete(r.Context(), ownerID, bucketName, objectID); err != nil {
		switch {
		case errors.Is(err, ErrUnknownBucket):
			response.BadRequest(w, "incorrect bucket name")
		case errors.Is(err, ErrNotFound):
			response.NotFound(w, "file not found")
		case errors.Is(err, ErrPartialDelete):
			response.BadGateway(w, "metadata removed but object deletion failed")
		default:
			response.InternalError(w)
		}
		return
	}

	response.OK(w, nil)
}
