package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docstack-ai/docstack/internal/api/middleware"
	"github.com/docstack-ai/docstack/internal/chat"
	"github.com/docstack-ai/docstack/internal/extract"
	"github.com/docstack-ai/docstack/internal/processor"
	"github.com/docstack-ai/docstack/internal/quota"
	"github.com/docstack-ai/docstack/internal/storage"
)

// maxUploadBytes caps uploads at 50 MiB.
const maxUploadBytes = 50 << 20

// UploadResponse is returned for accepted and deduplicated uploads.
type UploadResponse struct {
	Document  *storage.Document `json:"document"`
	Duplicate bool              `json:"duplicate"`
}

// UploadDocument handles POST /documents as a multipart upload.
func UploadDocument(svc DocumentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			RespondError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "Upload too large")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			RespondBadRequest(w, "Missing file field")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			RespondBadRequest(w, "Failed to read upload")
			return
		}

		doc, duplicate, err := svc.Upload(r.Context(), userID, header.Filename, data)
		if err != nil {
			if errors.Is(err, extract.ErrUnsupportedType) {
				RespondError(w, http.StatusUnsupportedMediaType, ErrCodeUnsupportedMedia,
					"Only pdf, txt and md uploads are supported")
				return
			}
			if errors.Is(err, quota.ErrQuotaExceeded) {
				RespondError(w, http.StatusTooManyRequests, ErrCodeQuotaExceeded,
					"Daily upload quota exceeded")
				return
			}
			logger.Error("upload failed", "user_id", userID, "error", err)
			RespondInternalError(w, "")
			return
		}

		status := http.StatusCreated
		if duplicate {
			status = http.StatusOK
		}
		RespondJSON(w, status, UploadResponse{Document: doc, Duplicate: duplicate})
	}
}

// ListDocuments handles GET /documents.
func ListDocuments(svc DocumentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		limit, offset := pagination(r)

		docs, err := svc.List(r.Context(), userID, limit, offset)
		if err != nil {
			logger.Error("failed to list documents", "user_id", userID, "error", err)
			RespondInternalError(w, "")
			return
		}
		RespondSuccess(w, docs)
	}
}

// GetDocument handles GET /documents/{id}.
func GetDocument(svc DocumentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		documentID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondBadRequest(w, "Invalid document ID")
			return
		}

		doc, err := svc.Get(r.Context(), userID, documentID)
		if err != nil {
			respondDocumentError(w, logger, err)
			return
		}
		RespondSuccess(w, doc)
	}
}

// RetryDocument handles POST /documents/{id}/retry.
func RetryDocument(svc DocumentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		documentID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondBadRequest(w, "Invalid document ID")
			return
		}

		if err := svc.Retry(r.Context(), userID, documentID); err != nil {
			if errors.Is(err, processor.ErrInvalidTransition) {
				RespondConflict(w, "Document is not in a retryable state")
				return
			}
			respondDocumentError(w, logger, err)
			return
		}
		RespondJSON(w, http.StatusAccepted, SuccessResponse{Success: true})
	}
}

// GetProcessingStatus handles GET /documents/{id}/status.
func GetProcessingStatus(svc DocumentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())

		documentID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondBadRequest(w, "Invalid document ID")
			return
		}

		record, err := svc.Status(r.Context(), userID, documentID)
		if err != nil {
			if errors.Is(err, processor.ErrStatusNotFound) {
				RespondNotFound(w, "No processing status for this document")
				return
			}
			respondDocumentError(w, logger, err)
			return
		}
		RespondSuccess(w, record)
	}
}

func respondDocumentError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		RespondNotFound(w, "Document not found")
	case errors.Is(err, chat.ErrForbidden):
		RespondForbidden(w, "")
	default:
		logger.Error("document request failed", "error", err)
		RespondInternalError(w, "")
	}
}

// pagination extracts limit/offset query parameters.
func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
