package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/docstack-ai/docstack/internal/extract"
	"github.com/docstack-ai/docstack/internal/jobs"
	"github.com/docstack-ai/docstack/internal/processor"
	"github.com/docstack-ai/docstack/internal/quota"
	"github.com/docstack-ai/docstack/internal/storage"
)

// allowedFileTypes lists the upload formats extraction supports.
var allowedFileTypes = map[string]bool{
	"pdf": true,
	"txt": true,
	"md":  true,
}

// Uploader accepts raw uploads. *processor.Processor satisfies it.
type Uploader interface {
	AcceptUpload(ctx context.Context, userID uuid.UUID, fileName, fileType string, data []byte) (*storage.Document, error)
}

// JobQueue enqueues processing work. *jobs.NATSClient satisfies it.
type JobQueue interface {
	PublishProcessDocument(ctx context.Context, job jobs.ProcessDocumentJob) error
	PublishRetryDocument(ctx context.Context, job jobs.RetryDocumentJob) error
}

// DocumentReader is the read surface over stored documents.
type DocumentReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Document, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*storage.Document, error)
}

// StatusReader exposes live processing status. *processor.StatusTracker
// satisfies it.
type StatusReader interface {
	Get(processingID uuid.UUID) (processor.StatusRecord, error)
}

// DocumentService fronts the document pipeline for the API: uploads, reads,
// retries and status lookups, all ownership-checked.
type DocumentService struct {
	uploader Uploader
	docs     DocumentReader
	queue    JobQueue
	status   StatusReader
	quota    quota.Store
	logger   *slog.Logger
}

// NewDocumentService creates a document service. A nil quota store disables
// the upload allowance.
func NewDocumentService(uploader Uploader, docs DocumentReader, queue JobQueue, status StatusReader, quotaStore quota.Store, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		uploader: uploader,
		docs:     docs,
		queue:    queue,
		status:   status,
		quota:    quotaStore,
		logger:   logger.With("component", "document_service"),
	}
}

// Upload accepts an upload and, when the bytes land successfully, enqueues
// conversion and indexing. Identical content resolves to the existing
// document and reports duplicate=true without reprocessing.
func (s *DocumentService) Upload(ctx context.Context, userID uuid.UUID, fileName string, data []byte) (doc *storage.Document, duplicate bool, err error) {
	fileType := fileTypeOf(fileName)
	if !allowedFileTypes[fileType] {
		return nil, false, fmt.Errorf("%w: %q", extract.ErrUnsupportedType, fileType)
	}
	if len(data) == 0 {
		return nil, false, fmt.Errorf("upload is empty")
	}

	if s.quota != nil {
		if _, err := s.quota.Consume(ctx, userID); err != nil {
			return nil, false, err
		}
	}

	doc, err = s.uploader.AcceptUpload(ctx, userID, fileName, fileType, data)
	if errors.Is(err, storage.ErrDuplicateDocument) {
		s.logger.Info("duplicate upload resolved",
			"document_id", doc.ID,
			"content_hash", doc.ContentHash,
		)
		return doc, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	if doc.Status == storage.StatusCompleted {
		job := jobs.NewProcessDocumentJob(doc.ID, userID)
		if err := s.queue.PublishProcessDocument(ctx, job); err != nil {
			// Upload is durable; processing can be kicked off again with a
			// retry once the queue recovers.
			s.logger.Error("failed to enqueue processing job",
				"document_id", doc.ID,
				"error", err,
			)
		}
	}

	return doc, false, nil
}

// Get loads a document after an ownership check.
func (s *DocumentService) Get(ctx context.Context, userID, documentID uuid.UUID) (*storage.Document, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, ErrForbidden
	}
	return doc, nil
}

// List returns the user's documents, newest first.
func (s *DocumentService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*storage.Document, error) {
	return s.docs.ListByUser(ctx, userID, limit, offset)
}

// Retry enqueues a retry for a document in a failed state.
func (s *DocumentService) Retry(ctx context.Context, userID, documentID uuid.UUID) error {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return err
	}

	switch doc.Status {
	case storage.StatusFailed, storage.StatusConversionFailed, storage.StatusIndexingFailed:
	default:
		return fmt.Errorf("%w: cannot retry document in state %s",
			processor.ErrInvalidTransition, doc.Status)
	}

	return s.queue.PublishRetryDocument(ctx, jobs.NewRetryDocumentJob(documentID))
}

// Status returns the live processing status for a document.
func (s *DocumentService) Status(ctx context.Context, userID, documentID uuid.UUID) (processor.StatusRecord, error) {
	if _, err := s.Get(ctx, userID, documentID); err != nil {
		return processor.StatusRecord{}, err
	}
	return s.status.Get(documentID)
}

// fileTypeOf derives the lowercase extension without the dot.
func fileTypeOf(fileName string) string {
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return ""
	}
	return strings.ToLower(fileName[idx+1:])
}
