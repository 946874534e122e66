package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/docstack-ai/docstack/internal/extract"
	"github.com/docstack-ai/docstack/internal/jobs"
	"github.com/docstack-ai/docstack/internal/processor"
	"github.com/docstack-ai/docstack/internal/quota"
	"github.com/docstack-ai/docstack/internal/storage"
)

// MockUploader implements Uploader.
type MockUploader struct {
	doc       *storage.Document
	err       error
	lastType  string
	callCount int
}

func (m *MockUploader) AcceptUpload(ctx context.Context, userID uuid.UUID, fileName, fileType string, data []byte) (*storage.Document, error) {
	m.callCount++
	m.lastType = fileType
	return m.doc, m.err
}

// MockJobQueue implements JobQueue.
type MockJobQueue struct {
	processJobs []jobs.ProcessDocumentJob
	retryJobs   []jobs.RetryDocumentJob
	publishErr  error
}

func (m *MockJobQueue) PublishProcessDocument(ctx context.Context, job jobs.ProcessDocumentJob) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.processJobs = append(m.processJobs, job)
	return nil
}

func (m *MockJobQueue) PublishRetryDocument(ctx context.Context, job jobs.RetryDocumentJob) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.retryJobs = append(m.retryJobs, job)
	return nil
}

// MockDocumentReader implements DocumentReader.
type MockDocumentReader struct {
	docs map[uuid.UUID]*storage.Document
}

func (m *MockDocumentReader) GetByID(ctx context.Context, id uuid.UUID) (*storage.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

func (m *MockDocumentReader) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*storage.Document, error) {
	var out []*storage.Document
	for _, doc := range m.docs {
		if doc.UserID == userID {
			out = append(out, doc)
		}
	}
	return out, nil
}

// MockStatusReader implements StatusReader.
type MockStatusReader struct {
	record processor.StatusRecord
	err    error
}

func (m *MockStatusReader) Get(processingID uuid.UUID) (processor.StatusRecord, error) {
	return m.record, m.err
}

func completedDoc(userID uuid.UUID) *storage.Document {
	return &storage.Document{
		ID:          uuid.New(),
		UserID:      userID,
		FileName:    "handbook.pdf",
		FileType:    "pdf",
		ContentHash: "abc123",
		Status:      storage.StatusCompleted,
	}
}

func TestDocumentService_UploadEnqueuesProcessing(t *testing.T) {
	userID := uuid.New()
	doc := completedDoc(userID)
	uploader := &MockUploader{doc: doc}
	queue := &MockJobQueue{}
	svc := NewDocumentService(uploader, &MockDocumentReader{}, queue, &MockStatusReader{}, nil, nil)

	got, duplicate, err := svc.Upload(context.Background(), userID, "handbook.pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if duplicate {
		t.Error("expected duplicate=false")
	}
	if got.ID != doc.ID {
		t.Error("wrong document returned")
	}
	if uploader.lastType != "pdf" {
		t.Errorf("expected file type pdf, got %q", uploader.lastType)
	}
	if len(queue.processJobs) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(queue.processJobs))
	}
	if queue.processJobs[0].DocumentID != doc.ID.String() {
		t.Error("job targets the wrong document")
	}
}

func TestDocumentService_UploadDuplicate(t *testing.T) {
	userID := uuid.New()
	existing := completedDoc(userID)
	existing.Status = storage.StatusIndexed
	uploader := &MockUploader{doc: existing, err: storage.ErrDuplicateDocument}
	queue := &MockJobQueue{}
	svc := NewDocumentService(uploader, &MockDocumentReader{}, queue, &MockStatusReader{}, nil, nil)

	got, duplicate, err := svc.Upload(context.Background(), userID, "copy.pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !duplicate {
		t.Error("expected duplicate=true")
	}
	if got.ID != existing.ID {
		t.Error("expected the existing document")
	}
	if len(queue.processJobs) != 0 {
		t.Error("duplicates must not be reprocessed")
	}
}

func TestDocumentService_UploadRejectsUnsupportedType(t *testing.T) {
	uploader := &MockUploader{}
	svc := NewDocumentService(uploader, &MockDocumentReader{}, &MockJobQueue{}, &MockStatusReader{}, nil, nil)

	for _, name := range []string{"archive.zip", "image.png", "noextension"} {
		_, _, err := svc.Upload(context.Background(), uuid.New(), name, []byte("data"))
		if !errors.Is(err, extract.ErrUnsupportedType) {
			t.Errorf("expected ErrUnsupportedType for %q, got %v", name, err)
		}
	}
	if uploader.callCount != 0 {
		t.Error("rejected uploads must not reach the pipeline")
	}
}

func TestDocumentService_UploadQuotaExceeded(t *testing.T) {
	uploader := &MockUploader{doc: completedDoc(uuid.New())}
	quotaStore := &MockQuotaStore{err: quota.ErrQuotaExceeded}
	svc := NewDocumentService(uploader, &MockDocumentReader{}, &MockJobQueue{}, &MockStatusReader{}, quotaStore, nil)

	_, _, err := svc.Upload(context.Background(), uuid.New(), "report.pdf", []byte("content"))
	if !errors.Is(err, quota.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if uploader.callCount != 0 {
		t.Error("rejected uploads must not reach the pipeline")
	}
}

func TestDocumentService_UploadConsumesQuota(t *testing.T) {
	userID := uuid.New()
	quotaStore := &MockQuotaStore{remaining: 9}
	queue := &MockJobQueue{}
	svc := NewDocumentService(&MockUploader{doc: completedDoc(userID)}, &MockDocumentReader{}, queue, &MockStatusReader{}, quotaStore, nil)

	_, _, err := svc.Upload(context.Background(), userID, "report.pdf", []byte("content"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if quotaStore.consumed != 1 {
		t.Errorf("expected one quota consumption, got %d", quotaStore.consumed)
	}
}

func TestDocumentService_UploadRejectsEmpty(t *testing.T) {
	svc := NewDocumentService(&MockUploader{}, &MockDocumentReader{}, &MockJobQueue{}, &MockStatusReader{}, nil, nil)

	_, _, err := svc.Upload(context.Background(), uuid.New(), "empty.txt", nil)
	if err == nil {
		t.Fatal("expected error for empty upload")
	}
}

func TestDocumentService_UploadSurvivesEnqueueFailure(t *testing.T) {
	userID := uuid.New()
	doc := completedDoc(userID)
	queue := &MockJobQueue{publishErr: errors.New("nats unavailable")}
	svc := NewDocumentService(&MockUploader{doc: doc}, &MockDocumentReader{}, queue, &MockStatusReader{}, nil, nil)

	got, _, err := svc.Upload(context.Background(), userID, "handbook.pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("upload must succeed even when enqueue fails: %v", err)
	}
	if got == nil {
		t.Fatal("expected the stored document")
	}
}

func TestDocumentService_GetChecksOwnership(t *testing.T) {
	owner := uuid.New()
	doc := completedDoc(owner)
	reader := &MockDocumentReader{docs: map[uuid.UUID]*storage.Document{doc.ID: doc}}
	svc := NewDocumentService(&MockUploader{}, reader, &MockJobQueue{}, &MockStatusReader{}, nil, nil)

	if _, err := svc.Get(context.Background(), owner, doc.ID); err != nil {
		t.Fatalf("Get failed for owner: %v", err)
	}
	if _, err := svc.Get(context.Background(), uuid.New(), doc.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Get(context.Background(), owner, uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDocumentService_RetryOnlyFromFailedStates(t *testing.T) {
	owner := uuid.New()
	doc := completedDoc(owner)
	doc.Status = storage.StatusIndexingFailed
	reader := &MockDocumentReader{docs: map[uuid.UUID]*storage.Document{doc.ID: doc}}
	queue := &MockJobQueue{}
	svc := NewDocumentService(&MockUploader{}, reader, queue, &MockStatusReader{}, nil, nil)

	if err := svc.Retry(context.Background(), owner, doc.ID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if len(queue.retryJobs) != 1 {
		t.Fatalf("expected 1 retry job, got %d", len(queue.retryJobs))
	}

	doc.Status = storage.StatusIndexed
	err := svc.Retry(context.Background(), owner, doc.ID)
	if !errors.Is(err, processor.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if len(queue.retryJobs) != 1 {
		t.Error("no retry job may be enqueued for a non-failed document")
	}
}

func TestDocumentService_Status(t *testing.T) {
	owner := uuid.New()
	doc := completedDoc(owner)
	reader := &MockDocumentReader{docs: map[uuid.UUID]*storage.Document{doc.ID: doc}}
	status := &MockStatusReader{record: processor.StatusRecord{
		ProcessingID: doc.ID,
		Stage:        processor.TrackEmbedding,
		Percent:      30,
	}}
	svc := NewDocumentService(&MockUploader{}, reader, &MockJobQueue{}, status, nil, nil)

	rec, err := svc.Status(context.Background(), owner, doc.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if rec.Stage != processor.TrackEmbedding || rec.Percent != 30 {
		t.Errorf("unexpected record: %+v", rec)
	}

	if _, err := svc.Status(context.Background(), uuid.New(), doc.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestFileTypeOf(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Report.PDF", "pdf"},
		{"notes.md", "md"},
		{"archive.tar.gz", "gz"},
		{"noextension", ""},
		{"trailingdot.", ""},
	}
	for _, tt := range tests {
		if got := fileTypeOf(tt.name); got != tt.want {
			t.Errorf("fileTypeOf(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
