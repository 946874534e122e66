package processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docstack-ai/docstack/internal/chunker"
	"github.com/docstack-ai/docstack/internal/extract"
	"github.com/docstack-ai/docstack/internal/storage"
)

// DocumentStore is the slice of the document repository the processor needs.
type DocumentStore interface {
	Create(ctx context.Context, doc *storage.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Document, error)
	GetByContentHash(ctx context.Context, hash string) (*storage.Document, error)
	Update(ctx context.Context, doc *storage.Document) error
}

// Embedder generates embeddings for chunk batches.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// TextSplitter chunks extracted text.
type TextSplitter interface {
	Split(text string) []chunker.Chunk
}

// Processor owns document state transitions. All transitions for a given
// document are serialized through a per-document lock; documents are
// otherwise processed fully in parallel.
type Processor struct {
	docs      DocumentStore
	vectors   storage.VectorStore
	content   storage.ContentStore
	extractor extract.Extractor
	embedder  Embedder
	splitter  TextSplitter
	events    EventSink
	locks     *keyLock
	logger    *slog.Logger
}

// New creates a new Processor.
func New(
	docs DocumentStore,
	vectors storage.VectorStore,
	content storage.ContentStore,
	extractor extract.Extractor,
	embedder Embedder,
	splitter TextSplitter,
	events EventSink,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		docs:      docs,
		vectors:   vectors,
		content:   content,
		extractor: extractor,
		embedder:  embedder,
		splitter:  splitter,
		events:    events,
		locks:     newKeyLock(),
		logger:    logger.With("component", "processor"),
	}
}

// AcceptUpload deduplicates by content hash, stores the bytes and drives the
// document through the upload stage. Identical bytes resolve to the existing
// document: the caller receives it together with storage.ErrDuplicateDocument
// and no reprocessing happens.
func (p *Processor) AcceptUpload(ctx context.Context, userID uuid.UUID, fileName, fileType string, data []byte) (*storage.Document, error) {
	hash := storage.HashContent(data)

	if existing, err := p.docs.GetByContentHash(ctx, hash); err == nil {
		return existing, storage.ErrDuplicateDocument
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("dedup lookup failed: %w", err)
	}

	doc := &storage.Document{
		ID:          uuid.New(),
		UserID:      userID,
		FileName:    fileName,
		FileSize:    int64(len(data)),
		ContentHash: hash,
		FileType:    fileType,
		Status:      storage.StatusPending,
	}
	if err := p.docs.Create(ctx, doc); err != nil {
		if errors.Is(err, storage.ErrDuplicateDocument) {
			// Lost a race with a concurrent identical upload.
			if existing, lookupErr := p.docs.GetByContentHash(ctx, hash); lookupErr == nil {
				return existing, storage.ErrDuplicateDocument
			}
		}
		return nil, err
	}

	p.emit(doc.ID, TrackQueued, 0, "")

	if err := p.Begin(ctx, doc.ID, StageUpload); err != nil {
		return nil, err
	}

	locator, _, err := p.content.Put(ctx, data, fileName)
	if err != nil {
		p.logger.Error("upload transfer failed", "document_id", doc.ID, "error", err)
		if advErr := p.Advance(ctx, doc.ID, StageResult{Stage: StageUpload, Err: err}); advErr != nil {
			return nil, advErr
		}
		return p.docs.GetByID(ctx, doc.ID)
	}

	// Begin changed the stored status; reload before writing the locator so
	// the update does not clobber the running state.
	doc, err = p.docs.GetByID(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	doc.StoragePath = locator
	if err := p.docs.Update(ctx, doc); err != nil {
		return nil, err
	}

	if err := p.Advance(ctx, doc.ID, StageResult{Stage: StageUpload}); err != nil {
		return nil, err
	}

	return p.docs.GetByID(ctx, doc.ID)
}

// Begin moves a document into a stage's running state. It rejects documents
// that are not at the stage's entry state with ErrInvalidTransition, which
// also defends against double-starting a stage. Stage entry resets
// upload_progress to 0 so each stage tracks its own progress.
func (p *Processor) Begin(ctx context.Context, documentID uuid.UUID, stage Stage) error {
	states, ok := transitions[stage]
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}

	unlock := p.locks.lock(documentID)
	defer unlock()

	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	if doc.Status != states.from {
		p.logger.Warn("rejecting stage start",
			"document_id", documentID,
			"stage", stage,
			"status", doc.Status,
		)
		return fmt.Errorf("%w: cannot start %s from %s", ErrInvalidTransition, stage, doc.Status)
	}

	doc.Status = states.running
	doc.UploadProgress = 0
	if err := p.docs.Update(ctx, doc); err != nil {
		return err
	}

	p.logger.Info("stage started", "document_id", documentID, "stage", stage)
	return nil
}

// Advance applies the completion (or failure) of a stage. A result for a
// document that is not currently running that stage is rejected with
// ErrInvalidTransition: exactly one of two concurrent duplicate completions
// wins. Stage failures are recorded on the document's error_message and the
// document moves to the stage-specific failure state; there is no automatic
// retry.
func (p *Processor) Advance(ctx context.Context, documentID uuid.UUID, result StageResult) error {
	if err := result.validate(); err != nil {
		return err
	}
	states := transitions[result.Stage]

	unlock := p.locks.lock(documentID)
	defer unlock()

	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	if doc.Status != states.running {
		p.logger.Warn("rejecting stage completion",
			"document_id", documentID,
			"stage", result.Stage,
			"status", doc.Status,
		)
		return fmt.Errorf("%w: %s completion arrived in state %s", ErrInvalidTransition, result.Stage, doc.Status)
	}

	if result.Err != nil {
		doc.Status = states.failed
		doc.ErrorMessage = sql.NullString{String: result.Err.Error(), Valid: true}
		if err := p.docs.Update(ctx, doc); err != nil {
			return err
		}
		p.emit(documentID, TrackError, doc.UploadProgress, result.Err.Error())
		p.logger.Error("stage failed",
			"document_id", documentID,
			"stage", result.Stage,
			"error", result.Err,
		)
		return nil
	}

	doc.Status = states.completed
	doc.UploadProgress = 100
	doc.ErrorMessage = sql.NullString{}

	switch result.Stage {
	case StageConversion:
		doc.ContentText = sql.NullString{String: result.Text, Valid: true}
		doc.ContentExtracted = true
	case StageIndexing:
		doc.ChunksCount = result.ChunksCount
		doc.VectorsCount = result.VectorsCount
		doc.VectorIndexed = true
	}

	if err := p.docs.Update(ctx, doc); err != nil {
		return err
	}

	if result.Stage == StageIndexing {
		// Stores without a status join need the visibility flip here,
		// after the document row says indexed.
		if pub, ok := p.vectors.(storage.DocumentPublisher); ok {
			pub.PublishDocument(documentID)
		}
		p.emit(documentID, TrackDone, 100, "")
	}

	p.logger.Info("stage completed", "document_id", documentID, "stage", result.Stage)
	return nil
}

// RunConversion runs the extraction stage for a document in completed
// status. Extraction failures are recorded on the document, not returned;
// the error return covers infrastructure problems and illegal transitions.
func (p *Processor) RunConversion(ctx context.Context, documentID uuid.UUID) error {
	if err := p.Begin(ctx, documentID, StageConversion); err != nil {
		return err
	}

	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	p.emit(documentID, TrackExtracting, 10, "")

	data, err := p.content.Get(ctx, doc.StoragePath)
	if err != nil {
		return p.Advance(ctx, documentID, StageResult{
			Stage: StageConversion,
			Err:   fmt.Errorf("%w: %v", ErrExtractionFailed, err),
		})
	}

	text, err := p.extractor.Extract(ctx, data, doc.FileType)
	if err != nil {
		return p.Advance(ctx, documentID, StageResult{
			Stage: StageConversion,
			Err:   fmt.Errorf("%w: %v", ErrExtractionFailed, err),
		})
	}

	p.emit(documentID, TrackExtracting, 90, "")

	return p.Advance(ctx, documentID, StageResult{Stage: StageConversion, Text: text})
}

// RunIndexing chunks, embeds and indexes a document in conversion_completed
// status. The document only flips to indexed after every chunk vector is
// durably upserted; on failure all written vectors are deleted so no partial
// chunks stay visible. Cancellation restores the pre-indexing state.
func (p *Processor) RunIndexing(ctx context.Context, documentID uuid.UUID) error {
	if err := p.Begin(ctx, documentID, StageIndexing); err != nil {
		return err
	}

	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	p.emit(documentID, TrackConverting, 10, "")

	chunks := p.splitter.Split(doc.ContentText.String)
	if len(chunks) == 0 {
		return p.Advance(ctx, documentID, StageResult{
			Stage: StageIndexing,
			Err:   fmt.Errorf("%w: document has no indexable content", ErrIndexingFailed),
		})
	}

	p.emit(documentID, TrackEmbedding, 30, "")

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancelIndexing(documentID)
		}
		return p.failIndexing(ctx, documentID, err)
	}
	if len(embeddings) != len(chunks) {
		return p.failIndexing(ctx, documentID,
			fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(chunks)))
	}

	p.emit(documentID, TrackIndexing, 60, "")

	now := time.Now()
	vectors := make([]storage.ChunkVector, len(chunks))
	for i, c := range chunks {
		vectors[i] = storage.ChunkVector{
			DocumentID: documentID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Embedding:  embeddings[i],
			CreatedAt:  now,
		}
	}

	if err := p.vectors.UpsertBatch(ctx, vectors); err != nil {
		if ctx.Err() != nil {
			return p.cancelIndexing(documentID)
		}
		return p.failIndexing(ctx, documentID, err)
	}

	if err := ctx.Err(); err != nil {
		return p.cancelIndexing(documentID)
	}

	return p.Advance(ctx, documentID, StageResult{
		Stage:        StageIndexing,
		ChunksCount:  len(chunks),
		VectorsCount: len(vectors),
	})
}

// Process runs conversion and, when it succeeds, indexing.
func (p *Processor) Process(ctx context.Context, documentID uuid.UUID) error {
	if err := p.RunConversion(ctx, documentID); err != nil {
		return err
	}

	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != storage.StatusConversionCompleted {
		return nil
	}

	return p.RunIndexing(ctx, documentID)
}

// Retry resets a failed document to the start of its failed stage. It is
// the explicit external retry operation; documents in any other state are
// rejected with ErrInvalidTransition.
func (p *Processor) Retry(ctx context.Context, documentID uuid.UUID) error {
	unlock := p.locks.lock(documentID)
	defer unlock()

	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	reset, ok := retryResets[doc.Status]
	if !ok {
		return fmt.Errorf("%w: cannot retry document in state %s", ErrInvalidTransition, doc.Status)
	}

	doc.Status = reset
	doc.UploadProgress = 0
	doc.ErrorMessage = sql.NullString{}
	if err := p.docs.Update(ctx, doc); err != nil {
		return err
	}

	p.emit(documentID, TrackQueued, 0, "")
	p.logger.Info("document reset for retry", "document_id", documentID, "status", reset)
	return nil
}

// failIndexing rolls back any written vectors and records the failure.
func (p *Processor) failIndexing(ctx context.Context, documentID uuid.UUID, cause error) error {
	if err := p.vectors.DeleteByDocument(ctx, documentID); err != nil {
		p.logger.Error("failed to roll back vectors", "document_id", documentID, "error", err)
	}
	return p.Advance(ctx, documentID, StageResult{
		Stage: StageIndexing,
		Err:   fmt.Errorf("%w: %v", ErrIndexingFailed, cause),
	})
}

// cancelIndexing rolls back vectors and restores the pre-indexing state.
// Runs on a fresh context because the job's context is already cancelled.
func (p *Processor) cancelIndexing(documentID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.vectors.DeleteByDocument(ctx, documentID); err != nil {
		p.logger.Error("failed to roll back vectors on cancel", "document_id", documentID, "error", err)
	}

	unlock := p.locks.lock(documentID)
	defer unlock()

	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != storage.StatusIndexing {
		return nil
	}

	doc.Status = storage.StatusConversionCompleted
	doc.UploadProgress = 0
	if err := p.docs.Update(ctx, doc); err != nil {
		return err
	}

	p.emit(documentID, TrackQueued, 0, "")
	p.logger.Info("indexing cancelled, document restored", "document_id", documentID)
	return nil
}

func (p *Processor) emit(id uuid.UUID, stage TrackerStage, percent int, errMsg string) {
	if p.events == nil {
		return
	}
	p.events.Publish(StatusEvent{
		ProcessingID: id,
		Stage:        stage,
		Percent:      percent,
		Error:        errMsg,
		Timestamp:    time.Now(),
	})
}
