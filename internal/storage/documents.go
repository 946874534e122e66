package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DocumentRepo persists documents.
type DocumentRepo struct {
	db     *PostgresDB
	logger *slog.Logger
}

// NewDocumentRepo creates a new DocumentRepo.
func NewDocumentRepo(db *PostgresDB, logger *slog.Logger) *DocumentRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentRepo{
		db:     db,
		logger: logger.With("component", "document_repo"),
	}
}

const documentColumns = `
	id, user_id, file_name, file_size, content_hash, file_type, storage_path,
	status, upload_progress, content_extracted, content_text, chunks_count,
	vectors_count, vector_indexed, index_metadata, error_message, created_at, updated_at
`

// Create inserts a new document. The content_hash column carries a UNIQUE
// constraint; a conflicting insert returns ErrDuplicateDocument.
func (r *DocumentRepo) Create(ctx context.Context, doc *Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	if doc.IndexMetadata == nil {
		doc.IndexMetadata = json.RawMessage("{}")
	}

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (content_hash) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.UserID, doc.FileName, doc.FileSize, doc.ContentHash,
		doc.FileType, doc.StoragePath, doc.Status, doc.UploadProgress,
		doc.ContentExtracted, doc.ContentText, doc.ChunksCount,
		doc.VectorsCount, doc.VectorIndexed, doc.IndexMetadata,
		doc.ErrorMessage, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create document", "document_id", doc.ID, "error", err)
		return fmt.Errorf("failed to create document: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrDuplicateDocument
	}

	return nil
}

// GetByID retrieves a document by ID.
func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByContentHash retrieves a document by its content hash, used for
// deduplicating uploads with identical bytes.
func (r *DocumentRepo) GetByContentHash(ctx context.Context, hash string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE content_hash = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, hash))
}

// ListByUser returns documents owned by a user, newest first.
func (r *DocumentRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Document, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + documentColumns + `
		FROM documents WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := r.scanDoc(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Update persists all mutable document fields.
func (r *DocumentRepo) Update(ctx context.Context, doc *Document) error {
	doc.UpdatedAt = time.Now()

	query := `
		UPDATE documents SET
			status = $2,
			upload_progress = $3,
			storage_path = $4,
			content_extracted = $5,
			content_text = $6,
			chunks_count = $7,
			vectors_count = $8,
			vector_indexed = $9,
			index_metadata = $10,
			error_message = $11,
			updated_at = $12
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Status, doc.UploadProgress, doc.StoragePath, doc.ContentExtracted,
		doc.ContentText, doc.ChunksCount, doc.VectorsCount, doc.VectorIndexed,
		doc.IndexMetadata, doc.ErrorMessage, doc.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to update document", "document_id", doc.ID, "error", err)
		return fmt.Errorf("failed to update document: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateProgress sets upload_progress for a document. Progress within a
// stage is monotonically non-decreasing; resets to 0 happen only on stage
// entry through the processor.
func (r *DocumentRepo) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `
		UPDATE documents
		SET upload_progress = GREATEST(upload_progress, $2), updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, progress); err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DocumentRepo) scanOne(row *sql.Row) (*Document, error) {
	doc, err := r.scanDoc(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepo) scanDoc(row rowScanner) (*Document, error) {
	var doc Document
	err := row.Scan(
		&doc.ID, &doc.UserID, &doc.FileName, &doc.FileSize, &doc.ContentHash,
		&doc.FileType, &doc.StoragePath, &doc.Status, &doc.UploadProgress,
		&doc.ContentExtracted, &doc.ContentText, &doc.ChunksCount,
		&doc.VectorsCount, &doc.VectorIndexed, &doc.IndexMetadata,
		&doc.ErrorMessage, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	return &doc, nil
}
