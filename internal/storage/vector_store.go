// Package storage provides vector store implementation with pgvector.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChunkVector is one embedded text segment of a document, keyed by
// (document_id, chunk_index).
type ChunkVector struct {
	DocumentID uuid.UUID `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkMatch is a query result with its normalized similarity score.
type ChunkMatch struct {
	DocumentID uuid.UUID `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Similarity float64   `json:"similarity"`
}

// VectorStore stores chunk embeddings and answers nearest-neighbor queries.
//
// Upsert is idempotent per (document_id, chunk_index) with last-write-wins
// semantics. Query returns up to k matches ordered by descending similarity,
// each with similarity >= minSimilarity; similarity uses cosine distance
// normalized to [0,1]. Only chunks of documents in indexed status are
// visible to Query.
type VectorStore interface {
	Upsert(ctx context.Context, chunk ChunkVector) error
	UpsertBatch(ctx context.Context, chunks []ChunkVector) error
	Query(ctx context.Context, embedding []float32, k int, minSimilarity float64) ([]ChunkMatch, error)
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
	Health(ctx context.Context) error
}

// DocumentPublisher is implemented by vector stores that need an explicit
// visibility flip when a document reaches indexed status. PgVectorStore
// derives visibility from the documents table and does not implement it.
type DocumentPublisher interface {
	PublishDocument(documentID uuid.UUID)
}

// PgVectorStore implements VectorStore using PostgreSQL with pgvector.
type PgVectorStore struct {
	db     *PostgresDB
	logger *slog.Logger
}

// NewPgVectorStore creates a new PgVectorStore instance.
func NewPgVectorStore(db *PostgresDB, logger *slog.Logger) *PgVectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgVectorStore{
		db:     db,
		logger: logger.With("component", "vector_store"),
	}
}

// Health checks database connectivity.
func (vs *PgVectorStore) Health(ctx context.Context) error {
	return vs.db.PingContext(ctx)
}

const upsertChunkSQL = `
	INSERT INTO document_chunks (document_id, chunk_index, content, embedding, created_at)
	VALUES ($1, $2, $3, $4::vector, NOW())
	ON CONFLICT (document_id, chunk_index) DO UPDATE SET
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		created_at = EXCLUDED.created_at
`

// Upsert inserts or replaces a single chunk vector.
func (vs *PgVectorStore) Upsert(ctx context.Context, chunk ChunkVector) error {
	start := time.Now()
	defer func() {
		vs.logger.Debug("upsert completed",
			"document_id", chunk.DocumentID,
			"chunk_index", chunk.ChunkIndex,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	_, err := vs.db.ExecContext(ctx, upsertChunkSQL,
		chunk.DocumentID,
		chunk.ChunkIndex,
		chunk.Content,
		embeddingToString(chunk.Embedding),
	)
	if err != nil {
		vs.logger.Error("failed to upsert chunk",
			"document_id", chunk.DocumentID,
			"chunk_index", chunk.ChunkIndex,
			"error", err,
		)
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}

	return nil
}

// UpsertBatch inserts or replaces multiple chunk vectors in one transaction.
func (vs *PgVectorStore) UpsertBatch(ctx context.Context, chunks []ChunkVector) error {
	if len(chunks) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		vs.logger.Info("batch upsert completed",
			"count", len(chunks),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	return vs.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertChunkSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i, chunk := range chunks {
			_, err := stmt.ExecContext(ctx,
				chunk.DocumentID,
				chunk.ChunkIndex,
				chunk.Content,
				embeddingToString(chunk.Embedding),
			)
			if err != nil {
				return fmt.Errorf("failed to upsert chunk %d: %w", i, err)
			}
		}

		return nil
	})
}

// Query performs cosine similarity search over chunks of indexed documents.
func (vs *PgVectorStore) Query(ctx context.Context, embedding []float32, k int, minSimilarity float64) ([]ChunkMatch, error) {
	start := time.Now()
	defer func() {
		vs.logger.Debug("query completed",
			"top_k", k,
			"min_similarity", minSimilarity,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	if k <= 0 {
		k = 10
	}

	// similarity = 1 - cosine distance; only indexed documents are visible
	query := `
		SELECT
			c.document_id,
			c.chunk_index,
			c.content,
			1 - (c.embedding <=> $1::vector) AS similarity
		FROM document_chunks c
		JOIN documents d ON c.document_id = d.id
		WHERE d.status = 'indexed'
		  AND c.embedding IS NOT NULL
		  AND 1 - (c.embedding <=> $1::vector) >= $2
		ORDER BY c.embedding <=> $1::vector
		LIMIT $3
	`

	rows, err := vs.db.QueryContext(ctx, query, embeddingToString(embedding), minSimilarity, k)
	if err != nil {
		vs.logger.Error("vector query failed", "error", err)
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	defer rows.Close()

	var results []ChunkMatch
	for rows.Next() {
		var m ChunkMatch
		if err := rows.Scan(&m.DocumentID, &m.ChunkIndex, &m.Content, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan chunk match: %w", err)
		}
		m.Similarity = ClampSimilarity(m.Similarity)
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// DeleteByDocument removes all chunks for a document.
func (vs *PgVectorStore) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	result, err := vs.db.ExecContext(ctx, "DELETE FROM document_chunks WHERE document_id = $1", documentID)
	if err != nil {
		vs.logger.Error("failed to delete chunks by document", "document_id", documentID, "error", err)
		return fmt.Errorf("failed to delete chunks by document: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	vs.logger.Info("deleted chunks for document",
		"document_id", documentID,
		"count", rowsAffected,
	)

	return nil
}

// embeddingToString converts a float32 slice to pgvector string format.
func embeddingToString(embedding []float32) string {
	if len(embedding) == 0 {
		return ""
	}

	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
