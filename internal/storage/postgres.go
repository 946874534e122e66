// Package storage provides database and object storage access.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// PostgresDB wraps the database connection pool.
type PostgresDB struct {
	*sql.DB
	config PostgresConfig
}

// NewPostgres creates a new PostgreSQL connection pool.
func NewPostgres(cfg PostgresConfig) (*PostgresDB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db, config: cfg}, nil
}

// Close closes the database connection pool.
func (db *PostgresDB) Close() error {
	return db.DB.Close()
}

// Health checks database connectivity.
func (db *PostgresDB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// schemaStatements bootstraps the tables this service needs. Each statement
// is idempotent so EnsureSchema can run on every startup.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		file_name TEXT NOT NULL,
		file_size BIGINT NOT NULL DEFAULT 0,
		content_hash TEXT NOT NULL UNIQUE,
		file_type TEXT NOT NULL DEFAULT '',
		storage_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		upload_progress INT NOT NULL DEFAULT 0,
		content_extracted BOOLEAN NOT NULL DEFAULT FALSE,
		content_text TEXT,
		chunks_count INT NOT NULL DEFAULT 0,
		vectors_count INT NOT NULL DEFAULT 0,
		vector_indexed BOOLEAN NOT NULL DEFAULT FALSE,
		index_metadata JSONB NOT NULL DEFAULT '{}',
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_user_id ON documents (user_id)`,
	`CREATE TABLE IF NOT EXISTS document_chunks (
		document_id UUID NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
		chunk_index INT NOT NULL,
		content TEXT NOT NULL,
		embedding vector(1536),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (document_id, chunk_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding
		ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations (user_id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id UUID PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		response_time_ms INT,
		search_results_count INT,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_conversation
		ON chat_messages (conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS message_sources (
		id UUID PRIMARY KEY,
		message_id UUID NOT NULL REFERENCES chat_messages (id) ON DELETE CASCADE,
		document_id UUID NOT NULL,
		chunk_index INT,
		similarity DOUBLE PRECISION NOT NULL DEFAULT 0,
		content_snippet TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_sources_message ON message_sources (message_id)`,
	`CREATE TABLE IF NOT EXISTS conversation_documents (
		conversation_id UUID NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
		document_id UUID NOT NULL,
		first_referenced_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		reference_count INT NOT NULL DEFAULT 0,
		PRIMARY KEY (conversation_id, document_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_chat_settings (
		user_id UUID PRIMARY KEY,
		max_search_results INT NOT NULL DEFAULT 10,
		similarity_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.7,
		response_style TEXT NOT NULL DEFAULT 'balanced',
		include_sources BOOLEAN NOT NULL DEFAULT TRUE,
		auto_title_conversations BOOLEAN NOT NULL DEFAULT TRUE
	)`,
}

// EnsureSchema creates the pgvector extension and all tables if they do not
// exist yet.
func (db *PostgresDB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}

// WithTx executes a function within a transaction.
func (db *PostgresDB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
