// Package jobs provides the asynchronous document processing pipeline on
// NATS JetStream: a durable stream for processing jobs and a worker pool
// that drains it.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Stream names for JetStream.
const (
	StreamProcessing = "PROCESSING"
)

// Subject patterns for job routing.
const (
	SubjectDocumentProcess = "processing.document.process"
	SubjectDocumentRetry   = "processing.document.retry"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL            string
	ClientName     string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns a sensible default configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		ClientName:     "docstack",
		MaxReconnects:  -1, // Infinite reconnects
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// NATSClient wraps the NATS connection and JetStream context.
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config NATSConfig
	logger *slog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription
}

// NewNATSClient creates a new NATS client with JetStream support.
func NewNATSClient(cfg NATSConfig, logger *slog.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := &NATSClient{
		config: cfg,
		logger: logger.With("component", "nats"),
		subs:   make([]*nats.Subscription, 0),
	}

	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *NATSClient) connect() error {
	opts := []nats.Option{
		nats.Name(c.config.ClientName),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.Timeout(c.config.ConnectTimeout),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			c.logger.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(conn *nats.Conn, sub *nats.Subscription, err error) {
			c.logger.Error("NATS error", "error", err, "subject", sub.Subject)
		}),
	}

	conn, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.logger.Info("connected to NATS", "url", c.config.URL)
	return nil
}

// SetupStreams creates or updates the processing stream.
func (c *NATSClient) SetupStreams(ctx context.Context) error {
	// Only job subjects belong to the work-queue stream. Status events on
	// processing.status.* are core NATS fan-out and must stay outside it.
	cfg := nats.StreamConfig{
		Name:        StreamProcessing,
		Description: "Document processing jobs",
		Subjects:    []string{"processing.document.>"},
		Storage:     nats.FileStorage,
		Retention:   nats.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     -1,
		MaxBytes:    -1,
		Replicas:    1,
		Discard:     nats.DiscardOld,
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	_, err := js.StreamInfo(cfg.Name)
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
		}
		if _, err := js.AddStream(&cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		c.logger.Info("created stream", "stream", cfg.Name)
		return nil
	}

	if _, err := js.UpdateStream(&cfg); err != nil {
		c.logger.Warn("failed to update stream", "stream", cfg.Name, "error", err)
	}
	return nil
}

// Publish publishes an event to a subject.
func (c *NATSClient) Publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	if _, err := js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	c.logger.Debug("published event", "subject", subject, "size", len(data))
	return nil
}

// QueueSubscribe creates a queue subscription for load balancing.
func (c *NATSClient) QueueSubscribe(
	subject string,
	queue string,
	handler func(*nats.Msg),
	opts ...nats.SubOpt,
) (*nats.Subscription, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	sub, err := js.QueueSubscribe(subject, queue, handler, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to queue subscribe to %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.logger.Info("queue subscribed to subject", "subject", subject, "queue", queue)
	return sub, nil
}

// JetStream returns the underlying JetStream context.
func (c *NATSClient) JetStream() nats.JetStreamContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.js
}

// IsConnected returns true if connected to NATS.
func (c *NATSClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Drain gracefully drains all subscriptions.
func (c *NATSClient) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}

	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			return fmt.Errorf("failed to drain connection: %w", err)
		}
	}

	c.logger.Info("drained all subscriptions")
	return nil
}

// Close closes the NATS connection.
func (c *NATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.js = nil
	}

	c.logger.Info("closed NATS connection")
	return nil
}

// ProcessDocumentJob asks a worker to run conversion and indexing for an
// uploaded document.
type ProcessDocumentJob struct {
	JobID      string    `json:"job_id"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewProcessDocumentJob creates a job with a generated ID.
func NewProcessDocumentJob(documentID, userID uuid.UUID) ProcessDocumentJob {
	return ProcessDocumentJob{
		JobID:      uuid.New().String(),
		DocumentID: documentID.String(),
		UserID:     userID.String(),
		EnqueuedAt: time.Now().UTC(),
	}
}

// Validate checks if the job has required fields.
func (j *ProcessDocumentJob) Validate() error {
	if j.JobID == "" {
		return errors.New("job_id is required")
	}
	if _, err := uuid.Parse(j.DocumentID); err != nil {
		return fmt.Errorf("invalid document_id: %w", err)
	}
	return nil
}

// RetryDocumentJob asks a worker to reset a failed document and rerun its
// failed stage.
type RetryDocumentJob struct {
	JobID      string    `json:"job_id"`
	DocumentID string    `json:"document_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewRetryDocumentJob creates a retry job with a generated ID.
func NewRetryDocumentJob(documentID uuid.UUID) RetryDocumentJob {
	return RetryDocumentJob{
		JobID:      uuid.New().String(),
		DocumentID: documentID.String(),
		EnqueuedAt: time.Now().UTC(),
	}
}

// Validate checks if the job has required fields.
func (j *RetryDocumentJob) Validate() error {
	if j.JobID == "" {
		return errors.New("job_id is required")
	}
	if _, err := uuid.Parse(j.DocumentID); err != nil {
		return fmt.Errorf("invalid document_id: %w", err)
	}
	return nil
}

// PublishProcessDocument enqueues a processing job.
func (c *NATSClient) PublishProcessDocument(ctx context.Context, job ProcessDocumentJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	return c.Publish(ctx, SubjectDocumentProcess, job)
}

// PublishRetryDocument enqueues a retry job.
func (c *NATSClient) PublishRetryDocument(ctx context.Context, job RetryDocumentJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	return c.Publish(ctx, SubjectDocumentRetry, job)
}
