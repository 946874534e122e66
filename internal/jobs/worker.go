package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/docstack-ai/docstack/internal/processor"
	"github.com/docstack-ai/docstack/internal/storage"
)

// WorkerPoolConfig holds configuration for the worker pool.
type WorkerPoolConfig struct {
	ProcessWorkers int
	AckWait        time.Duration
	MaxDeliver     int
}

// DefaultWorkerPoolConfig returns sensible defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		ProcessWorkers: 4,
		AckWait:        5 * time.Minute,
		MaxDeliver:     4, // Original + 3 redeliveries
	}
}

// Pipeline is the processing surface the workers drive. *processor.Processor
// satisfies it.
type Pipeline interface {
	Process(ctx context.Context, documentID uuid.UUID) error
	Retry(ctx context.Context, documentID uuid.UUID) error
}

// WorkerPool consumes processing jobs from JetStream. Jobs for distinct
// documents run in parallel across workers; the processor's per-document
// lock keeps transitions for the same document serialized.
type WorkerPool struct {
	nats     *NATSClient
	config   WorkerPoolConfig
	logger   *slog.Logger
	pipeline Pipeline
	mu       sync.Mutex
	subs     []*nats.Subscription
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	metrics  *WorkerMetrics
}

// WorkerMetrics holds counters for the worker pool.
type WorkerMetrics struct {
	JobsProcessed   atomic.Int64
	JobsFailed      atomic.Int64
	JobsRetried     atomic.Int64
	CurrentActive   atomic.Int64
	TotalLatencyMs  atomic.Int64
	LastProcessedAt atomic.Value // time.Time
}

// NewWorkerMetrics creates a new WorkerMetrics instance.
func NewWorkerMetrics() *WorkerMetrics {
	m := &WorkerMetrics{}
	m.LastProcessedAt.Store(time.Time{})
	return m
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(natsClient *NATSClient, cfg WorkerPoolConfig, pipeline Pipeline, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}

	return &WorkerPool{
		nats:     natsClient,
		config:   cfg,
		logger:   logger.With("component", "worker_pool"),
		pipeline: pipeline,
		subs:     make([]*nats.Subscription, 0),
		metrics:  NewWorkerMetrics(),
	}
}

// Start subscribes the workers.
func (p *WorkerPool) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("starting worker pool", "process_workers", p.config.ProcessWorkers)

	for i := 0; i < p.config.ProcessWorkers; i++ {
		workerLogger := p.logger.With("worker_id", fmt.Sprintf("process-%d", i))
		p.wg.Add(1)
		go p.runProcessWorker(ctx, workerLogger)
	}

	p.wg.Add(1)
	go p.runRetryWorker(ctx, p.logger.With("worker_id", "retry-0"))

	return nil
}

// Stop gracefully stops all workers.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.logger.Info("stopping worker pool")

	if p.cancel != nil {
		p.cancel()
	}

	p.mu.Lock()
	subs := p.subs
	p.mu.Unlock()
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			p.logger.Warn("failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out")
		return ctx.Err()
	}

	return nil
}

func (p *WorkerPool) runProcessWorker(ctx context.Context, logger *slog.Logger) {
	defer p.wg.Done()

	logger.Info("starting process worker")

	sub, err := p.nats.QueueSubscribe(
		SubjectDocumentProcess,
		"process-workers",
		func(msg *nats.Msg) {
			p.handleProcessDocument(ctx, logger, msg)
		},
		nats.Durable("process-worker"),
		nats.ManualAck(),
		nats.AckWait(p.config.AckWait),
		nats.MaxDeliver(p.config.MaxDeliver),
	)
	if err != nil {
		logger.Error("failed to subscribe", "error", err)
		return
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	<-ctx.Done()
	logger.Info("process worker stopped")
}

func (p *WorkerPool) runRetryWorker(ctx context.Context, logger *slog.Logger) {
	defer p.wg.Done()

	logger.Info("starting retry worker")

	sub, err := p.nats.QueueSubscribe(
		SubjectDocumentRetry,
		"retry-workers",
		func(msg *nats.Msg) {
			p.handleRetryDocument(ctx, logger, msg)
		},
		nats.Durable("retry-worker"),
		nats.ManualAck(),
		nats.AckWait(p.config.AckWait),
		nats.MaxDeliver(p.config.MaxDeliver),
	)
	if err != nil {
		logger.Error("failed to subscribe", "error", err)
		return
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	<-ctx.Done()
	logger.Info("retry worker stopped")
}

func (p *WorkerPool) handleProcessDocument(ctx context.Context, logger *slog.Logger, msg *nats.Msg) {
	start := time.Now()
	p.metrics.CurrentActive.Add(1)
	defer func() {
		p.metrics.CurrentActive.Add(-1)
		p.metrics.TotalLatencyMs.Add(time.Since(start).Milliseconds())
	}()

	var job ProcessDocumentJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logger.Error("failed to unmarshal job", "error", err)
		msg.Term()
		p.metrics.JobsFailed.Add(1)
		return
	}
	if err := job.Validate(); err != nil {
		logger.Error("dropping invalid job", "job_id", job.JobID, "error", err)
		msg.Term()
		p.metrics.JobsFailed.Add(1)
		return
	}

	documentID := uuid.MustParse(job.DocumentID)
	logger.Info("processing document job", "job_id", job.JobID, "document_id", documentID)

	err := p.pipeline.Process(ctx, documentID)
	switch {
	case err == nil:
		msg.Ack()
		p.metrics.JobsProcessed.Add(1)
		p.metrics.LastProcessedAt.Store(time.Now())
		logger.Info("document job done",
			"job_id", job.JobID,
			"document_id", documentID,
			"duration_ms", time.Since(start).Milliseconds(),
		)

	case errors.Is(err, processor.ErrInvalidTransition), errors.Is(err, storage.ErrNotFound):
		// Duplicate delivery or an already-claimed document. Redelivering
		// cannot change the outcome.
		logger.Warn("dropping job for document not in a processable state",
			"job_id", job.JobID,
			"document_id", documentID,
			"error", err,
		)
		msg.Term()
		p.metrics.JobsFailed.Add(1)

	default:
		p.nakOrTerm(logger, msg, job.JobID, err)
	}
}

func (p *WorkerPool) handleRetryDocument(ctx context.Context, logger *slog.Logger, msg *nats.Msg) {
	start := time.Now()
	p.metrics.CurrentActive.Add(1)
	defer func() {
		p.metrics.CurrentActive.Add(-1)
		p.metrics.TotalLatencyMs.Add(time.Since(start).Milliseconds())
	}()

	var job RetryDocumentJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		logger.Error("failed to unmarshal job", "error", err)
		msg.Term()
		p.metrics.JobsFailed.Add(1)
		return
	}
	if err := job.Validate(); err != nil {
		logger.Error("dropping invalid job", "job_id", job.JobID, "error", err)
		msg.Term()
		p.metrics.JobsFailed.Add(1)
		return
	}

	documentID := uuid.MustParse(job.DocumentID)
	logger.Info("retrying document", "job_id", job.JobID, "document_id", documentID)

	if err := p.pipeline.Retry(ctx, documentID); err != nil {
		if errors.Is(err, processor.ErrInvalidTransition) || errors.Is(err, storage.ErrNotFound) {
			logger.Warn("dropping retry for document not in a failed state",
				"job_id", job.JobID,
				"document_id", documentID,
				"error", err,
			)
			msg.Term()
			p.metrics.JobsFailed.Add(1)
			return
		}
		p.nakOrTerm(logger, msg, job.JobID, err)
		return
	}

	if err := p.pipeline.Process(ctx, documentID); err != nil &&
		!errors.Is(err, processor.ErrInvalidTransition) {
		p.nakOrTerm(logger, msg, job.JobID, err)
		return
	}

	msg.Ack()
	p.metrics.JobsProcessed.Add(1)
	p.metrics.LastProcessedAt.Store(time.Now())
	logger.Info("retry job done",
		"job_id", job.JobID,
		"document_id", documentID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// nakOrTerm redelivers a failed job unless its delivery budget is spent.
func (p *WorkerPool) nakOrTerm(logger *slog.Logger, msg *nats.Msg, jobID string, cause error) {
	logger.Error("job failed", "job_id", jobID, "error", cause)

	metadata, _ := msg.Metadata()
	if metadata != nil && int(metadata.NumDelivered) >= p.config.MaxDeliver {
		logger.Warn("max deliveries exceeded, terminating job",
			"job_id", jobID,
			"deliveries", metadata.NumDelivered,
		)
		msg.Term()
		p.metrics.JobsFailed.Add(1)
		return
	}

	msg.Nak()
	p.metrics.JobsRetried.Add(1)
}

// GetMetrics returns current worker pool counters.
func (p *WorkerPool) GetMetrics() map[string]interface{} {
	lastProcessed := p.metrics.LastProcessedAt.Load().(time.Time)

	return map[string]interface{}{
		"jobs_processed":    p.metrics.JobsProcessed.Load(),
		"jobs_failed":       p.metrics.JobsFailed.Load(),
		"jobs_retried":      p.metrics.JobsRetried.Load(),
		"current_active":    p.metrics.CurrentActive.Load(),
		"total_latency_ms":  p.metrics.TotalLatencyMs.Load(),
		"last_processed_at": lastProcessed,
	}
}
