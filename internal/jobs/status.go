package jobs

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/docstack-ai/docstack/internal/processor"
)

// SubjectStatusPrefix is the subject root for processing status events.
// Status events travel over core NATS, not JetStream: they are fan-out
// notifications that every API process must see, and the work-queue stream
// would hand each one to a single consumer instead.
const SubjectStatusPrefix = "processing.status"

// StatusSubject returns the per-document status subject.
func StatusSubject(id uuid.UUID) string {
	return SubjectStatusPrefix + "." + id.String()
}

// StatusBroadcaster publishes status events for other processes to observe.
type StatusBroadcaster interface {
	PublishStatus(event processor.StatusEvent) error
}

// PublishStatus broadcasts a status event over core NATS.
func (c *NATSClient) PublishStatus(event processor.StatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nats.ErrConnectionClosed
	}
	if err := conn.Publish(StatusSubject(event.ProcessingID), data); err != nil {
		return fmt.Errorf("failed to publish status event: %w", err)
	}
	return nil
}

// SubscribeStatus feeds every broadcast status event into the given sink,
// regardless of which process emitted it.
func (c *NATSClient) SubscribeStatus(sink processor.EventSink) (*nats.Subscription, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nil, nats.ErrConnectionClosed
	}
	sub, err := conn.Subscribe(SubjectStatusPrefix+".*", statusHandler(sink, c.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to status events: %w", err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.logger.Info("subscribed to status events", "subject", SubjectStatusPrefix+".*")
	return sub, nil
}

func statusHandler(sink processor.EventSink, logger *slog.Logger) func(*nats.Msg) {
	return func(msg *nats.Msg) {
		var event processor.StatusEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Warn("dropping malformed status event", "subject", msg.Subject, "error", err)
			return
		}
		sink.Publish(event)
	}
}

// StatusRelay implements processor.EventSink. Every event is applied to the
// local tracker and broadcast over NATS, so an API process answering status
// queries sees the stages a worker in another process went through.
type StatusRelay struct {
	local     processor.EventSink
	broadcast StatusBroadcaster
	logger    *slog.Logger
}

// NewStatusRelay creates a relay over a local sink and a broadcaster.
func NewStatusRelay(local processor.EventSink, broadcast StatusBroadcaster, logger *slog.Logger) *StatusRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusRelay{
		local:     local,
		broadcast: broadcast,
		logger:    logger.With("component", "status_relay"),
	}
}

// Publish applies the event locally, then broadcasts it. A broadcast failure
// is logged and does not interrupt the processing pipeline.
func (r *StatusRelay) Publish(event processor.StatusEvent) {
	if r.local != nil {
		r.local.Publish(event)
	}
	if err := r.broadcast.PublishStatus(event); err != nil {
		r.logger.Warn("failed to broadcast status event",
			"processing_id", event.ProcessingID, "stage", event.Stage, "error", err)
	}
}
