package processor

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrStatusNotFound is returned for unknown or evicted processing IDs.
var ErrStatusNotFound = errors.New("processing status not found")

// TrackerStage is the externally visible processing stage.
type TrackerStage string

const (
	TrackQueued     TrackerStage = "queued"
	TrackExtracting TrackerStage = "extracting"
	TrackConverting TrackerStage = "converting"
	TrackEmbedding  TrackerStage = "embedding"
	TrackIndexing   TrackerStage = "indexing"
	TrackDone       TrackerStage = "done"
	TrackError      TrackerStage = "error"
)

// StatusEvent is emitted by the processor on every stage transition.
type StatusEvent struct {
	ProcessingID uuid.UUID    `json:"processing_id"`
	Stage        TrackerStage `json:"stage"`
	Percent      int          `json:"percent"`
	Error        string       `json:"error,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// EventSink consumes status events.
type EventSink interface {
	Publish(event StatusEvent)
}

// StatusRecord is the tracked state of one processing job.
type StatusRecord struct {
	ProcessingID uuid.UUID    `json:"processing_id"`
	Stage        TrackerStage `json:"stage"`
	Percent      int          `json:"percent"`
	Error        string       `json:"error,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (r StatusRecord) terminal() bool {
	return r.Stage == TrackDone || r.Stage == TrackError
}

// StatusTracker maintains processing status queryable by processing ID,
// decoupled from document rows. Records of finished jobs are retained for
// a bounded window and then evicted by a janitor goroutine, so the tracker
// does not grow without bound with job volume.
type StatusTracker struct {
	mu        sync.RWMutex
	records   map[uuid.UUID]StatusRecord
	retention time.Duration
	logger    *slog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewStatusTracker creates a tracker that evicts terminal records after the
// given retention window and starts its janitor.
func NewStatusTracker(retention time.Duration, logger *slog.Logger) *StatusTracker {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 30 * time.Minute
	}

	t := &StatusTracker{
		records:   make(map[uuid.UUID]StatusRecord),
		retention: retention,
		logger:    logger.With("component", "status_tracker"),
		stop:      make(chan struct{}),
	}

	go t.janitor()
	return t
}

// Publish applies a status event to the tracker. Implements EventSink.
func (t *StatusTracker) Publish(event StatusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[event.ProcessingID]
	if !ok {
		rec = StatusRecord{
			ProcessingID: event.ProcessingID,
			StartedAt:    event.Timestamp,
		}
	}
	rec.Stage = event.Stage
	rec.Percent = event.Percent
	rec.Error = event.Error
	rec.UpdatedAt = event.Timestamp
	t.records[event.ProcessingID] = rec
}

// Get returns the current status record for a processing ID.
func (t *StatusTracker) Get(id uuid.UUID) (StatusRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id]
	if !ok {
		return StatusRecord{}, ErrStatusNotFound
	}
	return rec, nil
}

// Len returns the number of tracked records.
func (t *StatusTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Close stops the janitor goroutine.
func (t *StatusTracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *StatusTracker) janitor() {
	interval := t.retention / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			t.evictExpired(now)
		}
	}
}

func (t *StatusTracker) evictExpired(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, rec := range t.records {
		if rec.terminal() && now.Sub(rec.UpdatedAt) > t.retention {
			delete(t.records, id)
			evicted++
		}
	}
	if evicted > 0 {
		t.logger.Debug("evicted finished status records", "count", evicted)
	}
}
