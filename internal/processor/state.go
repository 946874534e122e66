// Package processor drives documents through the processing state machine:
// upload transfer, content extraction and vector indexing.
package processor

import (
	"errors"
	"fmt"

	"github.com/docstack-ai/docstack/internal/storage"
)

// Sentinel errors for processing failures.
var (
	// ErrInvalidTransition is returned when a stage event arrives for a
	// document that is not in a state where that stage is legal. Duplicate
	// and out-of-order stage completions land here.
	ErrInvalidTransition = errors.New("invalid document state transition")

	// ErrExtractionFailed marks a conversion-stage failure.
	ErrExtractionFailed = errors.New("content extraction failed")

	// ErrIndexingFailed marks an indexing-stage failure.
	ErrIndexingFailed = errors.New("vector indexing failed")
)

// Stage identifies one asynchronous processing stage.
type Stage string

const (
	StageUpload     Stage = "upload"
	StageConversion Stage = "conversion"
	StageIndexing   Stage = "indexing"
)

// stageStates maps each stage to its entry precondition, running state and
// outcome states. These are the only legal edges.
type stageStates struct {
	from      storage.DocumentStatus
	running   storage.DocumentStatus
	completed storage.DocumentStatus
	failed    storage.DocumentStatus
}

var transitions = map[Stage]stageStates{
	StageUpload: {
		from:      storage.StatusPending,
		running:   storage.StatusUploading,
		completed: storage.StatusCompleted,
		failed:    storage.StatusFailed,
	},
	StageConversion: {
		from:      storage.StatusCompleted,
		running:   storage.StatusConverting,
		completed: storage.StatusConversionCompleted,
		failed:    storage.StatusConversionFailed,
	},
	StageIndexing: {
		from:      storage.StatusConversionCompleted,
		running:   storage.StatusIndexing,
		completed: storage.StatusIndexed,
		failed:    storage.StatusIndexingFailed,
	},
}

// retryResets maps a failure state back to the start of its failed stage.
// Retry is an explicit external operation, never automatic.
var retryResets = map[storage.DocumentStatus]storage.DocumentStatus{
	storage.StatusFailed:           storage.StatusPending,
	storage.StatusConversionFailed: storage.StatusCompleted,
	storage.StatusIndexingFailed:   storage.StatusConversionCompleted,
}

// StageResult carries the outcome of a completed stage.
type StageResult struct {
	Stage Stage
	Err   error

	// Conversion outputs
	Text string

	// Indexing outputs
	ChunksCount  int
	VectorsCount int
}

func (r StageResult) validate() error {
	if _, ok := transitions[r.Stage]; !ok {
		return fmt.Errorf("unknown stage %q", r.Stage)
	}
	return nil
}
