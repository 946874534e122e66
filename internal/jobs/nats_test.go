package jobs

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewProcessDocumentJob(t *testing.T) {
	docID := uuid.New()
	userID := uuid.New()

	job := NewProcessDocumentJob(docID, userID)

	if job.JobID == "" {
		t.Error("expected generated job ID")
	}
	if job.DocumentID != docID.String() {
		t.Errorf("expected document ID %s, got %s", docID, job.DocumentID)
	}
	if job.UserID != userID.String() {
		t.Errorf("expected user ID %s, got %s", userID, job.UserID)
	}
	if job.EnqueuedAt.IsZero() {
		t.Error("expected enqueue timestamp to be set")
	}
	if err := job.Validate(); err != nil {
		t.Errorf("fresh job should validate: %v", err)
	}
}

func TestProcessDocumentJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		job     ProcessDocumentJob
		wantErr bool
	}{
		{
			name: "valid",
			job: ProcessDocumentJob{
				JobID:      uuid.New().String(),
				DocumentID: uuid.New().String(),
				UserID:     uuid.New().String(),
			},
			wantErr: false,
		},
		{
			name: "missing job ID",
			job: ProcessDocumentJob{
				DocumentID: uuid.New().String(),
			},
			wantErr: true,
		},
		{
			name: "malformed document ID",
			job: ProcessDocumentJob{
				JobID:      uuid.New().String(),
				DocumentID: "not-a-uuid",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryDocumentJob_Validate(t *testing.T) {
	job := NewRetryDocumentJob(uuid.New())
	if err := job.Validate(); err != nil {
		t.Errorf("fresh retry job should validate: %v", err)
	}

	job.DocumentID = ""
	if err := job.Validate(); err == nil {
		t.Error("expected error for empty document ID")
	}
}

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig()
	if cfg.MaxReconnects != -1 {
		t.Errorf("expected infinite reconnects, got %d", cfg.MaxReconnects)
	}
	if cfg.URL == "" {
		t.Error("expected default URL")
	}
}
