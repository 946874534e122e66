// Package quota enforces per-user daily allowances for chat messages and
// document uploads.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQuotaExceeded is returned when a user has spent their daily allowance.
var ErrQuotaExceeded = fmt.Errorf("daily quota exceeded")

// Store tracks one daily allowance per user.
type Store interface {
	// Consume records one unit for the user and returns the remaining
	// allowance. ErrQuotaExceeded is returned when the allowance was
	// already spent; the count is not incremented in that case.
	Consume(ctx context.Context, userID uuid.UUID) (remaining int, err error)

	// Remaining returns the user's remaining allowance without consuming.
	Remaining(ctx context.Context, userID uuid.UUID) (int, error)
}

// Config holds quota configuration. KeyPrefix separates independent
// allowances (messages vs uploads) tracked in the same backend.
type Config struct {
	DailyLimit int
	KeyPrefix  string
}

// DefaultConfig returns the default quota configuration.
func DefaultConfig() Config {
	return Config{DailyLimit: 200, KeyPrefix: "quota"}
}

// windowKey buckets counts by UTC calendar day.
func windowKey(prefix string, userID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s", prefix, userID, now.UTC().Format("2006-01-02"))
}

// MemoryStore is an in-memory quota store for tests and single-node runs.
type MemoryStore struct {
	limit  int
	prefix string
	now    func() time.Time

	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryStore creates an in-memory quota store.
func NewMemoryStore(cfg Config) *MemoryStore {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = DefaultConfig().DailyLimit
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	return &MemoryStore{
		limit:  cfg.DailyLimit,
		prefix: cfg.KeyPrefix,
		now:    time.Now,
		counts: make(map[string]int),
	}
}

// Consume records one unit for the user.
func (s *MemoryStore) Consume(ctx context.Context, userID uuid.UUID) (int, error) {
	key := windowKey(s.prefix, userID, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counts[key] >= s.limit {
		return 0, ErrQuotaExceeded
	}
	s.counts[key]++
	return s.limit - s.counts[key], nil
}

// Remaining returns the user's remaining allowance.
func (s *MemoryStore) Remaining(ctx context.Context, userID uuid.UUID) (int, error) {
	key := windowKey(s.prefix, userID, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.limit - s.counts[key]
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
