package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryStore_ConsumeDecrements(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(Config{DailyLimit: 3})
	userID := uuid.New()

	for want := 2; want >= 0; want-- {
		remaining, err := store.Consume(ctx, userID)
		if err != nil {
			t.Fatalf("Consume failed: %v", err)
		}
		if remaining != want {
			t.Errorf("expected remaining %d, got %d", want, remaining)
		}
	}

	_, err := store.Consume(ctx, userID)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	remaining, err := store.Remaining(ctx, userID)
	if err != nil {
		t.Fatalf("Remaining failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", remaining)
	}
}

func TestMemoryStore_UsersIsolated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(Config{DailyLimit: 1})
	a, b := uuid.New(), uuid.New()

	if _, err := store.Consume(ctx, a); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if _, err := store.Consume(ctx, a); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded for exhausted user, got %v", err)
	}

	if _, err := store.Consume(ctx, b); err != nil {
		t.Errorf("one user's quota must not affect another: %v", err)
	}
}

func TestMemoryStore_WindowResetsAtUTCMidnight(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(Config{DailyLimit: 1})
	userID := uuid.New()

	day := time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	store.now = func() time.Time { return day }

	if _, err := store.Consume(ctx, userID); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if _, err := store.Consume(ctx, userID); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	store.now = func() time.Time { return day.Add(2 * time.Minute) }

	remaining, err := store.Consume(ctx, userID)
	if err != nil {
		t.Fatalf("expected fresh allowance after the window rolled: %v", err)
	}
	if remaining != 0 {
		t.Errorf("expected remaining 0 with limit 1, got %d", remaining)
	}
}

func TestMemoryStore_DefaultLimit(t *testing.T) {
	store := NewMemoryStore(Config{})
	if store.limit != 200 {
		t.Errorf("expected default limit 200, got %d", store.limit)
	}
}

func TestWindowKey(t *testing.T) {
	userID := uuid.New()
	// 23:30 UTC-5 on June 1 is June 2 in UTC; the window buckets by UTC day.
	local := time.Date(2025, 6, 1, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*3600))
	key := windowKey("quota", userID, local)

	want := "quota:" + userID.String() + ":2025-06-02"
	if key != want {
		t.Errorf("expected %q, got %q", want, key)
	}
}

func TestWindowKey_PrefixSeparatesAllowances(t *testing.T) {
	userID := uuid.New()
	now := time.Now()

	msgKey := windowKey("quota:msg", userID, now)
	uploadKey := windowKey("quota:upload", userID, now)
	if msgKey == uploadKey {
		t.Errorf("message and upload allowances must not share a counter: %q", msgKey)
	}
}
