package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds per-user token bucket parameters.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleEviction drops limiters for users that have been quiet this long.
	IdleEviction time.Duration
}

// DefaultRateLimitConfig returns default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 5,
		Burst:             10,
		IdleEviction:      10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-user token bucket. It requires the Identity
// middleware to have run first.
type RateLimiter struct {
	config RateLimitConfig
	logger *slog.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]*limiterEntry
}

// NewRateLimiter creates a new RateLimiter instance.
func NewRateLimiter(config RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultRateLimitConfig().RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = DefaultRateLimitConfig().Burst
	}
	if config.IdleEviction <= 0 {
		config.IdleEviction = DefaultRateLimitConfig().IdleEviction
	}

	rl := &RateLimiter{
		config:  config,
		logger:  logger.With("component", "rate_limiter"),
		entries: make(map[uuid.UUID]*limiterEntry),
	}
	go rl.evictIdle()
	return rl
}

// Middleware enforces the per-user rate limit.
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserID(r.Context())
			if !ok {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			if !rl.limiterFor(userID).Allow() {
				rl.logger.Warn("rate limit exceeded", "user_id", userID)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(1/rl.config.RequestsPerSecond)+1))
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) limiterFor(userID uuid.UUID) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[userID]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
		}
		rl.entries[userID] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (rl *RateLimiter) evictIdle() {
	ticker := time.NewTicker(rl.config.IdleEviction)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-rl.config.IdleEviction)
		rl.mu.Lock()
		for userID, entry := range rl.entries {
			if entry.lastSeen.Before(cutoff) {
				delete(rl.entries, userID)
			}
		}
		rl.mu.Unlock()
	}
}
