package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// consumeScript increments the day's counter only while it is under the
// limit, so concurrent consumers cannot overshoot. Returns the new count,
// or -1 when the allowance is spent.
var consumeScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if count >= limit then
  return -1
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return count
`)

// RedisStore is a Redis-backed quota store shared across server replicas.
// Counters live in daily keys that expire two days after creation.
type RedisStore struct {
	client *redis.Client
	limit  int
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed quota store.
func NewRedisStore(client *redis.Client, cfg Config, logger *slog.Logger) *RedisStore {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = DefaultConfig().DailyLimit
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		limit:  cfg.DailyLimit,
		prefix: cfg.KeyPrefix,
		logger: logger.With("component", "quota"),
		now:    time.Now,
	}
}

// Consume records one unit for the user.
func (s *RedisStore) Consume(ctx context.Context, userID uuid.UUID) (int, error) {
	key := windowKey(s.prefix, userID, s.now())
	ttlSeconds := int((48 * time.Hour).Seconds())

	count, err := consumeScript.Run(ctx, s.client, []string{key}, s.limit, ttlSeconds).Int()
	if err != nil {
		return 0, fmt.Errorf("quota consume failed: %w", err)
	}
	if count < 0 {
		s.logger.Info("quota exhausted", "user_id", userID)
		return 0, ErrQuotaExceeded
	}
	return s.limit - count, nil
}

// Remaining returns the user's remaining allowance.
func (s *RedisStore) Remaining(ctx context.Context, userID uuid.UUID) (int, error) {
	key := windowKey(s.prefix, userID, s.now())

	count, err := s.client.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("quota lookup failed: %w", err)
	}

	remaining := s.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
