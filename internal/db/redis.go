package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNilRedisStore is returned when a RedisStore pointer is nil or uninitialized.
var ErrNilRedisStore = errors.New("redis store is nil")

// RedisStore wraps a redis client and context for operations. It carries
// per-visitor slot impression counters when caps are visitor scoped.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Ctx:    context.Background(),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		_ = rs.Client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

func capKey(visitorID, slotID string) string {
	return fmt.Sprintf("adcap:%s:%s", visitorID, slotID)
}

// VisitorImpressions returns the impression count of each slot for visitorID
// using a single pipelined round trip. Missing keys count as zero.
func (r *RedisStore) VisitorImpressions(visitorID string, slotIDs []string) (map[string]int, error) {
	if r == nil || r.Client == nil {
		return nil, ErrNilRedisStore
	}
	out := make(map[string]int, len(slotIDs))
	if len(slotIDs) == 0 || visitorID == "" {
		return out, nil
	}

	pipe := r.Client.Pipeline()
	commands := make(map[string]*redis.StringCmd, len(slotIDs))
	for _, id := range slotIDs {
		commands[id] = pipe.Get(r.Ctx, capKey(visitorID, id))
	}
	if _, err := pipe.Exec(r.Ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pipeline exec failed: %w", err)
	}

	for id, cmd := range commands {
		count, err := cmd.Int()
		if err != nil {
			// missing or unreadable counters fail open
			continue
		}
		out[id] = count
	}
	return out, nil
}

// IncrementVisitorImpression increments the counter for (visitorID, slotID).
// The TTL window is applied on the first impression. Returns the new count.
func (r *RedisStore) IncrementVisitorImpression(visitorID, slotID string, window time.Duration) (int64, error) {
	if r == nil || r.Client == nil {
		return 0, ErrNilRedisStore
	}
	key := capKey(visitorID, slotID)
	val, err := r.Client.Incr(r.Ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if val == 1 && window > 0 {
		r.Client.Expire(r.Ctx, key, window)
	}
	return val, nil
}

// Ping checks connectivity for health reporting.
func (r *RedisStore) Ping() error {
	if r == nil || r.Client == nil {
		return ErrNilRedisStore
	}
	return r.Client.Ping(r.Ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
