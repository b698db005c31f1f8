package ledgerline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ledgerline:idempotency:"

// RedisResultStore keeps idempotency results in Redis so deduplication
// survives process restarts and is shared across instances. Expiry is
// delegated to Redis TTLs; no local sweep is needed.
type RedisResultStore struct {
	client *redis.Client
}

// NewRedisResultStore wraps an existing Redis client. The connection is
// verified with a short ping.
func NewRedisResultStore(client *redis.Client) (*RedisResultStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisResultStore{client: client}, nil
}

// Get returns the stored result if the key exists and has not expired.
func (s *RedisResultStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	result, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return result, true, nil
}

// Set stores a result with a Redis-managed TTL.
func (s *RedisResultStore) Set(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, result, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes an entry.
func (s *RedisResultStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisResultStore) Close() error {
	return s.client.Close()
}
