package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quorumdao/gatehouse/ports"
)

// RedisNonceStore is a Redis implementation of NonceStore. Redis key expiry
// enforces the nonce TTL; DEL makes consumption atomic across instances.
type RedisNonceStore struct {
	client *redis.Client
	prefix string
}

// NewRedisNonceStore creates a new Redis nonce store.
func NewRedisNonceStore(client *redis.Client) ports.NonceStore {
	return &RedisNonceStore{
		client: client,
		prefix: "gatehouse:nonce:",
	}
}

// Record registers an issued nonce with an expiry.
func (s *RedisNonceStore) Record(ctx context.Context, nonce string, ttl time.Duration) error {
	key := s.prefix + nonce

	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to record nonce: %w", err)
	}

	return nil
}

// Consume atomically removes a nonce. A deleted or expired key reports false,
// so each nonce authenticates at most one sign-in.
func (s *RedisNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	key := s.prefix + nonce

	removed, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}

	return removed > 0, nil
}
