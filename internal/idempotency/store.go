// Package idempotency implements the durable presence store that backs
// exactly-once delivery: a (userId, idempotencyKey) pair is marked the
// instant a dispatch succeeds, and its presence is the sole authoritative
// signal that a notification has already been delivered.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL is the lifetime of an idempotency record: 24 hours per §3.
const TTL = 24 * time.Hour

// Store records "(userId, idempotencyKey) has been delivered". It must be
// shared across all worker replicas — a per-worker cache would defeat
// the exactly-once guarantee (§4.B).
type Store interface {
	// Seen returns true if a record already exists for the pair. A
	// strongly consistent read against the shared store.
	Seen(ctx context.Context, userID, idempotencyKey string) (bool, error)
	// Mark writes the presence record with TTL. Idempotent: re-marking
	// either extends the TTL or no-ops.
	Mark(ctx context.Context, userID, idempotencyKey string) error
}

// marker is the value written for a presence record. Its content carries
// no meaning beyond being present.
const marker = "1"

func key(userID, idempotencyKey string) string {
	return fmt.Sprintf("processed:%s:%s", userID, idempotencyKey)
}

// RedisStore is the production Store backed by Redis, matching the
// EXISTS/SETEX semantics required by §6.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing redis client. Accepting
// redis.UniversalClient lets callers pass either a single-node *redis.Client
// or a cluster/sentinel client without the store caring which.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Seen implements Store.
func (s *RedisStore) Seen(ctx context.Context, userID, idempotencyKey string) (bool, error) {
	n, err := s.client.Exists(ctx, key(userID, idempotencyKey)).Result()
	if err != nil {
		return false, newError(ErrCodeStoreUnavailable, "seen", err)
	}
	return n > 0, nil
}

// Mark implements Store.
func (s *RedisStore) Mark(ctx context.Context, userID, idempotencyKey string) error {
	if err := s.client.Set(ctx, key(userID, idempotencyKey), marker, TTL).Err(); err != nil {
		return newError(ErrCodeStoreUnavailable, "mark", err)
	}
	return nil
}
