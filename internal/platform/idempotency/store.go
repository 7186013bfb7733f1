// Package idempotency deduplicates message IDs for at-least-once consumers.
//
// Primary backend: Redis SETNX with TTL.
// Fallback: Postgres INSERT ... ON CONFLICT into processed_events.
// If neither is configured an in-memory store is used.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Store checks whether a message has already been processed and marks it.
type Store interface {
	// Seen returns true if id was already processed under subject.
	// If not seen, it atomically marks it as processed.
	Seen(ctx context.Context, subject, id string) (duplicate bool, err error)
	// Release forgets id so a failed message can be processed again.
	Release(ctx context.Context, subject, id string) error
}

type Options struct {
	Redis *redis.Client
	Pool  *pgxpool.Pool
	TTL   time.Duration
	// RequireDurable rejects the in-memory fallback.
	RequireDurable bool
}

// New picks the best available store: Redis > Postgres > in-memory.
func New(opts Options) (Store, error) {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Redis != nil {
		return newRedisStore(opts.Redis, opts.TTL), nil
	}
	if opts.Pool != nil {
		return newPostgresStore(opts.Pool), nil
	}
	if opts.RequireDurable {
		return nil, errors.New("idempotency: durable store requires REDIS_URL or a postgres pool")
	}
	return newMemoryStore(opts.TTL), nil
}

var ErrEmptyID = errors.New("idempotency: empty message id")
