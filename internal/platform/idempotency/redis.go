package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func newRedisStore(client *redis.Client, ttl time.Duration) *redisStore {
	return &redisStore{client: client, ttl: ttl}
}

func (s *redisStore) Seen(ctx context.Context, subject, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	set, err := s.client.SetNX(ctx, redisKey(subject, id), 1, s.ttl).Result()
	if err != nil {
		return false, err
	}
	// SetNX returns true if the key was SET, i.e. not a duplicate.
	return !set, nil
}

func (s *redisStore) Release(ctx context.Context, subject, id string) error {
	return s.client.Del(ctx, redisKey(subject, id)).Err()
}

func redisKey(subject, id string) string {
	return "idempotent:" + subject + ":" + id
}
