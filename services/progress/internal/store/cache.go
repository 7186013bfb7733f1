package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/watch-progress/services/progress/internal/domain"
	"github.com/example/watch-progress/services/progress/internal/interval"
)

// CachedStore is a read-through Redis cache in front of another Backend.
// Writes go to the backend first and then evict the key. Redis failures are
// logged and never fail the request.
type CachedStore struct {
	next   Backend
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisClient parses a redis:// URL, falling back to treating it as host:port.
func NewRedisClient(url string) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	return redis.NewClient(opts)
}

func NewCachedStore(next Backend, client *redis.Client, ttl time.Duration, log *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedStore{next: next, client: client, ttl: ttl, log: log}
}

type cachedRecord struct {
	UserID           string       `json:"user_id"`
	VideoID          string       `json:"video_id"`
	Duration         float64      `json:"duration"`
	WatchedIntervals interval.Set `json:"watched_intervals"`
	LastPosition     float64      `json:"last_position"`
	Percentage       float64      `json:"percentage"`
	IsCompleted      bool         `json:"is_completed"`
	Version          int64        `json:"version"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func cacheKey(key domain.Key) string {
	return "progress:" + key.UserID + ":" + key.VideoID
}

func (c *CachedStore) Get(ctx context.Context, key domain.Key) (*domain.Progress, error) {
	val, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	switch {
	case err == nil:
		var rec cachedRecord
		if jerr := json.Unmarshal(val, &rec); jerr == nil {
			return fromCached(rec), nil
		}
		c.log.Warn("progress cache: corrupt entry", zap.String("key", key.String()))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("progress cache: get failed", zap.String("key", key.String()), zap.Error(err))
	}

	p, err := c.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.set(ctx, p)
	return p, nil
}

func (c *CachedStore) Put(ctx context.Context, p *domain.Progress) error {
	if err := c.next.Put(ctx, p); err != nil {
		// A conflict means our cached copy may be stale.
		if errors.Is(err, ErrVersionConflict) {
			c.evict(ctx, p.Key())
		}
		return err
	}
	c.evict(ctx, p.Key())
	return nil
}

func (c *CachedStore) ListByUser(ctx context.Context, userID string) ([]*domain.Progress, error) {
	return c.next.ListByUser(ctx, userID)
}

func (c *CachedStore) ListAll(ctx context.Context) ([]*domain.Progress, error) {
	return c.next.ListAll(ctx)
}

func (c *CachedStore) Delete(ctx context.Context, key domain.Key) error {
	err := c.next.Delete(ctx, key)
	c.evict(ctx, key)
	return err
}

func (c *CachedStore) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.log.Warn("progress cache: ping failed", zap.Error(err))
	}
	return c.next.Ping(ctx)
}

func (c *CachedStore) set(ctx context.Context, p *domain.Progress) {
	b, err := json.Marshal(toCached(p))
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(p.Key()), b, c.ttl).Err(); err != nil {
		c.log.Warn("progress cache: set failed", zap.String("key", p.Key().String()), zap.Error(err))
	}
}

func (c *CachedStore) evict(ctx context.Context, key domain.Key) {
	if err := c.client.Del(ctx, cacheKey(key)).Err(); err != nil {
		c.log.Warn("progress cache: evict failed", zap.String("key", key.String()), zap.Error(err))
	}
}

func toCached(p *domain.Progress) cachedRecord {
	return cachedRecord{
		UserID:           p.UserID,
		VideoID:          p.VideoID,
		Duration:         p.Duration,
		WatchedIntervals: p.WatchedIntervals,
		LastPosition:     p.LastPosition,
		Percentage:       p.Percentage,
		IsCompleted:      p.IsCompleted,
		Version:          p.Version,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func fromCached(rec cachedRecord) *domain.Progress {
	return &domain.Progress{
		UserID:           rec.UserID,
		VideoID:          rec.VideoID,
		Duration:         rec.Duration,
		WatchedIntervals: interval.Normalize(rec.WatchedIntervals),
		LastPosition:     rec.LastPosition,
		Percentage:       rec.Percentage,
		IsCompleted:      rec.IsCompleted,
		Version:          rec.Version,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}
