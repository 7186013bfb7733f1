// Package service orchestrates progress updates on top of the store gateway.
package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/watch-progress/internal/platform/analytics"
	"github.com/example/watch-progress/services/progress/internal/domain"
	"github.com/example/watch-progress/services/progress/internal/store"
)

// ErrConflict is returned when a record kept changing underneath every retry.
var ErrConflict = errors.New("progress changed concurrently, retry later")

// ErrMissingUser is returned by user-scoped reads called without a user.
var ErrMissingUser = errors.New("userId is required")

const defaultMaxAttempts = 3

// Tracker applies observations with per-key serialization. Inside one
// process the key lock removes races; across instances the store's version
// check turns a lost race into a retry.
type Tracker struct {
	gw          *store.Gateway
	locks       *keyLock
	pub         *analytics.Publisher
	log         *zap.Logger
	maxAttempts int
	bulkWorkers int
}

type Option func(*Tracker)

func WithPublisher(p *analytics.Publisher) Option {
	return func(t *Tracker) { t.pub = p }
}

func WithLogger(log *zap.Logger) Option {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

// WithMaxAttempts bounds read-modify-write attempts on version conflicts.
func WithMaxAttempts(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

func NewTracker(gw *store.Gateway, opts ...Option) *Tracker {
	t := &Tracker{
		gw:          gw,
		locks:       newKeyLock(),
		log:         zap.NewNop(),
		maxAttempts: defaultMaxAttempts,
		bulkWorkers: 8,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Record fetches the aggregate for key, applies obs and saves it.
func (t *Tracker) Record(ctx context.Context, key domain.Key, obs domain.Observation) (*domain.Progress, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateObservation(obs); err != nil {
		return nil, err
	}

	unlock := t.locks.lock(key)
	defer unlock()

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		p, err := t.gw.FetchOrCreate(ctx, key)
		if err != nil {
			return nil, err
		}
		wasCompleted := p.IsCompleted

		if err := p.RecordObservation(obs, t.gw.Now()); err != nil {
			return nil, err
		}

		err = t.gw.Save(ctx, p)
		if errors.Is(err, store.ErrVersionConflict) {
			t.log.Debug("progress version conflict",
				zap.String("key", key.String()), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		if !wasCompleted && p.IsCompleted {
			t.pub.Publish(analytics.SubjectProgressCompleted, "progress_completed", p.UserID, map[string]any{
				"video_id":   p.VideoID,
				"percentage": domain.Round2(p.Percentage),
				"duration":   p.Duration,
			})
		}
		return p, nil
	}

	t.log.Warn("progress update gave up after conflicts",
		zap.String("key", key.String()), zap.Int("attempts", t.maxAttempts))
	return nil, ErrConflict
}

// Get returns the stored aggregate or a zero-state one. A positive duration
// recomputes derived fields on the returned copy only.
func (t *Tracker) Get(ctx context.Context, key domain.Key, duration float64) (*domain.Progress, error) {
	p, err := t.gw.FetchOrCreate(ctx, key)
	if err != nil {
		return nil, err
	}
	if duration > 0 && duration != p.Duration {
		return p.WithDuration(duration), nil
	}
	return p, nil
}

func (t *Tracker) List(ctx context.Context, userID string) ([]*domain.Progress, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrMissingUser
	}
	return t.gw.ListByUser(ctx, userID)
}

// Stats aggregates one user's records, or every record when userID is empty.
func (t *Tracker) Stats(ctx context.Context, userID string) (domain.Stats, error) {
	return t.gw.AggregateStats(ctx, strings.TrimSpace(userID))
}

func (t *Tracker) Delete(ctx context.Context, key domain.Key) error {
	unlock := t.locks.lock(key)
	defer unlock()

	if err := t.gw.Delete(ctx, key); err != nil {
		return err
	}
	t.pub.Publish(analytics.SubjectProgressReset, "progress_reset", key.UserID, map[string]any{
		"video_id": key.VideoID,
	})
	return nil
}

// Ready reports whether the backing store is reachable.
func (t *Tracker) Ready(ctx context.Context) error {
	return t.gw.Ping(ctx)
}

// BulkItem is one update inside a batch.
type BulkItem struct {
	VideoID     string
	Observation domain.Observation
}

// BulkResult mirrors BulkItem by index.
type BulkResult struct {
	VideoID  string
	Progress *domain.Progress
	Err      error
}

// Bulk applies items for userID. Items for the same video run in input
// order; distinct videos run concurrently. One failing item never aborts
// the others.
func (t *Tracker) Bulk(ctx context.Context, userID string, items []BulkItem) []BulkResult {
	results := make([]BulkResult, len(items))

	byVideo := make(map[string][]int)
	var order []string
	for i, it := range items {
		results[i].VideoID = it.VideoID
		if _, ok := byVideo[it.VideoID]; !ok {
			order = append(order, it.VideoID)
		}
		byVideo[it.VideoID] = append(byVideo[it.VideoID], i)
	}

	var g errgroup.Group
	g.SetLimit(t.bulkWorkers)
	for _, videoID := range order {
		idxs := byVideo[videoID]
		g.Go(func() error {
			for _, i := range idxs {
				key := domain.Key{UserID: userID, VideoID: items[i].VideoID}
				p, err := t.Record(ctx, key, items[i].Observation)
				results[i].Progress = p
				results[i].Err = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
