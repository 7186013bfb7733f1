// Package store is the only layer that touches durable storage for progress
// records. Backends implement Backend; Gateway adds fetch-or-create and stats
// on top.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/watch-progress/services/progress/internal/domain"
)

var (
	// ErrNotFound is returned by Backend.Get and Backend.Delete for a missing key.
	ErrNotFound = errors.New("progress not found")
	// ErrVersionConflict means the record changed since it was read.
	ErrVersionConflict = errors.New("progress version conflict")
	// ErrStorage wraps any failure of the underlying store.
	ErrStorage = errors.New("progress storage unavailable")
)

// Backend is the persistence contract for progress records.
type Backend interface {
	Get(ctx context.Context, key domain.Key) (*domain.Progress, error)
	// Put upserts p. A zero Version inserts; otherwise the stored version must
	// equal p.Version. On success p.Version is incremented.
	Put(ctx context.Context, p *domain.Progress) error
	// ListByUser returns records ordered by updated_at descending.
	ListByUser(ctx context.Context, userID string) ([]*domain.Progress, error)
	ListAll(ctx context.Context) ([]*domain.Progress, error)
	Delete(ctx context.Context, key domain.Key) error
	Ping(ctx context.Context) error
}

// Gateway fetches, creates and persists progress aggregates.
type Gateway struct {
	backend Backend
	now     func() time.Time
}

func NewGateway(b Backend) *Gateway {
	return &Gateway{backend: b, now: time.Now}
}

// WithClock overrides the time source. Intended for tests.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// Now returns the gateway clock reading in UTC.
func (g *Gateway) Now() time.Time { return g.now().UTC() }

// FetchOrCreate returns the stored record or a new zero-state aggregate that
// is not persisted until Save.
func (g *Gateway) FetchOrCreate(ctx context.Context, key domain.Key) (*domain.Progress, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	p, err := g.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return domain.New(key, g.Now()), nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Find returns the stored record, or ErrNotFound.
func (g *Gateway) Find(ctx context.Context, key domain.Key) (*domain.Progress, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return g.backend.Get(ctx, key)
}

// Save persists the full aggregate. There are no retries here.
func (g *Gateway) Save(ctx context.Context, p *domain.Progress) error {
	return g.backend.Put(ctx, p)
}

func (g *Gateway) ListByUser(ctx context.Context, userID string) ([]*domain.Progress, error) {
	return g.backend.ListByUser(ctx, userID)
}

// AggregateStats computes stats over one user's records, or all records when
// userID is empty.
func (g *Gateway) AggregateStats(ctx context.Context, userID string) (domain.Stats, error) {
	var (
		records []*domain.Progress
		err     error
	)
	if userID == "" {
		records, err = g.backend.ListAll(ctx)
	} else {
		records, err = g.backend.ListByUser(ctx, userID)
	}
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.ComputeStats(records), nil
}

func (g *Gateway) Delete(ctx context.Context, key domain.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return g.backend.Delete(ctx, key)
}

func (g *Gateway) Ping(ctx context.Context) error {
	return g.backend.Ping(ctx)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

var (
	_ Backend = (*InMemoryStore)(nil)
	_ Backend = (*PostgresStore)(nil)
	_ Backend = (*SQLiteStore)(nil)
	_ Backend = (*CachedStore)(nil)
)
