package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/watch-progress/services/progress/internal/domain"
	"github.com/example/watch-progress/services/progress/internal/interval"
	"github.com/example/watch-progress/services/progress/internal/store"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker(b store.Backend, opts ...Option) *Tracker {
	gw := store.NewGateway(b).WithClock(func() time.Time { return fixedNow })
	return NewTracker(gw, opts...)
}

func obs(pos, dur, start, end float64) domain.Observation {
	return domain.Observation{Position: pos, Duration: dur, Interval: &interval.Interval{Start: start, End: end}}
}

// conflictingStore fails the first n Puts with a version conflict.
type conflictingStore struct {
	*store.InMemoryStore
	mu        sync.Mutex
	conflicts int
	puts      int
}

func (c *conflictingStore) Put(ctx context.Context, p *domain.Progress) error {
	c.mu.Lock()
	c.puts++
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return store.ErrVersionConflict
	}
	c.mu.Unlock()
	return c.InMemoryStore.Put(ctx, p)
}

// brokenStore fails every call.
type brokenStore struct{ store.InMemoryStore }

func (*brokenStore) Get(context.Context, domain.Key) (*domain.Progress, error) {
	return nil, errors.New("connection refused")
}

func TestRecord_CreatesThenMerges(t *testing.T) {
	tr := newTestTracker(store.NewInMemoryStore())
	ctx := context.Background()
	key := domain.Key{UserID: "u1", VideoID: "v1"}

	if _, err := tr.Record(ctx, key, obs(10, 100, 0, 10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := tr.Record(ctx, key, obs(20, 100, 8, 20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.WatchedIntervals) != 1 || p.WatchedIntervals[0] != (interval.Interval{Start: 0, End: 20}) {
		t.Fatalf("expected [[0,20]], got %v", p.WatchedIntervals.Pairs())
	}
	if p.Percentage != 20 {
		t.Fatalf("expected 20%%, got %v", p.Percentage)
	}
	if p.Version != 2 {
		t.Fatalf("expected version 2, got %d", p.Version)
	}
}

func TestRecord_ValidationErrors(t *testing.T) {
	tr := newTestTracker(store.NewInMemoryStore())
	ctx := context.Background()

	_, err := tr.Record(ctx, domain.Key{UserID: "", VideoID: "v1"}, obs(1, 10, 0, 1))
	if !errors.Is(err, domain.ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	_, err = tr.Record(ctx, domain.Key{UserID: "u", VideoID: "v"}, domain.Observation{Position: 1, Duration: 0})
	if !errors.Is(err, domain.ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	_, err = tr.Record(ctx, domain.Key{UserID: "u", VideoID: "v"}, domain.Observation{Position: -1, Duration: 10})
	if !errors.Is(err, domain.ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
}

func TestRecord_RetriesOnConflict(t *testing.T) {
	cs := &conflictingStore{InMemoryStore: store.NewInMemoryStore(), conflicts: 2}
	tr := newTestTracker(cs)

	p, err := tr.Record(context.Background(), domain.Key{UserID: "u", VideoID: "v"}, obs(5, 10, 0, 5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.puts != 3 {
		t.Fatalf("expected 3 put attempts, got %d", cs.puts)
	}
	if p.Percentage != 50 {
		t.Fatalf("expected 50%%, got %v", p.Percentage)
	}
}

func TestRecord_GivesUpAfterMaxAttempts(t *testing.T) {
	cs := &conflictingStore{InMemoryStore: store.NewInMemoryStore(), conflicts: 10}
	tr := newTestTracker(cs, WithMaxAttempts(3))

	_, err := tr.Record(context.Background(), domain.Key{UserID: "u", VideoID: "v"}, obs(5, 10, 0, 5))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if cs.puts != 3 {
		t.Fatalf("expected 3 put attempts, got %d", cs.puts)
	}
}

func TestRecord_StorageErrorSurfaces(t *testing.T) {
	tr := newTestTracker(&brokenStore{})
	_, err := tr.Record(context.Background(), domain.Key{UserID: "u", VideoID: "v"}, obs(5, 10, 0, 5))
	if err == nil {
		t.Fatal("expected error from broken store")
	}
}

func TestRecord_ConcurrentSameKeyLosesNothing(t *testing.T) {
	tr := newTestTracker(store.NewInMemoryStore())
	ctx := context.Background()
	key := domain.Key{UserID: "u", VideoID: "v"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := float64(i * 2)
			if _, err := tr.Record(ctx, key, obs(start+1, 100, start, start+1)); err != nil {
				t.Errorf("record %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	p, err := tr.Get(ctx, key, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := p.WatchedTime(); got != 50 {
		t.Fatalf("expected 50s covered from 50 disjoint seconds, got %v", got)
	}
	if len(p.WatchedIntervals) != 50 {
		t.Fatalf("expected 50 intervals, got %d", len(p.WatchedIntervals))
	}
	if n := tr.locks.size(); n != 0 {
		t.Fatalf("expected key locks to be released, %d left", n)
	}
}

func TestGet_ZeroStateForMissing(t *testing.T) {
	tr := newTestTracker(store.NewInMemoryStore())
	p, err := tr.Get(context.Background(), domain.Key{UserID: "u", VideoID: "nope"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Percentage != 0 || p.LastPosition != 0 || len(p.WatchedIntervals) != 0 || p.IsCompleted {
		t.Fatalf("expected zero state, got %+v", p)
	}
}

func TestGet_DurationOverrideDoesNotPersist(t *testing.T) {
	mem := store.NewInMemoryStore()
	tr := newTestTracker(mem)
	ctx := context.Background()
	key := domain.Key{UserID: "u", VideoID: "v"}

	if _, err := tr.Record(ctx, key, obs(50, 100, 0, 50)); err != nil {
		t.Fatalf("record: %v", err)
	}
	p, err := tr.Get(ctx, key, 50)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Percentage != 100 || !p.IsCompleted {
		t.Fatalf("expected 100%% against 50s duration, got %v", p.Percentage)
	}

	stored, _ := mem.Get(ctx, key)
	if stored.Duration != 100 || stored.Percentage != 50 {
		t.Fatalf("expected stored record untouched, got duration=%v pct=%v", stored.Duration, stored.Percentage)
	}
}

func TestList_RequiresUser(t *testing.T) {
	tr := newTestTracker(store.NewInMemoryStore())
	if _, err := tr.List(context.Background(), " "); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("expected ErrMissingUser, got %v", err)
	}
}

func TestStats_UserAndGlobal(t *testing.T) {
	tr := newTestTracker(store.NewInMemoryStore())
	ctx := context.Background()
	_, _ = tr.Record(ctx, domain.Key{UserID: "a", VideoID: "v1"}, obs(100, 100, 0, 100))
	_, _ = tr.Record(ctx, domain.Key{UserID: "a", VideoID: "v2"}, obs(10, 100, 0, 10))
	_, _ = tr.Record(ctx, domain.Key{UserID: "b", VideoID: "v1"}, obs(30, 100, 0, 30))

	st, err := tr.Stats(ctx, "a")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalVideos != 2 || st.TotalWatchTime != 110 || st.AverageCompletion != 55 || st.CompletedVideos != 1 {
		t.Fatalf("unexpected user stats: %+v", st)
	}

	all, err := tr.Stats(ctx, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if all.TotalVideos != 3 {
		t.Fatalf("expected 3 videos overall, got %d", all.TotalVideos)
	}
}

func TestDelete(t *testing.T) {
	tr := newTestTracker(store.NewInMemoryStore())
	ctx := context.Background()
	key := domain.Key{UserID: "u", VideoID: "v"}

	if err := tr.Delete(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, _ = tr.Record(ctx, key, obs(1, 10, 0, 1))
	if err := tr.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	p, _ := tr.Get(ctx, key, 0)
	if p.Version != 0 {
		t.Fatalf("expected fresh aggregate after delete, got version %d", p.Version)
	}
}

func TestBulk_PartialFailureAndOrdering(t *testing.T) {
	tr := newTestTracker(store.NewInMemoryStore())
	ctx := context.Background()

	items := []BulkItem{
		{VideoID: "v1", Observation: obs(10, 100, 0, 10)},
		{VideoID: "v2", Observation: domain.Observation{Position: 5, Duration: -1}},
		{VideoID: "v1", Observation: obs(30, 100, 20, 30)},
		{VideoID: "", Observation: obs(1, 10, 0, 1)},
	}
	res := tr.Bulk(ctx, "u", items)

	if len(res) != 4 {
		t.Fatalf("expected 4 results, got %d", len(res))
	}
	if res[0].Err != nil || res[2].Err != nil {
		t.Fatalf("expected v1 updates to succeed, got %v / %v", res[0].Err, res[2].Err)
	}
	if !errors.Is(res[1].Err, domain.ErrInvalidDuration) {
		t.Fatalf("expected invalid duration for item 1, got %v", res[1].Err)
	}
	if !errors.Is(res[3].Err, domain.ErrMissingKey) {
		t.Fatalf("expected missing key for item 3, got %v", res[3].Err)
	}
	if res[2].Progress.LastPosition != 30 {
		t.Fatalf("expected in-order apply for same video, lastPosition=%v", res[2].Progress.LastPosition)
	}
	if got := res[2].Progress.WatchedIntervals.Pairs(); len(got) != 2 {
		t.Fatalf("expected two disjoint intervals, got %v", got)
	}
}

func TestKeyLock_Serializes(t *testing.T) {
	kl := newKeyLock()
	key := domain.Key{UserID: "u", VideoID: "v"}

	unlock := kl.lock(key)
	acquired := make(chan struct{})
	go func() {
		u := kl.lock(key)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}
