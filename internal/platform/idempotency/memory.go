package idempotency

import (
	"context"
	"sync"
	"time"
)

// memoryStore keeps seen IDs in process memory. Entries expire after ttl and
// are swept lazily on each call.
type memoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func newMemoryStore(ttl time.Duration) *memoryStore {
	return &memoryStore{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (s *memoryStore) Seen(_ context.Context, subject, id string) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	key := subject + ":" + id

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.seen {
		if now.After(exp) {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[key]; ok {
		return true, nil
	}
	s.seen[key] = now.Add(s.ttl)
	return false, nil
}

func (s *memoryStore) Release(_ context.Context, subject, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, subject+":"+id)
	return nil
}
