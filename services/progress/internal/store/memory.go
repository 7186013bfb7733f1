package store

import (
	"context"
	"sort"
	"sync"

	"github.com/example/watch-progress/services/progress/internal/domain"
)

// InMemoryStore keeps records in process memory. Development and tests only:
// state is lost on restart and not shared between instances.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[domain.Key]*domain.Progress
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[domain.Key]*domain.Progress)}
}

func (s *InMemoryStore) Get(_ context.Context, key domain.Key) (*domain.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) Put(_ context.Context, p *domain.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Key()
	cur, exists := s.records[key]
	switch {
	case p.Version == 0 && exists:
		return ErrVersionConflict
	case p.Version != 0 && (!exists || cur.Version != p.Version):
		return ErrVersionConflict
	}
	p.Version++
	s.records[key] = p.Clone()
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID string) ([]*domain.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Progress, 0)
	for k, p := range s.records {
		if k.UserID == userID {
			out = append(out, p.Clone())
		}
	}
	sortByUpdated(out)
	return out, nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]*domain.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Progress, 0, len(s.records))
	for _, p := range s.records {
		out = append(out, p.Clone())
	}
	sortByUpdated(out)
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return ErrNotFound
	}
	delete(s.records, key)
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func sortByUpdated(list []*domain.Progress) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].VideoID > list[j].VideoID
	})
}
