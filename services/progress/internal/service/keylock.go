package service

import (
	"sync"

	"github.com/example/watch-progress/services/progress/internal/domain"
)

// keyLock serializes work per progress key. Entries are refcounted and
// removed once no goroutine holds or waits on them.
type keyLock struct {
	mu    sync.Mutex
	locks map[domain.Key]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[domain.Key]*refMutex)}
}

// lock blocks until key is free and returns the matching unlock func.
func (k *keyLock) lock(key domain.Key) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
