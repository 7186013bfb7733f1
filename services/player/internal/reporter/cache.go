package reporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LocalCache keeps the last known Snapshot per (videoId, userId) so the
// player can keep displaying progress and resuming while the API is down.
type LocalCache interface {
	Load(videoID, userID string) (Snapshot, bool, error)
	Save(videoID, userID string, s Snapshot) error
}

func cacheKey(videoID, userID string) string {
	return "progress_" + videoID + "_" + userID
}

type MemoryCache struct {
	mu    sync.Mutex
	items map[string]Snapshot
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]Snapshot)}
}

func (m *MemoryCache) Load(videoID, userID string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[cacheKey(videoID, userID)]
	if ok {
		s.WatchedIntervals = append([][2]float64(nil), s.WatchedIntervals...)
	}
	return s, ok, nil
}

func (m *MemoryCache) Save(videoID, userID string, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.WatchedIntervals = append([][2]float64(nil), s.WatchedIntervals...)
	m.items[cacheKey(videoID, userID)] = s
	return nil
}

// FileCache stores one JSON file per key under Dir.
type FileCache struct {
	Dir string
}

func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileCache{Dir: dir}, nil
}

func (f *FileCache) path(videoID, userID string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(cacheKey(videoID, userID))
	return filepath.Join(f.Dir, name+".json")
}

func (f *FileCache) Load(videoID, userID string) (Snapshot, bool, error) {
	b, err := os.ReadFile(f.path(videoID, userID))
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, false, fmt.Errorf("corrupt cache entry: %w", err)
	}
	return s, true, nil
}

// Save writes through a temp file and rename so readers never see a partial entry.
func (f *FileCache) Save(videoID, userID string, s Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.Dir, ".progress-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(videoID, userID))
}
