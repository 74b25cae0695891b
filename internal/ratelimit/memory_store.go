package ratelimit

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryCapacity bounds the number of tracked keys.
const DefaultMemoryCapacity = 10000

// MemoryStore keeps counters in a bounded LRU. Evicting a cold key simply
// restarts its window on the next hit.
type MemoryStore struct {
	mu      sync.Mutex
	entries *lru.Cache[string, Entry]
}

// NewMemoryStore returns a store tracking at most capacity keys.
func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	cache, err := lru.New[string, Entry](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{entries: cache}, nil
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(key)
	if !ok || now.Sub(entry.WindowStart) >= window {
		entry = Entry{Key: key, WindowStart: now, Count: 1}
	} else {
		entry.Count++
	}
	s.entries.Add(key, entry)
	return entry, nil
}

// Len reports how many keys are tracked.
func (s *MemoryStore) Len() int {
	return s.entries.Len()
}
