package security

import (
	"sync"
	"time"
)

// EventStore retains recent events.
type EventStore interface {
	Append(e Event)
	// Since returns retained events at or after from, oldest first.
	Since(from time.Time) []Event
}

// MemoryStore is a bounded in-process EventStore. Events older than the
// retention horizon or beyond the count cap are dropped oldest first, on
// append and on read.
type MemoryStore struct {
	mu        sync.Mutex
	events    []Event
	maxEvents int
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore builds a store holding at most maxEvents events no older
// than retention.
func NewMemoryStore(maxEvents int, retention time.Duration, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{maxEvents: maxEvents, retention: retention, now: now}
}

// Append implements EventStore. Events stamped before the newest retained
// one are inserted in timestamp order.
func (s *MemoryStore) Append(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.events)
	for i > 0 && s.events[i-1].Timestamp.After(e.Timestamp) {
		i--
	}
	s.events = append(s.events, Event{})
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = e
	s.prune()
}

// Since implements EventStore.
func (s *MemoryStore) Since(from time.Time) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	i := len(s.events)
	for i > 0 && !s.events[i-1].Timestamp.Before(from) {
		i--
	}
	out := make([]Event, len(s.events)-i)
	copy(out, s.events[i:])
	return out
}

// Len reports how many events are retained.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *MemoryStore) prune() {
	drop := 0
	if s.retention > 0 {
		horizon := s.now().Add(-s.retention)
		for drop < len(s.events) && s.events[drop].Timestamp.Before(horizon) {
			drop++
		}
	}
	if s.maxEvents > 0 && len(s.events)-drop > s.maxEvents {
		drop = len(s.events) - s.maxEvents
	}
	if drop > 0 {
		s.events = s.events[drop:]
	}
}
