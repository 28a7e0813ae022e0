package memory

import (
	"context"
	"sync"

	"apiguard/pkg/platform/audit"
)

// Store is an in-memory audit store for development and tests.
type Store struct {
	mu     sync.Mutex
	events []audit.Event
}

// NewInMemoryStore creates an empty in-memory audit store.
func NewInMemoryStore() *Store {
	return &Store{}
}

// Append records an event.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of recorded events. For tests.
func (s *Store) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByAction returns recorded events matching an action. For tests.
func (s *Store) ByAction(action audit.Action) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
