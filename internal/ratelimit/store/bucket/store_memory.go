package bucket

import (
	"context"
	"math"
	"sync"
	"time"

	"apiguard/internal/ratelimit/models"
)

// InMemoryCounterStore implements CounterStore with a fixed-window counter.
// It is the deterministic backend for tests and single-process development;
// production uses RedisCounterStore with identical window semantics.
//
// Boundary semantics: a window opens on the first observation of a key and
// resets exactly window later. A burst arriving just before and just after a
// window edge can therefore total up to 2*limit requests across the edge;
// within any single window, never more than limit.
type InMemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
}

// windowEntry is the only mutable shared state in the system: a count and
// the moment the window resets.
type windowEntry struct {
	count   int
	resetAt time.Time
}

// NewInMemoryCounterStore creates an empty store.
func NewInMemoryCounterStore() *InMemoryCounterStore {
	return &InMemoryCounterStore{entries: make(map[string]*windowEntry)}
}

// Allow increments the key's window counter and compares against the limit.
// The read-increment-compare sequence runs under one lock acquisition, so
// concurrent callers cannot both observe the last free slot.
func (s *InMemoryCounterStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if e == nil || !now.Before(e.resetAt) {
		e = &windowEntry{resetAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++

	res := &models.Result{
		Limit:   limit,
		ResetAt: e.resetAt,
	}
	if e.count <= limit {
		res.Allowed = true
		res.Remaining = limit - e.count
		return res, nil
	}

	res.RetryAfter = retryAfterSeconds(e.resetAt.Sub(now))
	return res, nil
}

// Reset clears the counter for a key.
func (s *InMemoryCounterStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// CurrentCount returns the key's count within the active window, zero when
// the window has elapsed.
func (s *InMemoryCounterStore) CurrentCount(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if e == nil || !time.Now().Before(e.resetAt) {
		return 0, nil
	}
	return e.count, nil
}

// Sweep evicts entries whose window has elapsed, bounding memory for keys
// that stop being observed. Expired entries are also lazily reinitialized on
// the next Allow, so sweeping is purely about memory, not correctness.
func (s *InMemoryCounterStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.resetAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until the context is canceled.
func (s *InMemoryCounterStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// retryAfterSeconds rounds a remaining window up to whole seconds so the
// Retry-After header never tells a client to retry too early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
