// Package ports defines shared interfaces for the ratelimit module.
package ports

import (
	"context"
	"time"

	"apiguard/internal/ratelimit/models"
)

// CounterStore manages fixed-window rate limit counters. Implementations
// must provide atomic increment-and-compare semantics: under concurrent
// calls for the same key, exactly limit requests succeed per window.
type CounterStore interface {
	// Allow consumes one request slot for the key if the window budget
	// permits, and reports the decision either way.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)

	// Reset clears the counter for a key.
	Reset(ctx context.Context, key string) error

	// CurrentCount returns the current request count in the active window.
	CurrentCount(ctx context.Context, key string) (int, error)
}
