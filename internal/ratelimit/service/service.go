// Package service implements the rate limiting decision on top of a counter
// store. Key construction, window sizing, and failure policy live here so
// both backends behave identically.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	dErrors "apiguard/pkg/domain-errors"

	"apiguard/internal/ratelimit/metrics"
	"apiguard/internal/ratelimit/models"
	"apiguard/internal/ratelimit/ports"
)

// Limiter decides whether a request may proceed. Zero remaining budget means
// rejection with retry guidance; a store failure means rejection too, unless
// fail-open is explicitly enabled for development.
type Limiter struct {
	store    ports.CounterStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	failOpen bool

	failOpenWarn sync.Once
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics attaches limiter metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithFailOpen admits requests when the counter store is unreachable.
// Development only; production must fail closed.
func WithFailOpen() Option {
	return func(l *Limiter) {
		l.failOpen = true
	}
}

// New creates a Limiter over the given store.
func New(store ports.CounterStore, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: counter store is required")
	}
	l := &Limiter{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Check consumes one slot of the identity's budget for the route. It returns
// the window state on success and a coded error when the request must be
// rejected, either RATE_LIMIT_EXCEEDED or SERVICE_UNAVAILABLE.
func (l *Limiter) Check(ctx context.Context, identity, route string, limit int) (*models.Result, error) {
	if limit <= 0 {
		// A zero limit is a registry misconfiguration, not client abuse.
		return nil, dErrors.Newf(dErrors.CodeInternal, "rate limit for %s is not positive", route)
	}

	key := models.BuildKey(identity, route)

	res, err := l.store.Allow(ctx, key, limit, models.Window)
	if err != nil {
		if l.metrics != nil {
			l.metrics.RecordStoreError()
		}
		if l.failOpen {
			l.failOpenWarn.Do(func() {
				l.logger.Warn("rate limit store unreachable, admitting requests unchecked",
					slog.String("error", err.Error()))
			})
			if l.metrics != nil {
				l.metrics.RecordFailOpen()
			}
			return &models.Result{Allowed: true, Limit: limit, Remaining: limit}, nil
		}
		l.logger.Error("rate limit check failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "Rate limiting is temporarily unavailable.")
	}

	if !res.Allowed {
		if l.metrics != nil {
			l.metrics.RecordExceeded(route)
		}
		return res, dErrors.New(dErrors.CodeRateLimited, "Too many requests. Please retry later.")
	}
	return res, nil
}
