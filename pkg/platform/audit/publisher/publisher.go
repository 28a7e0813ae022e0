// Package publisher emits audit events to a store, optionally through an
// async buffer so the request path never blocks on audit persistence.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"apiguard/pkg/platform/audit"
)

// Publisher writes audit events to a store. In sync mode Emit appends
// inline; with an async buffer Emit enqueues and a single worker drains.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	buffer chan audit.Event
	wg     sync.WaitGroup
	once   sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous emission with the given buffer size.
// When the buffer is full, events are dropped with a logged warning rather
// than blocking the request path.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan audit.Event, size)
		}
	}
}

// WithLogger sets the logger for drop and append failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher over the given store.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an audit event. Failures are logged, never returned to the
// guard pipeline: audit must not change a request's outcome.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if p.buffer == nil {
		if err := p.store.Append(ctx, event); err != nil {
			p.warn("audit append failed", event, err)
		}
		return nil
	}

	select {
	case p.buffer <- event:
	default:
		p.warn("audit buffer full, event dropped", event, nil)
	}
	return nil
}

// Close stops the async worker and drains remaining buffered events.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		// Buffered events outlive the originating request; use a fresh
		// context with a bounded deadline.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.store.Append(ctx, event); err != nil {
			p.warn("audit append failed", event, err)
		}
		cancel()
	}
}

func (p *Publisher) warn(msg string, event audit.Event, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Warn(msg, "action", event.Action, "request_id", event.RequestID, "error", err)
}
