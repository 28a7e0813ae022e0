package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"apiguard/internal/ratelimit/models"
	"apiguard/pkg/platform/sentinel"
)

// allowScript performs increment-and-compare atomically inside Redis so that
// many concurrent guard processes sharing a key admit exactly limit requests
// per window. The window TTL is set only by the call that opens the window.
var allowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// RedisCounterStore implements CounterStore on a shared Redis instance.
// Fixed-window semantics match InMemoryCounterStore exactly; Redis key
// expiry replaces the sweeper.
type RedisCounterStore struct {
	client redis.Cmdable
}

// NewRedisCounterStore creates a store over the given client.
func NewRedisCounterStore(client redis.Cmdable) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Allow atomically consumes one request slot for the key.
func (s *RedisCounterStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	raw, err := allowScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit INCR for %q: %w: %w", key, sentinel.ErrUnavailable, err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return nil, fmt.Errorf("rate limit script returned unexpected shape %T", raw)
	}
	count, ok1 := values[0].(int64)
	ttlMillis, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("rate limit script returned unexpected types %T/%T", values[0], values[1])
	}

	// PTTL can report -1 if the key lost its expiry (e.g. manual
	// intervention); treat that as a full window rather than a stuck key.
	if ttlMillis < 0 {
		ttlMillis = window.Milliseconds()
	}
	remainingWindow := time.Duration(ttlMillis) * time.Millisecond

	res := &models.Result{
		Limit:   limit,
		ResetAt: time.Now().Add(remainingWindow),
	}
	if int(count) <= limit {
		res.Allowed = true
		res.Remaining = limit - int(count)
		return res, nil
	}

	res.RetryAfter = retryAfterSeconds(remainingWindow)
	return res, nil
}

// Reset clears the counter for a key.
func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("rate limit reset for %q: %w: %w", key, sentinel.ErrUnavailable, err)
	}
	return nil
}

// CurrentCount returns the key's count within the active window.
func (s *RedisCounterStore) CurrentCount(ctx context.Context, key string) (int, error) {
	n, err := s.client.Get(ctx, key).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("rate limit read for %q: %w: %w", key, sentinel.ErrUnavailable, err)
	}
	return n, nil
}
