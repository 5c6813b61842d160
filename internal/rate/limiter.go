// Package rate limits entry points before they reach the auth orchestrator.
// Two backends: a Redis fixed window shared across replicas, and an
// in-process token bucket used when Redis is not configured.
package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter answers whether a caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

const defaultRedisPrefix = "authgate:rl:"

var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local current = redis.call("INCR", key)
if current == 1 then
  redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
  ttl = window_ms
end

if current > limit then
  return {0, ttl}
end
return {1, ttl}
`)

// RedisLimiter is a fixed-window counter per key.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter builds a limiter allowing limit requests per window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	windowMS := int64(l.window / time.Millisecond)
	if windowMS <= 0 {
		return false, 0, fmt.Errorf("rate: invalid window")
	}

	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.limit, windowMS).Result()
	if err != nil {
		return false, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("rate: unexpected redis response")
	}
	allowed, ok := vals[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("rate: unexpected redis response")
	}
	ttlMS, ok := vals[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("rate: unexpected redis response")
	}
	return allowed == 1, time.Duration(ttlMS) * time.Millisecond, nil
}

// MemoryLimiter is a per-key token bucket with idle-entry eviction.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewMemoryLimiter allows roughly maxPerWindow requests per window per key.
func NewMemoryLimiter(maxPerWindow int, window time.Duration) *MemoryLimiter {
	per := rate.Every(window / time.Duration(maxPerWindow))
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		limit:   per,
		burst:   maxPerWindow,
		ttl:     5 * time.Minute,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now

	if len(l.buckets) > 1024 {
		l.sweep(now)
	}

	if !b.lim.Allow() {
		return false, time.Second, nil
	}
	return true, 0, nil
}

// sweep drops buckets idle past the TTL. Caller holds the lock.
func (l *MemoryLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > l.ttl {
			delete(l.buckets, k)
		}
	}
}
