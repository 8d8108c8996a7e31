// Package ratelimit provides a sliding-window limiter for the sample
// ingestion surface. With Redis it is consistent across nodes; without it,
// or when Redis errors, it degrades to a per-process window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// slidingWindowScript atomically trims expired entries, counts the window,
// and admits the request if under capacity.
const slidingWindowScript = `
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local capacity = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local count = redis.call('ZCARD', key)
	if count < capacity then
		redis.call('ZADD', key, now, now .. ':' .. redis.call('INCR', key .. ':seq'))
		redis.call('PEXPIRE', key, window_ms + 1000)
		redis.call('PEXPIRE', key .. ':seq', window_ms + 1000)
		return {1, capacity - count - 1}
	end
	return {0, 0}
`

// SlidingWindowLimiter admits up to capacity requests per key per window.
type SlidingWindowLimiter struct {
	rdb      *redis.Client // optional
	capacity int
	window   time.Duration
	prefix   string
	local    *localLimiter
}

// NewSlidingWindowLimiter builds a limiter. rdb may be nil for a purely
// local limiter.
func NewSlidingWindowLimiter(rdb *redis.Client, capacity int, window time.Duration, keyPrefix string) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rdb:      rdb,
		capacity: capacity,
		window:   window,
		prefix:   keyPrefix,
		local:    newLocalLimiter(capacity, window),
	}
}

// Allow reports whether one more request for key fits in the window and how
// much capacity remains.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, int) {
	if l.rdb == nil {
		return l.local.allow(key, time.Now())
	}
	now := time.Now()
	result, err := l.rdb.Eval(ctx, slidingWindowScript,
		[]string{l.prefix + key},
		float64(now.UnixMicro())/1e3,
		float64(now.Add(-l.window).UnixMicro())/1e3,
		l.capacity,
		l.window.Milliseconds(),
	).Result()
	if err != nil {
		return l.local.allow(key, now)
	}
	res := result.([]interface{})
	return res[0].(int64) == 1, int(res[1].(int64))
}

// localLimiter is the in-process fallback: per-key timestamp rings pruned on
// each check.
type localLimiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	hits     map[string][]time.Time
}

func newLocalLimiter(capacity int, window time.Duration) *localLimiter {
	return &localLimiter{capacity: capacity, window: window, hits: make(map[string][]time.Time)}
}

func (l *localLimiter) allow(key string, now time.Time) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.capacity {
		l.hits[key] = kept
		return false, 0
	}
	l.hits[key] = append(kept, now)
	return true, l.capacity - len(l.hits[key])
}
