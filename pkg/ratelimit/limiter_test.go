package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLocalLimiterCapacity(t *testing.T) {
	l := NewSlidingWindowLimiter(nil, 3, time.Minute, "test:")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow(ctx, "alice")
		if !ok {
			t.Fatalf("request %d rejected under capacity", i)
		}
	}
	if ok, _ := l.Allow(ctx, "alice"); ok {
		t.Error("request over capacity admitted")
	}
	// Another key has its own window.
	if ok, _ := l.Allow(ctx, "bob"); !ok {
		t.Error("independent key rejected")
	}
}

func TestLocalLimiterWindowExpiry(t *testing.T) {
	l := newLocalLimiter(2, 100*time.Millisecond)
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	l.allow("alice", base)
	l.allow("alice", base)
	if ok, _ := l.allow("alice", base.Add(50*time.Millisecond)); ok {
		t.Error("admitted inside a full window")
	}
	if ok, _ := l.allow("alice", base.Add(150*time.Millisecond)); !ok {
		t.Error("rejected after the window slid past")
	}
}

// Every key the script writes must also get an expiry, or per-user keys
// accumulate in Redis forever.
func TestSlidingWindowScriptExpiresEveryKey(t *testing.T) {
	for _, key := range []string{"key,", "key .. ':seq',"} {
		if !strings.Contains(slidingWindowScript, "redis.call('PEXPIRE', "+key) {
			t.Errorf("script writes %s without an expiry", strings.TrimSuffix(key, ","))
		}
	}
}

func TestLocalLimiterRemaining(t *testing.T) {
	l := newLocalLimiter(5, time.Minute)
	now := time.Now()
	_, remaining := l.allow("alice", now)
	if remaining != 4 {
		t.Errorf("remaining = %d, want 4", remaining)
	}
}
