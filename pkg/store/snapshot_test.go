package store

import (
	"context"
	"testing"
	"time"

	"github.com/amartubs/typemagic-guard-sub003/pkg/profile"
)

func TestSnapshotCacheLocalFallback(t *testing.T) {
	c := NewSnapshotCache(nil, time.Minute)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "alice"); ok {
		t.Fatal("expected miss on empty cache")
	}

	p := profile.New("alice", time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	p.ConfidenceScore = 85
	c.Put(ctx, p)

	got, ok := c.Get(ctx, "alice")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if got.UserID != "alice" || got.ConfidenceScore != 85 {
		t.Errorf("snapshot mismatch: %+v", got)
	}
	if got.Status != profile.StatusLearning {
		t.Errorf("status = %v, want learning", got.Status)
	}
	if len(got.Weights) == 0 {
		t.Error("weights lost through the cache round trip")
	}
}

func TestSnapshotCacheReturnsCopy(t *testing.T) {
	c := NewSnapshotCache(nil, time.Minute)
	ctx := context.Background()

	p := profile.New("bob", time.Now())
	c.Put(ctx, p)

	first, _ := c.Get(ctx, "bob")
	first.ConfidenceScore = 99

	second, _ := c.Get(ctx, "bob")
	if second.ConfidenceScore == 99 {
		t.Error("cached snapshot aliased between reads")
	}
}
