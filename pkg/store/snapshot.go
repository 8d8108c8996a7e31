package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amartubs/typemagic-guard-sub003/pkg/profile"
)

const snapshotKeyPrefix = "guard:profile:"

// SnapshotCache keeps last-known-good profile snapshots in Redis so any node
// can score in degraded mode when Postgres is slow. Every write also lands in
// a local map; when Redis itself is down the node still has its own last
// reads to fall back on.
type SnapshotCache struct {
	rdb   *redis.Client // optional
	ttl   time.Duration
	local sync.Map // userID -> []byte
}

// NewSnapshotCache builds a cache. rdb may be nil for a purely local cache.
func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

func (c *SnapshotCache) Get(ctx context.Context, userID string) (*profile.Profile, bool) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, snapshotKeyPrefix+userID).Bytes()
		if err == nil {
			if p := decodeSnapshot(raw); p != nil {
				return p, true
			}
		}
	}
	v, ok := c.local.Load(userID)
	if !ok {
		return nil, false
	}
	if p := decodeSnapshot(v.([]byte)); p != nil {
		return p, true
	}
	return nil, false
}

// Put stores the snapshot best-effort; a Redis failure degrades silently to
// the local copy.
func (c *SnapshotCache) Put(ctx context.Context, p *profile.Profile) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	c.local.Store(p.UserID, raw)
	if c.rdb != nil {
		c.rdb.Set(ctx, snapshotKeyPrefix+p.UserID, raw, c.ttl)
	}
}

func decodeSnapshot(raw []byte) *profile.Profile {
	var p profile.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if len(p.Weights) == 0 {
		p.Weights = profile.DefaultWeights()
	}
	return &p
}
