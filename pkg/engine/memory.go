package engine

import (
	"context"
	"sync"
	"time"

	"github.com/amartubs/typemagic-guard-sub003/pkg/config"
	"github.com/amartubs/typemagic-guard-sub003/pkg/profile"
	"github.com/amartubs/typemagic-guard-sub003/pkg/risk"
)

// In-memory collaborators. They back tests and the database-less deployment
// mode; production wires the postgres implementations from pkg/store.

// MemoryHistory keeps authentication attempts in process.
type MemoryHistory struct {
	mu       sync.RWMutex
	attempts map[string][]Attempt
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{attempts: make(map[string][]Attempt)}
}

func (m *MemoryHistory) RecordAttempt(ctx context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.UserID] = append(m.attempts[a.UserID], a)
	return nil
}

func (m *MemoryHistory) ActivityHistogram(ctx context.Context, userID string, since time.Time) (risk.Histogram, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var h risk.Histogram
	for _, a := range m.attempts[userID] {
		if a.At.Before(since) {
			continue
		}
		h.ByHour[a.At.Hour()]++
		h.ByWeekday[int(a.At.Weekday())]++
		h.Total++
	}
	return h, nil
}

func (m *MemoryHistory) FailedAttempts(ctx context.Context, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.attempts[userID] {
		if !a.Success && !a.At.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryHistory) BaselineConfidence(ctx context.Context, userID string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	attempts := m.attempts[userID]
	if len(attempts) == 0 {
		return 0, false, nil
	}
	sum := 0.0
	for _, a := range attempts {
		sum += a.Confidence
	}
	return sum / float64(len(attempts)), true, nil
}

// MemoryConfigStore keeps per-user security configs in process.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[string]config.SecurityConfig
}

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: make(map[string]config.SecurityConfig)}
}

func (m *MemoryConfigStore) LoadConfig(ctx context.Context, userID string) (config.SecurityConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[userID]
	return cfg, ok, nil
}

func (m *MemoryConfigStore) SaveConfig(ctx context.Context, userID string, cfg config.SecurityConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[userID] = cfg
	return nil
}

// MemoryAuditStore keeps risk assessments in process, append-only.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []*risk.Assessment
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (m *MemoryAuditStore) Append(ctx context.Context, a *risk.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, a)
	return nil
}

func (m *MemoryAuditStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var pruned int64
	for _, a := range m.records {
		if a.Timestamp.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, a)
	}
	m.records = kept
	return pruned, nil
}

// Records returns a copy of the stored assessments, oldest first.
func (m *MemoryAuditStore) Records() []*risk.Assessment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*risk.Assessment, len(m.records))
	copy(out, m.records)
	return out
}

// localCache is the fallback snapshot cache when no Redis-backed cache is
// wired. Snapshots are deep copies, so cached reads never alias live
// profiles.
type localCache struct {
	snapshots sync.Map // userID -> *profile.Profile
}

func newLocalCache() *localCache {
	return &localCache{}
}

func (c *localCache) Get(ctx context.Context, userID string) (*profile.Profile, bool) {
	v, ok := c.snapshots.Load(userID)
	if !ok {
		return nil, false
	}
	return v.(*profile.Profile).Snapshot(), true
}

func (c *localCache) Put(ctx context.Context, p *profile.Profile) {
	c.snapshots.Store(p.UserID, p.Snapshot())
}
