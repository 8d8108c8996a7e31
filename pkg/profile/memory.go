package profile

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and single-node
// deployments that opt out of Postgres. Honors the same optimistic
// versioning contract as the durable stores.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	readErr  error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

// FailReads makes subsequent Loads return err, simulating an unavailable
// store. Pass nil to restore normal reads.
func (m *MemoryStore) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *MemoryStore) Load(ctx context.Context, userID string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Snapshot(), nil
}

func (m *MemoryStore) Save(ctx context.Context, p *Profile, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.profiles[p.UserID]
	if ok && cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	if !ok && expectedVersion != 0 {
		return ErrVersionConflict
	}

	saved := p.Snapshot()
	saved.Version = expectedVersion + 1
	saved.LastUpdated = time.Now()
	m.profiles[p.UserID] = saved
	p.Version = saved.Version
	return nil
}

func (m *MemoryStore) AppendPattern(ctx context.Context, userID string, pat Pattern) error {
	// Patterns ride along with Save in the in-memory model; nothing extra to
	// record.
	return ctx.Err()
}
