package profile

import (
	"context"
	"errors"
)

// Store errors. ErrNotFound is never surfaced to callers of the engine; a
// missing profile means first-time enrollment. ErrVersionConflict is retried
// transparently by the learning path.
var (
	ErrNotFound        = errors.New("profile not found")
	ErrVersionConflict = errors.New("profile version conflict")
)

// Store is the persistence contract the engine requires from collaborators.
// Implementations own encryption-at-rest of pattern payloads; the engine
// hands them opaque records only.
type Store interface {
	// Load returns the profile for userID, or ErrNotFound.
	Load(ctx context.Context, userID string) (*Profile, error)

	// Save persists the profile header and reconciles the retained pattern
	// set against expectedVersion. Returns ErrVersionConflict when another
	// writer got there first; callers re-read and retry.
	Save(ctx context.Context, p *Profile, expectedVersion int64) error

	// AppendPattern records one newly accepted pattern. Pattern records are
	// append-only; pruning happens through Save's reconciliation.
	AppendPattern(ctx context.Context, userID string, pat Pattern) error
}
