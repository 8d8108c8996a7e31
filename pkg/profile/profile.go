// Package profile holds the per-user biometric baseline: retained pattern
// records, the lifecycle state machine, adaptive modality weights, and the
// store contract collaborators implement.
package profile

import (
	"time"

	"github.com/google/uuid"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
)

// Pattern is one retained baseline pattern: the feature snapshot of a
// previously accepted sample. Raw timing events are never retained.
type Pattern struct {
	ID         uuid.UUID               `json:"id"`
	Features   biometric.FeatureVector `json:"features"`
	Modality   biometric.Modality      `json:"modality"`
	Context    string                  `json:"context"`
	CapturedAt time.Time               `json:"captured_at"`
}

// Weights maps modality to its fusion weight. Weights need not sum to 1;
// fusion normalizes at use time.
type Weights map[biometric.Modality]float64

// DefaultWeights returns the starting weights for a profile that has not
// adapted its own yet.
func DefaultWeights() Weights {
	return Weights{
		biometric.ModalityKeystroke:  0.30,
		biometric.ModalityMouse:      0.25,
		biometric.ModalityTouch:      0.20,
		biometric.ModalityBehavioral: 0.15,
		biometric.ModalityDevice:     0.10,
	}
}

// Clone returns an independent copy of w.
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Profile is a user's learned behavioral baseline. Mutated only by the
// continuous learning engine; owned exclusively by the user it represents.
type Profile struct {
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	ConfidenceScore float64   `json:"confidence_score"` // [0,100], capped at 95 by learning
	StabilityScore  float64   `json:"stability_score"`  // [0,1]
	Patterns        []Pattern `json:"patterns"`         // ordered oldest first
	Weights         Weights   `json:"weights"`
	Version         int64     `json:"version"` // optimistic concurrency token
	CreatedAt       time.Time `json:"created_at"`
	LastUpdated     time.Time `json:"last_updated"`
}

// New creates an empty learning profile for userID.
func New(userID string, now time.Time) *Profile {
	return &Profile{
		UserID:      userID,
		Status:      StatusLearning,
		Weights:     DefaultWeights(),
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// PatternCount returns the number of retained baseline patterns.
func (p *Profile) PatternCount() int { return len(p.Patterns) }

// TransitionTo moves the profile along a legal lifecycle edge, or returns
// ErrInvalidTransition. Transitioning to the current status is a no-op.
func (p *Profile) TransitionTo(to Status) error {
	if p.Status == to {
		return nil
	}
	if !canTransition(p.Status, to) {
		return ErrInvalidTransition
	}
	p.Status = to
	return nil
}

// Snapshot returns a deep copy safe for concurrent read-only scoring while
// the original is being mutated under the owner's write lock.
func (p *Profile) Snapshot() *Profile {
	cp := *p
	cp.Patterns = make([]Pattern, len(p.Patterns))
	copy(cp.Patterns, p.Patterns)
	cp.Weights = p.Weights.Clone()
	return &cp
}

// Summary is the read-model exposed to callers.
type Summary struct {
	UserID       string    `json:"user_id"`
	Status       string    `json:"status"`
	Confidence   float64   `json:"confidence"`
	PatternCount int       `json:"pattern_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Summarize builds the caller-facing view of the profile.
func (p *Profile) Summarize() Summary {
	return Summary{
		UserID:       p.UserID,
		Status:       p.Status.String(),
		Confidence:   p.ConfidenceScore,
		PatternCount: p.PatternCount(),
		LastUpdated:  p.LastUpdated,
	}
}
