// Package matcher computes the similarity-based confidence between a fresh
// sample and a profile's retained baseline patterns. The primary scorer is
// purely statistical; an optional secondary learned scorer can be injected
// and is blended at a fixed ratio. Every production scoring path is
// deterministic for identical model state and input.
package matcher

import (
	"context"
	"fmt"
	"math"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
	"github.com/amartubs/typemagic-guard-sub003/pkg/profile"
)

// SecondaryScorer is the extension point for a learned model. It must be
// deterministic given identical model state and input; implementations that
// fabricate scores from randomness break the scoring contract.
type SecondaryScorer interface {
	Predict(ctx context.Context, fv biometric.FeatureVector) (float64, error)
}

// Config holds the documented scoring tunables.
type Config struct {
	// DwellWeight (k1) is the confidence penalty per millisecond of mean
	// dwell-time deviation from a baseline pattern.
	DwellWeight float64
	// FlightWeight (k2) is the penalty per millisecond of mean flight-time
	// deviation. Flight times vary more between sessions than dwell times,
	// so the default is lower.
	FlightWeight float64
	// EnrollmentConfidence is returned for a profile with no retained
	// patterns; a first-ever sample is never rejected.
	EnrollmentConfidence float64
	// SecondaryBlend is the share of the combined confidence taken from the
	// secondary scorer when one is configured.
	SecondaryBlend float64
}

// DefaultConfig returns production-tuned scoring constants.
func DefaultConfig() Config {
	return Config{
		DwellWeight:          0.8,
		FlightWeight:         0.5,
		EnrollmentConfidence: 85,
		SecondaryBlend:       0.3,
	}
}

// Validate bounds-checks the tunables.
func (c Config) Validate() error {
	if c.DwellWeight < 0 || c.FlightWeight < 0 {
		return fmt.Errorf("matcher: deviation weights must be non-negative")
	}
	if c.EnrollmentConfidence < 0 || c.EnrollmentConfidence > 100 {
		return fmt.Errorf("matcher: enrollment confidence must be within [0,100]")
	}
	if c.SecondaryBlend < 0 || c.SecondaryBlend > 1 {
		return fmt.Errorf("matcher: secondary blend must be within [0,1]")
	}
	return nil
}

// Result is the outcome of scoring one sample against one profile.
type Result struct {
	// Confidence is the final clamped score on [0,100].
	Confidence float64
	// Enrollment signals the caller to treat the sample as the profile's
	// first baseline pattern rather than a match attempt.
	Enrollment bool
	// Primary is the statistical confidence before any secondary blending.
	Primary float64
	// SecondaryUsed reports whether a secondary prediction contributed.
	SecondaryUsed bool
	// SecondaryErr carries a failed secondary prediction so the caller can
	// log it; the result falls back to the primary score and stays valid.
	SecondaryErr error
}

// Scorer matches samples against baseline patterns.
type Scorer struct {
	cfg       Config
	secondary SecondaryScorer
}

// NewScorer builds a scorer; secondary may be nil.
func NewScorer(cfg Config, secondary SecondaryScorer) *Scorer {
	return &Scorer{cfg: cfg, secondary: secondary}
}

// Score computes the confidence that the sample behind fv belongs to the
// profile's owner. Read-only against the profile snapshot.
func (s *Scorer) Score(ctx context.Context, fv biometric.FeatureVector, p *profile.Profile) Result {
	if p.PatternCount() == 0 {
		return Result{Confidence: s.cfg.EnrollmentConfidence, Primary: s.cfg.EnrollmentConfidence, Enrollment: true}
	}

	primary := s.primaryConfidence(fv, p.Patterns)
	res := Result{Confidence: primary, Primary: primary}

	if s.secondary != nil {
		sec, err := s.secondary.Predict(ctx, fv)
		if err != nil {
			res.SecondaryErr = fmt.Errorf("secondary scorer: %w", err)
		} else {
			res.SecondaryUsed = true
			res.Confidence = (1-s.cfg.SecondaryBlend)*primary + s.cfg.SecondaryBlend*biometric.Clamp(sec, 0, 100)
		}
	}

	res.Confidence = biometric.Clamp(res.Confidence, 0, 100)
	return res
}

// primaryConfidence combines per-pattern similarities with linear recency
// weighting: the i-th oldest of n patterns carries weight i+1, so recent
// behavior dominates without discarding the older baseline.
func (s *Scorer) primaryConfidence(fv biometric.FeatureVector, patterns []profile.Pattern) float64 {
	var weighted, total float64
	for i, pat := range patterns {
		w := float64(i + 1)
		weighted += w * s.similarity(fv, pat.Features)
		total += w
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// similarity scores one pattern on [0,100]: a perfect match is 100, and each
// millisecond of mean dwell/flight deviation subtracts the configured weight.
func (s *Scorer) similarity(a, b biometric.FeatureVector) float64 {
	penalty := s.cfg.DwellWeight*math.Abs(a.MeanDwellMs-b.MeanDwellMs) +
		s.cfg.FlightWeight*math.Abs(a.MeanFlightMs-b.MeanFlightMs)
	return biometric.Clamp(100-penalty, 0, 100)
}
