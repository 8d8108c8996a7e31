// Package learning implements the continuous learning engine: it decides
// whether to absorb a new sample into a profile, applies bounded
// diversity-preserving pruning, recomputes stability and confidence, and
// drives the profile lifecycle state machine.
package learning

import (
	"fmt"
	"math"
	"sort"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
	"github.com/amartubs/typemagic-guard-sub003/pkg/profile"
)

// Config holds the documented learning tunables.
type Config struct {
	// MaxPatternsStored bounds the retained baseline.
	MaxPatternsStored int
	// MinPatternsForStability is the pattern count required before a profile
	// may activate and before the full confidence formula applies.
	MinPatternsForStability int
	// ActiveThreshold is the confidence required for learning -> active.
	ActiveThreshold float64
	// StabilityThreshold gates learning -> active and, when recomputed
	// stability falls below it, demotes active -> learning (drift).
	StabilityThreshold float64
	// RetainRecentFraction of MaxPatternsStored is kept unconditionally by
	// recency during pruning; the rest is selected for diversity.
	RetainRecentFraction float64
	// RecentWindow is the tail length used for the recent-stability bonus.
	RecentWindow int
	// MinAbsorbConfidence guards against learning from low-confidence
	// samples when the attempt did not succeed outright.
	MinAbsorbConfidence float64
}

// DefaultConfig returns the production learning constants.
func DefaultConfig() Config {
	return Config{
		MaxPatternsStored:       50,
		MinPatternsForStability: 10,
		ActiveThreshold:         70,
		StabilityThreshold:      0.85,
		RetainRecentFraction:    0.7,
		RecentWindow:            5,
		MinAbsorbConfidence:     70,
	}
}

// Validate bounds-checks the tunables.
func (c Config) Validate() error {
	if c.MaxPatternsStored < 1 {
		return fmt.Errorf("learning: max patterns must be positive")
	}
	if c.MinPatternsForStability < 1 || c.MinPatternsForStability > c.MaxPatternsStored {
		return fmt.Errorf("learning: min patterns for stability must be within [1,max]")
	}
	if c.ActiveThreshold < 0 || c.ActiveThreshold > 100 {
		return fmt.Errorf("learning: active threshold must be within [0,100]")
	}
	if c.StabilityThreshold < 0 || c.StabilityThreshold > 1 {
		return fmt.Errorf("learning: stability threshold must be within [0,1]")
	}
	if c.RetainRecentFraction <= 0 || c.RetainRecentFraction > 1 {
		return fmt.Errorf("learning: retain-recent fraction must be within (0,1]")
	}
	if c.RecentWindow < 1 {
		return fmt.Errorf("learning: recent window must be positive")
	}
	if c.MinAbsorbConfidence < 0 || c.MinAbsorbConfidence > 100 {
		return fmt.Errorf("learning: min absorb confidence must be within [0,100]")
	}
	return nil
}

// Outcome is the authentication result the learning decision is based on.
type Outcome struct {
	Success    bool
	Confidence float64
}

// Engine mutates profiles; callers serialize invocations per user.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Absorb folds a pattern into the profile if the outcome qualifies, then
// prunes, recomputes stability and confidence, and applies lifecycle
// transitions. Returns whether the pattern was absorbed. Locked profiles
// never learn.
func (e *Engine) Absorb(p *profile.Profile, pat profile.Pattern, out Outcome) bool {
	if p.Status == profile.StatusLocked {
		return false
	}
	if !out.Success && out.Confidence < e.cfg.MinAbsorbConfidence {
		return false
	}

	p.Patterns = append(p.Patterns, pat)
	sortPatterns(p.Patterns)
	if len(p.Patterns) > e.cfg.MaxPatternsStored {
		p.Patterns = e.prune(p.Patterns)
	}

	e.recompute(p)
	if pat.CapturedAt.After(p.LastUpdated) {
		p.LastUpdated = pat.CapturedAt
	}
	return true
}

// Reassess recomputes stability, confidence, and lifecycle status without
// absorbing anything; used after external pattern changes.
func (e *Engine) Reassess(p *profile.Profile) {
	e.recompute(p)
}

// Unlock resets an externally locked profile back to learning.
func (e *Engine) Unlock(p *profile.Profile) error {
	return p.TransitionTo(profile.StatusLearning)
}

func (e *Engine) recompute(p *profile.Profile) {
	p.StabilityScore = e.Stability(p.Patterns)
	p.ConfidenceScore = e.confidence(p)
	e.transition(p)
}

// Stability is 1 minus the coefficient of variation of typing speed across
// retained patterns: higher means more consistent behavior. Zero when fewer
// than 3 patterns exist, since the statistic is meaningless that early.
func (e *Engine) Stability(patterns []profile.Pattern) float64 {
	if len(patterns) < 3 {
		return 0
	}
	speeds := make([]float64, len(patterns))
	for i, pat := range patterns {
		speeds[i] = pat.Features.TypingSpeedCPM
	}
	return biometric.Clamp(1-biometric.CoefficientOfVariation(speeds), 0, 1)
}

// confidence implements the profile confidence formula. Capped at 95, never
// 100, to reflect irreducible uncertainty in behavioral signals.
func (e *Engine) confidence(p *profile.Profile) float64 {
	n := p.PatternCount()
	score := 50 + 2*float64(n)
	if n >= e.cfg.MinPatternsForStability {
		score += 30 * p.StabilityScore
		tail := p.Patterns
		if len(tail) > e.cfg.RecentWindow {
			tail = tail[len(tail)-e.cfg.RecentWindow:]
		}
		score += 10 * e.Stability(tail)
	}
	if n >= 2*e.cfg.MinPatternsForStability {
		score += 5
	}
	return biometric.Clamp(score, 0, 95)
}

// transition applies the promotion/demotion edges. Locking is never decided
// here; it comes from the failed-attempt collaborator via the engine API.
func (e *Engine) transition(p *profile.Profile) {
	switch p.Status {
	case profile.StatusLearning:
		if p.PatternCount() >= e.cfg.MinPatternsForStability &&
			p.ConfidenceScore >= e.cfg.ActiveThreshold &&
			p.StabilityScore >= e.cfg.StabilityThreshold {
			// Guarded edge; cannot fail from learning.
			_ = p.TransitionTo(profile.StatusActive)
		}
	case profile.StatusActive:
		if p.StabilityScore < e.cfg.StabilityThreshold {
			// Behavioral drift: fall back to learning.
			_ = p.TransitionTo(profile.StatusLearning)
		}
	}
}

// prune bounds the retained set: the most recent retainRecent patterns are
// kept verbatim, and the remaining capacity is filled from older patterns by
// greedy max-min diversity so the baseline preserves distinct typing modes
// instead of a single recent cluster. The canonical (capture time, id)
// ordering makes selection independent of absorption order for a fixed set.
func (e *Engine) prune(patterns []profile.Pattern) []profile.Pattern {
	max := e.cfg.MaxPatternsStored
	retainRecent := int(math.Ceil(e.cfg.RetainRecentFraction * float64(max)))
	if retainRecent > max {
		retainRecent = max
	}

	recent := patterns[len(patterns)-retainRecent:]
	older := patterns[:len(patterns)-retainRecent]
	capacity := max - retainRecent
	if len(older) <= capacity {
		out := make([]profile.Pattern, 0, max)
		return append(append(out, older...), recent...)
	}

	selected := selectDiverse(older, capacity)
	out := make([]profile.Pattern, 0, max)
	out = append(out, selected...)
	out = append(out, recent...)
	sortPatterns(out)
	return out
}

// selectDiverse picks k patterns maximizing pairwise behavioral distance:
// seed with the candidate farthest from all others, then repeatedly add the
// candidate with the greatest minimum distance to the selected set. Ties
// break on canonical order.
func selectDiverse(candidates []profile.Pattern, k int) []profile.Pattern {
	if k <= 0 {
		return nil
	}

	n := len(candidates)
	seed, bestTotal := 0, -1.0
	for i := 0; i < n; i++ {
		total := 0.0
		for j := 0; j < n; j++ {
			if i != j {
				total += patternDistance(candidates[i], candidates[j])
			}
		}
		if total > bestTotal {
			seed, bestTotal = i, total
		}
	}

	chosen := map[int]bool{seed: true}
	for len(chosen) < k {
		next, bestMin := -1, -1.0
		for i := 0; i < n; i++ {
			if chosen[i] {
				continue
			}
			minDist := math.MaxFloat64
			for j := range chosen {
				if d := patternDistance(candidates[i], candidates[j]); d < minDist {
					minDist = d
				}
			}
			if minDist > bestMin {
				next, bestMin = i, minDist
			}
		}
		chosen[next] = true
	}

	out := make([]profile.Pattern, 0, k)
	for i := 0; i < n; i++ {
		if chosen[i] {
			out = append(out, candidates[i])
		}
	}
	return out
}

// patternDistance measures behavioral separation between two patterns:
// typing-speed difference plus digraph-interval rhythm difference.
func patternDistance(a, b profile.Pattern) float64 {
	return math.Abs(a.Features.TypingSpeedCPM-b.Features.TypingSpeedCPM) +
		math.Abs(a.Features.MeanDigraphLatency()-b.Features.MeanDigraphLatency())
}

// sortPatterns establishes the canonical oldest-first order with the pattern
// id as a fixed tie-break.
func sortPatterns(patterns []profile.Pattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		if !patterns[i].CapturedAt.Equal(patterns[j].CapturedAt) {
			return patterns[i].CapturedAt.Before(patterns[j].CapturedAt)
		}
		return patterns[i].ID.String() < patterns[j].ID.String()
	})
}
