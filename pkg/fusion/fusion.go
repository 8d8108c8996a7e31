// Package fusion combines per-modality confidence scores into a single
// authentication confidence using the profile's adaptively tuned modality
// weights.
package fusion

import (
	"fmt"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
	"github.com/amartubs/typemagic-guard-sub003/pkg/profile"
)

// Config holds the fusion tunables.
type Config struct {
	// SuccessThreshold is the combined confidence required for success.
	SuccessThreshold float64
	// GoodQualityThreshold gates which modalities earn a weight nudge.
	GoodQualityThreshold float64
	// NudgeFactor multiplies a modality's weight after a good-quality
	// successful authentication.
	NudgeFactor float64
	// MaxWeight caps any single modality weight.
	MaxWeight float64
}

// DefaultConfig returns the production fusion constants.
func DefaultConfig() Config {
	return Config{
		SuccessThreshold:     60,
		GoodQualityThreshold: 0.7,
		NudgeFactor:          1.01,
		MaxWeight:            1.0,
	}
}

// Validate bounds-checks the tunables.
func (c Config) Validate() error {
	if c.SuccessThreshold < 0 || c.SuccessThreshold > 100 {
		return fmt.Errorf("fusion: success threshold must be within [0,100]")
	}
	if c.GoodQualityThreshold < 0 || c.GoodQualityThreshold > 1 {
		return fmt.Errorf("fusion: quality threshold must be within [0,1]")
	}
	if c.NudgeFactor < 1 {
		return fmt.Errorf("fusion: nudge factor must be >= 1")
	}
	if c.MaxWeight <= 0 {
		return fmt.Errorf("fusion: max weight must be positive")
	}
	return nil
}

// Input is one modality's contribution: its confidence score on [0,100] and
// the sample quality on [0,1].
type Input struct {
	Score   float64
	Quality float64
}

// Result is the fused outcome.
type Result struct {
	Combined float64
	Success  bool
}

// Fuser combines modality scores.
type Fuser struct {
	cfg Config
}

func NewFuser(cfg Config) *Fuser {
	return &Fuser{cfg: cfg}
}

// Fuse computes the weight-normalized combination over the modalities
// present. Weights need not sum to 1; normalization happens here. Modalities
// without a weight fall back to the defaults.
func (f *Fuser) Fuse(scores map[biometric.Modality]Input, weights profile.Weights) Result {
	defaults := profile.DefaultWeights()

	var weighted, total float64
	for m, in := range scores {
		w, ok := weights[m]
		if !ok {
			w = defaults[m]
		}
		if w <= 0 {
			continue
		}
		weighted += biometric.Clamp(in.Score, 0, 100) * w
		total += w
	}

	if total == 0 {
		return Result{}
	}
	combined := weighted / total
	return Result{Combined: combined, Success: combined >= f.cfg.SuccessThreshold}
}

// AdaptWeights nudges up the weight of every good-quality modality after a
// successful, adaptive-learning authentication. Low-quality samples never
// reduce weights; decay is deliberately left to an explicit future policy.
// Returns whether any weight changed.
func (f *Fuser) AdaptWeights(weights profile.Weights, scores map[biometric.Modality]Input, res Result, adaptiveLearning bool) bool {
	if !res.Success || !adaptiveLearning {
		return false
	}

	changed := false
	for m, in := range scores {
		if in.Quality < f.cfg.GoodQualityThreshold {
			continue
		}
		w, ok := weights[m]
		if !ok {
			w = profile.DefaultWeights()[m]
		}
		nudged := w * f.cfg.NudgeFactor
		if nudged > f.cfg.MaxWeight {
			nudged = f.cfg.MaxWeight
		}
		if nudged != w {
			weights[m] = nudged
			changed = true
		}
	}
	return changed
}
