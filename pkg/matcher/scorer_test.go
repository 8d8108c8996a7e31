package matcher

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
	"github.com/amartubs/typemagic-guard-sub003/pkg/profile"
)

func fv(dwell, flight float64) biometric.FeatureVector {
	return biometric.FeatureVector{MeanDwellMs: dwell, MeanFlightMs: flight, EventCount: 20}
}

func profileWith(patterns ...biometric.FeatureVector) *profile.Profile {
	p := profile.New("u", time.Now())
	for i, f := range patterns {
		p.Patterns = append(p.Patterns, profile.Pattern{
			Features:   f,
			CapturedAt: time.Unix(int64(1000+i), 0),
		})
	}
	return p
}

func TestScore_EmptyProfileEnrolls(t *testing.T) {
	s := NewScorer(DefaultConfig(), nil)
	res := s.Score(context.Background(), fv(80, 70), profile.New("u", time.Now()))

	if !res.Enrollment {
		t.Error("expected enrollment signal for empty profile")
	}
	if res.Confidence != 85 {
		t.Errorf("enrollment confidence = %.1f, want 85", res.Confidence)
	}
}

func TestScore_PerfectMatch(t *testing.T) {
	s := NewScorer(DefaultConfig(), nil)
	p := profileWith(fv(80, 70), fv(80, 70))
	res := s.Score(context.Background(), fv(80, 70), p)

	if res.Confidence != 100 {
		t.Errorf("perfect match confidence = %.1f, want 100", res.Confidence)
	}
	if res.Enrollment {
		t.Error("unexpected enrollment signal")
	}
}

func TestScore_Bounds(t *testing.T) {
	s := NewScorer(DefaultConfig(), nil)
	// Wildly different sample must clamp to 0, never go negative.
	p := profileWith(fv(80, 70))
	res := s.Score(context.Background(), fv(800, 900), p)
	if res.Confidence != 0 {
		t.Errorf("confidence = %.1f, want clamp to 0", res.Confidence)
	}
}

func TestScore_RecencyWeighting(t *testing.T) {
	cfg := DefaultConfig()
	s := NewScorer(cfg, nil)

	// Oldest matches poorly, newest matches perfectly. With linear recency
	// weighting the result must sit above the unweighted mean.
	p := profileWith(fv(120, 110), fv(80, 70))
	sample := fv(80, 70)

	simOld := 100 - cfg.DwellWeight*40 - cfg.FlightWeight*40
	unweighted := (simOld + 100) / 2
	want := (1*simOld + 2*100) / 3

	res := s.Score(context.Background(), sample, p)
	if math.Abs(res.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %.4f, want %.4f", res.Confidence, want)
	}
	if res.Confidence <= unweighted {
		t.Errorf("recency weighting had no effect: %.2f <= %.2f", res.Confidence, unweighted)
	}
}

type stubSecondary struct {
	score float64
	err   error
}

func (s stubSecondary) Predict(context.Context, biometric.FeatureVector) (float64, error) {
	return s.score, s.err
}

func TestScore_SecondaryBlend(t *testing.T) {
	s := NewScorer(DefaultConfig(), stubSecondary{score: 50})
	p := profileWith(fv(80, 70))
	res := s.Score(context.Background(), fv(80, 70), p)

	want := 0.7*100 + 0.3*50
	if math.Abs(res.Confidence-want) > 1e-9 {
		t.Errorf("blended confidence = %.2f, want %.2f", res.Confidence, want)
	}
	if !res.SecondaryUsed {
		t.Error("secondary not marked as used")
	}
}

func TestScore_SecondaryFailureFallsBack(t *testing.T) {
	s := NewScorer(DefaultConfig(), stubSecondary{err: errors.New("model unavailable")})
	p := profileWith(fv(80, 70))
	res := s.Score(context.Background(), fv(80, 70), p)

	if res.Confidence != res.Primary {
		t.Errorf("confidence = %.2f, want primary %.2f on secondary failure", res.Confidence, res.Primary)
	}
	if res.SecondaryErr == nil {
		t.Error("secondary failure not surfaced")
	}
	if res.SecondaryUsed {
		t.Error("failed secondary marked as used")
	}
}

func TestScore_Deterministic(t *testing.T) {
	s := NewScorer(DefaultConfig(), nil)
	p := profileWith(fv(82, 71), fv(79, 68), fv(85, 74))
	sample := fv(81, 70)

	a := s.Score(context.Background(), sample, p)
	b := s.Score(context.Background(), sample, p)
	if a.Confidence != b.Confidence {
		t.Errorf("scoring not deterministic: %.6f vs %.6f", a.Confidence, b.Confidence)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := DefaultConfig()
	bad.SecondaryBlend = 1.5
	if bad.Validate() == nil {
		t.Error("expected validation error for blend > 1")
	}
	if DefaultConfig().Validate() != nil {
		t.Error("default config must validate")
	}
}
