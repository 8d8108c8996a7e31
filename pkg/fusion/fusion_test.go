package fusion

import (
	"math"
	"testing"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
	"github.com/amartubs/typemagic-guard-sub003/pkg/profile"
)

func TestFuse_TwoModalities(t *testing.T) {
	f := NewFuser(DefaultConfig())
	scores := map[biometric.Modality]Input{
		biometric.ModalityKeystroke: {Score: 80, Quality: 0.8},
		biometric.ModalityMouse:     {Score: 50, Quality: 0.3},
	}

	res := f.Fuse(scores, profile.DefaultWeights())

	want := (80*0.30 + 50*0.25) / (0.30 + 0.25)
	if math.Abs(res.Combined-want) > 1e-9 {
		t.Errorf("combined = %.4f, want %.4f", res.Combined, want)
	}
	if !res.Success {
		t.Errorf("success = false at combined %.2f, want true", res.Combined)
	}
}

func TestFuse_MissingWeightsFallBackToDefaults(t *testing.T) {
	f := NewFuser(DefaultConfig())
	scores := map[biometric.Modality]Input{
		biometric.ModalityKeystroke: {Score: 90, Quality: 0.9},
	}

	res := f.Fuse(scores, profile.Weights{})
	if res.Combined != 90 {
		t.Errorf("single modality combined = %.2f, want 90", res.Combined)
	}
}

func TestFuse_NoScores(t *testing.T) {
	f := NewFuser(DefaultConfig())
	res := f.Fuse(nil, profile.DefaultWeights())
	if res.Combined != 0 || res.Success {
		t.Errorf("empty fuse = %+v, want zero result", res)
	}
}

func TestFuse_FailureBelowThreshold(t *testing.T) {
	f := NewFuser(DefaultConfig())
	scores := map[biometric.Modality]Input{
		biometric.ModalityKeystroke: {Score: 40, Quality: 0.8},
	}
	res := f.Fuse(scores, profile.DefaultWeights())
	if res.Success {
		t.Errorf("success at combined %.2f, want failure", res.Combined)
	}
}

func TestAdaptWeights_NudgesGoodQualityOnly(t *testing.T) {
	f := NewFuser(DefaultConfig())
	w := profile.DefaultWeights()
	scores := map[biometric.Modality]Input{
		biometric.ModalityKeystroke: {Score: 80, Quality: 0.8},
		biometric.ModalityMouse:     {Score: 70, Quality: 0.3},
	}

	changed := f.AdaptWeights(w, scores, Result{Combined: 75, Success: true}, true)
	if !changed {
		t.Fatal("expected weights to change")
	}
	if math.Abs(w[biometric.ModalityKeystroke]-0.30*1.01) > 1e-9 {
		t.Errorf("keystroke weight = %.4f, want %.4f", w[biometric.ModalityKeystroke], 0.30*1.01)
	}
	if w[biometric.ModalityMouse] != 0.25 {
		t.Errorf("low-quality mouse weight changed to %.4f", w[biometric.ModalityMouse])
	}
}

func TestAdaptWeights_Gates(t *testing.T) {
	f := NewFuser(DefaultConfig())
	scores := map[biometric.Modality]Input{
		biometric.ModalityKeystroke: {Score: 80, Quality: 0.9},
	}

	w := profile.DefaultWeights()
	if f.AdaptWeights(w, scores, Result{Success: false}, true) {
		t.Error("weights adapted on failure")
	}
	if f.AdaptWeights(w, scores, Result{Success: true}, false) {
		t.Error("weights adapted with adaptive learning disabled")
	}
}

func TestAdaptWeights_Cap(t *testing.T) {
	f := NewFuser(DefaultConfig())
	w := profile.Weights{biometric.ModalityKeystroke: 0.999}
	scores := map[biometric.Modality]Input{
		biometric.ModalityKeystroke: {Score: 90, Quality: 0.9},
	}

	f.AdaptWeights(w, scores, Result{Combined: 90, Success: true}, true)
	if w[biometric.ModalityKeystroke] != 1.0 {
		t.Errorf("weight = %.4f, want capped at 1.0", w[biometric.ModalityKeystroke])
	}
	// A second nudge at the cap is a no-op.
	if f.AdaptWeights(w, scores, Result{Combined: 90, Success: true}, true) {
		t.Error("capped weight reported as changed")
	}
}
