// Package biometric defines the timing primitives shared by the matching,
// learning, fusion, and risk packages: raw per-key timing events, captured
// samples, and the statistical feature vectors derived from them.
//
// Raw keystroke payloads never leave this package's derived form. Everything
// retained or persisted downstream is a FeatureVector; storing raw key
// sequences is a collaborator concern this engine deliberately avoids.
package biometric

import "time"

// Modality identifies an input channel contributing a partial confidence score.
type Modality string

const (
	ModalityKeystroke  Modality = "keystroke"
	ModalityMouse      Modality = "mouse"
	ModalityTouch      Modality = "touch"
	ModalityBehavioral Modality = "behavioral"
	ModalityDevice     Modality = "device"
)

// Known reports whether m is one of the supported modalities.
func (m Modality) Known() bool {
	switch m {
	case ModalityKeystroke, ModalityMouse, ModalityTouch, ModalityBehavioral, ModalityDevice:
		return true
	}
	return false
}

// TimingEvent is a single key press/release pair. Timestamps are Unix
// milliseconds. Events are immutable once captured.
type TimingEvent struct {
	Key        string `json:"key"`
	PressedAt  int64  `json:"pressed_at"`
	ReleasedAt int64  `json:"released_at"`
}

// Dwell returns how long the key was held down, in milliseconds.
func (e TimingEvent) Dwell() float64 {
	return float64(e.ReleasedAt - e.PressedAt)
}

// Flight returns the gap between releasing prev and pressing e, in
// milliseconds. Negative values (overlapping keys, a normal occurrence for
// fast typists) are preserved.
func Flight(prev, e TimingEvent) float64 {
	return float64(e.PressedAt - prev.ReleasedAt)
}

// Sample is an ordered sequence of timing events captured in one burst,
// tagged with the modality and the context it was captured in (e.g. "login").
// Immutable once captured.
type Sample struct {
	Events     []TimingEvent `json:"events"`
	Modality   Modality      `json:"modality"`
	Context    string        `json:"context"`
	CapturedAt time.Time     `json:"captured_at"`
}

// DigraphLatency is the flight time observed for a specific ordered key pair.
type DigraphLatency struct {
	First     string  `json:"first"`
	Second    string  `json:"second"`
	LatencyMs float64 `json:"latency_ms"`
}

// FeatureVector is the fixed-shape numeric summary of a sample. It is the
// only representation of typing behavior retained in profiles.
type FeatureVector struct {
	MeanDwellMs    float64          `json:"mean_dwell_ms"`
	DwellVariance  float64          `json:"dwell_variance"`
	MeanFlightMs   float64          `json:"mean_flight_ms"`
	TypingSpeedCPM float64          `json:"typing_speed_cpm"`
	Digraphs       []DigraphLatency `json:"digraphs"`
	EventCount     int              `json:"event_count"`
}

// MeanDigraphLatency returns the average digraph latency, the rhythm
// summary used by the diversity-preserving pruner.
func (fv FeatureVector) MeanDigraphLatency() float64 {
	if len(fv.Digraphs) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range fv.Digraphs {
		sum += d.LatencyMs
	}
	return sum / float64(len(fv.Digraphs))
}

// Quality estimates how much signal the sample carries, on [0,1]. Longer
// captures give the statistics more support; 30 events is treated as a full
// quality capture.
func (fv FeatureVector) Quality() float64 {
	const fullQualityEvents = 30
	q := float64(fv.EventCount) / fullQualityEvents
	if q > 1 {
		q = 1
	}
	return q
}
