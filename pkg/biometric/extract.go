package biometric

import (
	"errors"
	"fmt"
)

// MinEventsPerSample is the minimum number of timing events required to
// derive stable statistics from a sample.
const MinEventsPerSample = 5

// ErrInsufficientData indicates the sample is too short to extract features
// from. Recoverable: the caller should request more input.
var ErrInsufficientData = errors.New("insufficient timing data")

// Extract converts a sample's raw timing events into a feature vector.
// Pure and deterministic: identical input always yields an identical vector.
func Extract(s Sample) (FeatureVector, error) {
	n := len(s.Events)
	if n < MinEventsPerSample {
		return FeatureVector{}, fmt.Errorf("%w: %d events, need %d", ErrInsufficientData, n, MinEventsPerSample)
	}

	dwells := make([]float64, n)
	for i, e := range s.Events {
		dwells[i] = e.Dwell()
	}

	flights := make([]float64, 0, n-1)
	digraphs := make([]DigraphLatency, 0, n-1)
	for i := 1; i < n; i++ {
		f := Flight(s.Events[i-1], s.Events[i])
		flights = append(flights, f)
		digraphs = append(digraphs, DigraphLatency{
			First:     s.Events[i-1].Key,
			Second:    s.Events[i].Key,
			LatencyMs: f,
		})
	}

	meanDwell := Mean(dwells)
	fv := FeatureVector{
		MeanDwellMs:   meanDwell,
		DwellVariance: Variance(dwells, meanDwell),
		MeanFlightMs:  Mean(flights),
		Digraphs:      digraphs,
		EventCount:    n,
	}

	spanMs := s.Events[n-1].ReleasedAt - s.Events[0].PressedAt
	if spanMs > 0 {
		fv.TypingSpeedCPM = float64(n) / float64(spanMs) * 60000
	}
	return fv, nil
}
