package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
)

func testVector() biometric.FeatureVector {
	return biometric.FeatureVector{
		MeanDwellMs:    80,
		DwellVariance:  25,
		MeanFlightMs:   70,
		TypingSpeedCPM: 400,
		EventCount:     20,
	}
}

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/predict", r.URL.Path)
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Features, 6)
		assert.Equal(t, 80.0, req.Features[0])
		json.NewEncoder(w).Encode(predictResponse{Score: 72.5})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	score, err := c.Predict(context.Background(), testVector())
	require.NoError(t, err)
	assert.Equal(t, 72.5, score)
}

func TestPredictServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Predict(context.Background(), testVector())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestPredictScoreOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(predictResponse{Score: 150})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Predict(context.Background(), testVector())
	assert.Error(t, err)
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL).Healthy(context.Background()))
}
