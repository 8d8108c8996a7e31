// Package ml provides the HTTP client for the external anomaly model
// service. It implements the secondary scorer the matcher blends in when
// configured; the engine falls back to the statistical scorer whenever the
// service is slow or down.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
)

// Client talks to the anomaly model service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client with a hot-path friendly timeout; a scorer
// that takes longer than this is worse than no scorer.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Score              float64 `json:"score"` // [0,100]
	AnomalyProbability float64 `json:"anomaly_probability"`
}

// Predict scores a feature vector against the served model, returning a
// confidence in [0,100].
func (c *Client) Predict(ctx context.Context, fv biometric.FeatureVector) (float64, error) {
	req := predictRequest{Features: featureSlice(fv)}
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("ml: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("ml: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("ml: predict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("ml: predict status %d: %s", resp.StatusCode, raw)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("ml: decode response: %w", err)
	}
	if out.Score < 0 || out.Score > 100 {
		return 0, fmt.Errorf("ml: score %v out of range", out.Score)
	}
	return out.Score, nil
}

// Healthy reports whether the model service answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ml: health status %d", resp.StatusCode)
	}
	return nil
}

// featureSlice flattens the vector in a fixed order the model was trained
// on. Do not reorder.
func featureSlice(fv biometric.FeatureVector) []float64 {
	return []float64{
		fv.MeanDwellMs,
		fv.DwellVariance,
		fv.MeanFlightMs,
		fv.TypingSpeedCPM,
		fv.MeanDigraphLatency(),
		float64(fv.EventCount),
	}
}
