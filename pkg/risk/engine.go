// Package risk combines biometric confidence with contextual signals into a
// bounded risk score and a required authentication action. Assessments are
// deterministic given identical inputs, stored history, and configuration;
// only the id and timestamp differ between runs, and both are injected.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
	"github.com/amartubs/typemagic-guard-sub003/pkg/config"
)

// Action is the access decision attached to an assessment.
type Action string

const (
	ActionNone      Action = "none"
	ActionChallenge Action = "challenge"
	ActionBlock     Action = "block"
)

// Risk factor names, stable identifiers for audit records.
const (
	FactorTimeAnomaly       = "time_anomaly"
	FactorLocationAnomaly   = "location_anomaly"
	FactorDeviceChange      = "device_change"
	FactorBehaviorDeviation = "behavior_deviation"
	FactorFailedAttempts    = "failed_attempts"
)

// Context carries the contextual signals for one assessment. Timestamp is
// part of the input so repeated assessments of the same moment are identical.
type Context struct {
	Timestamp       time.Time `json:"timestamp"`
	IPAddress       string    `json:"ip_address,omitempty"`
	Location        string    `json:"location,omitempty"`
	DeviceID        string    `json:"device_id,omitempty"`
	IsKnownLocation bool      `json:"is_known_location"`
	IsKnownDevice   bool      `json:"is_known_device"`
	Degraded        bool      `json:"degraded,omitempty"`
}

// Assessment is the append-only audit record of one risk evaluation. Never
// mutated after creation.
type Assessment struct {
	ID                  uuid.UUID    `json:"id"`
	UserID              string       `json:"user_id"`
	SessionID           string       `json:"session_id"`
	RiskScore           float64      `json:"risk_score"`
	RiskFactors         []string     `json:"risk_factors"`
	ConfidenceScore     float64      `json:"confidence_score"`
	AuthenticationLevel config.Level `json:"authentication_level"`
	ActionRequired      Action       `json:"action_required"`
	Timestamp           time.Time    `json:"timestamp"`
	Context             Context      `json:"context"`
}

// Histogram summarizes a user's authentication activity over a window.
type Histogram struct {
	ByHour    [24]int
	ByWeekday [7]int
	Total     int
}

// HistoryStore is the collaborator holding recent authentication activity.
type HistoryStore interface {
	// ActivityHistogram returns attempt counts by hour and weekday since the
	// given time.
	ActivityHistogram(ctx context.Context, userID string, since time.Time) (Histogram, error)
	// FailedAttempts returns the number of failed attempts since the given
	// time.
	FailedAttempts(ctx context.Context, userID string, since time.Time) (int, error)
	// BaselineConfidence returns the user's historical mean confidence; ok is
	// false when no history exists yet.
	BaselineConfidence(ctx context.Context, userID string) (float64, bool, error)
}

// AuditStore persists assessments. Records are append-only; expiry runs as
// an external idempotent job through PruneBefore.
type AuditStore interface {
	Append(ctx context.Context, a *Assessment) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds the documented risk weights and thresholds.
type Config struct {
	HistoryWindow time.Duration // lookback for activity and failures

	TimeAnomalyWeight float64 // scaled by anomaly degree [0,1]
	HourShareFloor    float64 // learned-frequency floor per hour bucket
	WeekdayShareFloor float64 // learned-frequency floor per weekday bucket
	MinHistoryTotal   int     // attempts required before time anomaly applies

	LocationWeight float64
	LocationDegree float64

	DeviceWeight float64
	DeviceDegree float64

	BehaviorWeight             float64
	BehaviorDeviationThreshold float64 // fraction of the 0-100 scale

	FailedAttemptsWeight    float64
	FailedAttemptsThreshold int
	FailedAttemptsSaturate  float64 // count at which the factor saturates

	ChallengeScore  float64 // challenge at or above this score
	EscalationScore float64 // challenge here too when escalation enabled

	CriticalLevel float64
	HighLevel     float64
	MediumLevel   float64
}

// DefaultConfig returns the production risk constants.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:              30 * 24 * time.Hour,
		TimeAnomalyWeight:          15,
		HourShareFloor:             0.02,
		WeekdayShareFloor:          0.05,
		MinHistoryTotal:            10,
		LocationWeight:             25,
		LocationDegree:             0.8,
		DeviceWeight:               30,
		DeviceDegree:               0.9,
		BehaviorWeight:             20,
		BehaviorDeviationThreshold: 0.4,
		FailedAttemptsWeight:       40,
		FailedAttemptsThreshold:    2,
		FailedAttemptsSaturate:     5,
		ChallengeScore:             70,
		EscalationScore:            50,
		CriticalLevel:              85,
		HighLevel:                  70,
		MediumLevel:                50,
	}
}

// Validate bounds-checks the tunables.
func (c Config) Validate() error {
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("risk: history window must be positive")
	}
	for name, w := range map[string]float64{
		"time anomaly":    c.TimeAnomalyWeight,
		"location":        c.LocationWeight,
		"device":          c.DeviceWeight,
		"behavior":        c.BehaviorWeight,
		"failed attempts": c.FailedAttemptsWeight,
	} {
		if w < 0 {
			return fmt.Errorf("risk: %s weight must be non-negative", name)
		}
	}
	if c.FailedAttemptsSaturate <= 0 {
		return fmt.Errorf("risk: failed-attempt saturation must be positive")
	}
	if c.BehaviorDeviationThreshold < 0 || c.BehaviorDeviationThreshold > 1 {
		return fmt.Errorf("risk: behavior deviation threshold must be within [0,1]")
	}
	return nil
}

// Engine evaluates contextual risk. The clock and id generator are injected
// so assessments stay reproducible under test.
type Engine struct {
	cfg     Config
	history HistoryStore
	now     func() time.Time
	newID   func() uuid.UUID
}

// NewEngine builds an engine over the given history collaborator.
func NewEngine(cfg Config, history HistoryStore) *Engine {
	return &Engine{cfg: cfg, history: history, now: time.Now, newID: uuid.New}
}

// WithClock overrides the clock and id source, for tests and replay.
func (e *Engine) WithClock(now func() time.Time, newID func() uuid.UUID) *Engine {
	e.now = now
	e.newID = newID
	return e
}

// Assess evaluates the contextual risk of an authentication given the fused
// biometric confidence. Read-only; persisting the record is the caller's
// concern.
func (e *Engine) Assess(ctx context.Context, userID, sessionID string, rctx Context, combinedConfidence float64, sec config.SecurityConfig) (*Assessment, error) {
	at := rctx.Timestamp
	if at.IsZero() {
		at = e.now()
		rctx.Timestamp = at
	}
	since := at.Add(-e.cfg.HistoryWindow)

	raw := 0.0
	factors := make([]string, 0, 5)

	degree, err := e.timeAnomalyDegree(ctx, userID, at, since)
	if err != nil {
		return nil, fmt.Errorf("time anomaly: %w", err)
	}
	if degree > 0 {
		raw += e.cfg.TimeAnomalyWeight * degree
		factors = append(factors, FactorTimeAnomaly)
	}

	if !rctx.IsKnownLocation {
		raw += e.cfg.LocationWeight * e.cfg.LocationDegree
		factors = append(factors, FactorLocationAnomaly)
	}

	if !rctx.IsKnownDevice {
		raw += e.cfg.DeviceWeight * e.cfg.DeviceDegree
		factors = append(factors, FactorDeviceChange)
	}

	baseline, ok, err := e.history.BaselineConfidence(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("baseline confidence: %w", err)
	}
	if ok {
		deviation := abs(combinedConfidence-baseline) / 100
		if deviation > e.cfg.BehaviorDeviationThreshold {
			if deviation > 1 {
				deviation = 1
			}
			raw += e.cfg.BehaviorWeight * deviation
			factors = append(factors, FactorBehaviorDeviation)
		}
	}

	failures, err := e.history.FailedAttempts(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed attempts: %w", err)
	}
	if failures > e.cfg.FailedAttemptsThreshold {
		degree := float64(failures) / e.cfg.FailedAttemptsSaturate
		if degree > 1 {
			degree = 1
		}
		raw += e.cfg.FailedAttemptsWeight * degree
		factors = append(factors, FactorFailedAttempts)
	}

	// High biometric confidence discounts contextual risk.
	score := biometric.Clamp(raw*(1-combinedConfidence/100), 0, 100)

	return &Assessment{
		ID:                  e.newID(),
		UserID:              userID,
		SessionID:           sessionID,
		RiskScore:           score,
		RiskFactors:         factors,
		ConfidenceScore:     combinedConfidence,
		AuthenticationLevel: e.level(score),
		ActionRequired:      e.action(score, sec),
		Timestamp:           at,
		Context:             rctx,
	}, nil
}

// timeAnomalyDegree compares the current hour and weekday against the user's
// learned activity distribution. Degree 0 means unremarkable; 1 means the
// user has effectively never authenticated at this time.
func (e *Engine) timeAnomalyDegree(ctx context.Context, userID string, at, since time.Time) (float64, error) {
	hist, err := e.history.ActivityHistogram(ctx, userID, since)
	if err != nil {
		return 0, err
	}
	if hist.Total < e.cfg.MinHistoryTotal {
		// Not enough history to call anything anomalous.
		return 0, nil
	}

	hourShare := float64(hist.ByHour[at.Hour()]) / float64(hist.Total)
	dayShare := float64(hist.ByWeekday[int(at.Weekday())]) / float64(hist.Total)

	degree := 0.0
	if hourShare < e.cfg.HourShareFloor {
		degree = 1 - hourShare/e.cfg.HourShareFloor
	}
	if dayShare < e.cfg.WeekdayShareFloor {
		if d := 1 - dayShare/e.cfg.WeekdayShareFloor; d > degree {
			degree = d
		}
	}
	return degree, nil
}

func (e *Engine) level(score float64) config.Level {
	switch {
	case score >= e.cfg.CriticalLevel:
		return config.LevelCritical
	case score >= e.cfg.HighLevel:
		return config.LevelHigh
	case score >= e.cfg.MediumLevel:
		return config.LevelMedium
	default:
		return config.LevelLow
	}
}

func (e *Engine) action(score float64, sec config.SecurityConfig) Action {
	switch {
	case score >= sec.MaxRiskScore:
		return ActionBlock
	case score >= e.cfg.ChallengeScore:
		return ActionChallenge
	case score >= e.cfg.EscalationScore && sec.ChallengeEscalation:
		return ActionChallenge
	default:
		return ActionNone
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
