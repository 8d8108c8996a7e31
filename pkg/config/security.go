// Package config holds per-user security policy and its validation rules.
package config

import (
	"encoding/json"
	"fmt"
)

// Level is an authentication assurance level.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseLevel maps a stored level name back to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "low":
		return LevelLow, nil
	case "medium":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	case "critical":
		return LevelCritical, nil
	}
	return LevelLow, fmt.Errorf("unknown authentication level %q", s)
}

// Levels serialize by name so stored configs and API payloads stay readable.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// SecurityConfig is the per-user policy consulted by scoring and risk
// decisions. Mutable by the user/admin; always validated on write.
type SecurityConfig struct {
	MinConfidenceThreshold float64 `json:"min_confidence_threshold"`
	MaxRiskScore           float64 `json:"max_risk_score"`
	RiskTolerance          float64 `json:"risk_tolerance"`
	SessionTimeoutMinutes  int     `json:"session_timeout_minutes"`
	ChallengeEscalation    bool    `json:"challenge_escalation"`
	AdaptiveLearning       bool    `json:"adaptive_learning"`
	MinAuthenticationLevel Level   `json:"min_authentication_level"`
}

// DefaultSecurityConfig returns the policy applied to users that have not
// customized theirs.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MinConfidenceThreshold: 60,
		MaxRiskScore:           80,
		RiskTolerance:          50,
		SessionTimeoutMinutes:  30,
		ChallengeEscalation:    true,
		AdaptiveLearning:       true,
		MinAuthenticationLevel: LevelLow,
	}
}

// ConfigurationError reports an invalid configuration write. The original
// configuration is left unchanged when one is returned.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// Validate checks threshold bounds. Thresholds live on [0,100]; the session
// timeout must be positive.
func (c SecurityConfig) Validate() error {
	if c.MinConfidenceThreshold < 0 || c.MinConfidenceThreshold > 100 {
		return &ConfigurationError{Field: "min_confidence_threshold", Reason: "must be within [0,100]"}
	}
	if c.MaxRiskScore < 0 || c.MaxRiskScore > 100 {
		return &ConfigurationError{Field: "max_risk_score", Reason: "must be within [0,100]"}
	}
	if c.RiskTolerance < 0 || c.RiskTolerance > 100 {
		return &ConfigurationError{Field: "risk_tolerance", Reason: "must be within [0,100]"}
	}
	if c.SessionTimeoutMinutes <= 0 {
		return &ConfigurationError{Field: "session_timeout_minutes", Reason: "must be positive"}
	}
	if c.MinAuthenticationLevel < LevelLow || c.MinAuthenticationLevel > LevelCritical {
		return &ConfigurationError{Field: "min_authentication_level", Reason: "unknown level"}
	}
	return nil
}

// Patch is a partial SecurityConfig update; nil fields are left untouched.
type Patch struct {
	MinConfidenceThreshold *float64 `json:"min_confidence_threshold,omitempty"`
	MaxRiskScore           *float64 `json:"max_risk_score,omitempty"`
	RiskTolerance          *float64 `json:"risk_tolerance,omitempty"`
	SessionTimeoutMinutes  *int     `json:"session_timeout_minutes,omitempty"`
	ChallengeEscalation    *bool    `json:"challenge_escalation,omitempty"`
	AdaptiveLearning       *bool    `json:"adaptive_learning,omitempty"`
	MinAuthenticationLevel *Level   `json:"min_authentication_level,omitempty"`
}

// Apply returns a copy of c with the patch applied. The result still needs
// Validate before being persisted.
func (c SecurityConfig) Apply(p Patch) SecurityConfig {
	out := c
	if p.MinConfidenceThreshold != nil {
		out.MinConfidenceThreshold = *p.MinConfidenceThreshold
	}
	if p.MaxRiskScore != nil {
		out.MaxRiskScore = *p.MaxRiskScore
	}
	if p.RiskTolerance != nil {
		out.RiskTolerance = *p.RiskTolerance
	}
	if p.SessionTimeoutMinutes != nil {
		out.SessionTimeoutMinutes = *p.SessionTimeoutMinutes
	}
	if p.ChallengeEscalation != nil {
		out.ChallengeEscalation = *p.ChallengeEscalation
	}
	if p.AdaptiveLearning != nil {
		out.AdaptiveLearning = *p.AdaptiveLearning
	}
	if p.MinAuthenticationLevel != nil {
		out.MinAuthenticationLevel = *p.MinAuthenticationLevel
	}
	return out
}
