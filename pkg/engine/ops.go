package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
	"github.com/amartubs/typemagic-guard-sub003/pkg/config"
	"github.com/amartubs/typemagic-guard-sub003/pkg/fusion"
	"github.com/amartubs/typemagic-guard-sub003/pkg/profile"
	"github.com/amartubs/typemagic-guard-sub003/pkg/risk"
	"github.com/amartubs/typemagic-guard-sub003/pkg/structlog"
)

// GetProfileSummary returns the caller-facing view of a user's baseline.
// A user who never submitted a sample reads as a fresh learning profile.
func (s *Service) GetProfileSummary(ctx context.Context, userID string) (profile.Summary, error) {
	if userID == "" {
		return profile.Summary{}, fmt.Errorf("engine: user id is required")
	}
	p, err := s.profiles.Load(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		return profile.New(userID, s.now()).Summarize(), nil
	}
	if err != nil {
		return profile.Summary{}, err
	}
	return p.Summarize(), nil
}

// UpdateSecurityConfig applies a partial update to the user's security
// config. An invalid patch returns a *config.ConfigurationError and leaves
// the stored config untouched.
func (s *Service) UpdateSecurityConfig(ctx context.Context, userID string, patch config.Patch) (config.SecurityConfig, error) {
	if userID == "" {
		return config.SecurityConfig{}, fmt.Errorf("engine: user id is required")
	}
	if s.configs == nil {
		return config.SecurityConfig{}, fmt.Errorf("engine: config store not configured")
	}
	cur := s.securityConfig(ctx, userID)
	next := cur.Apply(patch)
	if err := next.Validate(); err != nil {
		return config.SecurityConfig{}, err
	}
	if err := s.configs.SaveConfig(ctx, userID, next); err != nil {
		return config.SecurityConfig{}, err
	}
	s.log.Info("security config updated", structlog.Fields{"user_id": userID})
	return next, nil
}

// AssessRisk evaluates session risk from context plus any fresh samples.
// Samples too short to extract are skipped; with no usable sample the
// profile's own confidence discounts the raw risk. The assessment is
// appended to the audit store best-effort.
func (s *Service) AssessRisk(ctx context.Context, userID, sessionID string, rctx risk.Context, samples []biometric.Sample) (*risk.Assessment, error) {
	if userID == "" {
		return nil, fmt.Errorf("engine: user id is required")
	}
	prof, degraded := s.loadForScoring(ctx, userID, s.now())
	if degraded {
		rctx.Degraded = true
	}

	scores := make(map[biometric.Modality]fusion.Input)
	for _, smp := range samples {
		fv, err := biometric.Extract(smp)
		if err != nil {
			continue
		}
		res := s.scorer.Score(ctx, fv, prof)
		if res.SecondaryErr != nil {
			s.log.Warn("secondary scorer failed during risk assessment", structlog.Fields{
				"user_id": userID, "error": res.SecondaryErr.Error(),
			})
		}
		scores[smp.Modality] = fusion.Input{Score: res.Confidence, Quality: fv.Quality()}
	}

	combined := prof.ConfidenceScore
	if len(scores) > 0 {
		combined = s.fuser.Fuse(scores, prof.Weights).Combined
	}

	cfg := s.securityConfig(ctx, userID)
	a, err := s.riskEng.Assess(ctx, userID, sessionID, rctx, combined, cfg)
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		if aerr := s.audit.Append(ctx, a); aerr != nil {
			s.log.Error("risk audit append failed", structlog.Fields{
				"user_id": userID, "error": aerr.Error(),
			})
		}
	}
	if a.ActionRequired != risk.ActionNone {
		s.log.SecurityEvent("risk_action_required", structlog.Fields{
			"user_id":    userID,
			"session_id": sessionID,
			"risk_score": a.RiskScore,
			"action":     string(a.ActionRequired),
		})
	}
	return a, nil
}

// LockProfile forces the user's profile into the locked state. Locking an
// already locked profile is a no-op.
func (s *Service) LockProfile(ctx context.Context, userID, reason string) error {
	err := s.mutateProfile(ctx, userID, func(p *profile.Profile) (bool, error) {
		if p.Status == profile.StatusLocked {
			return false, nil
		}
		return true, p.TransitionTo(profile.StatusLocked)
	})
	if err != nil {
		return err
	}
	s.log.SecurityEvent("profile_locked", structlog.Fields{"user_id": userID, "reason": reason})
	return nil
}

// UnlockProfile returns a locked profile to learning so the baseline
// re-establishes before full trust resumes. Unlocking a profile that is not
// locked is a no-op.
func (s *Service) UnlockProfile(ctx context.Context, userID string) error {
	err := s.mutateProfile(ctx, userID, func(p *profile.Profile) (bool, error) {
		if p.Status != profile.StatusLocked {
			return false, nil
		}
		return true, s.learner.Unlock(p)
	})
	if err != nil {
		return err
	}
	s.log.SecurityEvent("profile_unlocked", structlog.Fields{"user_id": userID})
	return nil
}

// mutateProfile runs fn on the stored profile under the per-user lock and
// saves it, retrying on version conflicts. fn returning false skips the
// save.
func (s *Service) mutateProfile(ctx context.Context, userID string, fn func(*profile.Profile) (bool, error)) error {
	if userID == "" {
		return fmt.Errorf("engine: user id is required")
	}
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	for retry := 0; retry < saveRetryLimit; retry++ {
		p, err := s.profiles.Load(ctx, userID)
		if errors.Is(err, profile.ErrNotFound) {
			p = profile.New(userID, s.now())
		} else if err != nil {
			return err
		}
		expected := p.Version

		save, err := fn(p)
		if err != nil {
			return err
		}
		if !save {
			return nil
		}
		p.LastUpdated = s.now()

		err = s.profiles.Save(ctx, p, expected)
		if err == nil {
			s.cache.Put(ctx, p)
			return nil
		}
		if !errors.Is(err, profile.ErrVersionConflict) {
			return err
		}
	}
	return profile.ErrVersionConflict
}
