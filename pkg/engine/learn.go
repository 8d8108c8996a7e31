package engine

import (
	"context"
	"errors"
	"time"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
	"github.com/amartubs/typemagic-guard-sub003/pkg/fusion"
	"github.com/amartubs/typemagic-guard-sub003/pkg/learning"
	"github.com/amartubs/typemagic-guard-sub003/pkg/profile"
	"github.com/amartubs/typemagic-guard-sub003/pkg/structlog"
)

const (
	learnTimeout   = 5 * time.Second
	saveRetryLimit = 3
)

type learnTask struct {
	pattern  profile.Pattern
	outcome  learning.Outcome
	scores   map[biometric.Modality]fusion.Input
	fused    fusion.Result
	adaptive bool
	attempt  Attempt
	learn    bool // false for record-only tasks (e.g. locked-profile attempts)
}

// dispatch hands a task to the worker, or applies it inline in synchronous
// mode. A full queue drops the learning update with a log line; attempt
// recording and absorption are both best-effort, the auth result already
// went out.
func (s *Service) dispatch(t learnTask) {
	if s.opts.SynchronousLearning {
		s.applyLearning(t)
		return
	}
	select {
	case s.queue <- t:
	default:
		s.log.Warn("learning queue full, dropping update", structlog.Fields{
			"user_id": t.attempt.UserID,
		})
	}
}

func (s *Service) learnWorker() {
	defer s.wg.Done()
	for t := range s.queue {
		s.applyLearning(t)
	}
}

// applyLearning records the attempt and, for learn tasks, absorbs the
// pattern and nudges fusion weights under the per-user lock. Version
// conflicts reload and retry; the absorption is recomputed against the
// fresh profile each time.
func (s *Service) applyLearning(t learnTask) {
	ctx, cancel := context.WithTimeout(context.Background(), learnTimeout)
	defer cancel()

	userID := t.attempt.UserID

	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.history.RecordAttempt(ctx, t.attempt); err != nil {
		s.log.Error("attempt recording failed", structlog.Fields{
			"user_id": userID, "error": err.Error(),
		})
	}
	if !t.learn {
		return
	}

	appended := false
	for retry := 0; retry < saveRetryLimit; retry++ {
		p, err := s.profiles.Load(ctx, userID)
		if errors.Is(err, profile.ErrNotFound) {
			p = profile.New(userID, t.pattern.CapturedAt)
		} else if err != nil {
			s.log.Error("profile load failed, learning skipped", structlog.Fields{
				"user_id": userID, "error": err.Error(),
			})
			return
		}
		expected := p.Version

		absorbed := s.learner.Absorb(p, t.pattern, t.outcome)
		adapted := s.fuser.AdaptWeights(p.Weights, t.scores, t.fused, t.adaptive)
		if !absorbed && !adapted {
			return
		}

		// Pattern rows key on the pattern ID, so re-appending on a save
		// retry is idempotent.
		if absorbed && !appended {
			if err := s.profiles.AppendPattern(ctx, userID, t.pattern); err != nil {
				s.log.Error("pattern append failed", structlog.Fields{
					"user_id": userID, "error": err.Error(),
				})
			} else {
				appended = true
			}
		}

		err = s.profiles.Save(ctx, p, expected)
		if err == nil {
			s.cache.Put(ctx, p)
			if absorbed {
				s.log.Debug("pattern absorbed", structlog.Fields{
					"user_id": userID,
					"status":  p.Status.String(),
					"count":   len(p.Patterns),
				})
			}
			return
		}
		if errors.Is(err, profile.ErrVersionConflict) {
			continue
		}
		s.log.Error("profile save failed", structlog.Fields{
			"user_id": userID, "error": err.Error(),
		})
		return
	}
	s.log.Warn("profile save abandoned after repeated version conflicts", structlog.Fields{
		"user_id": userID,
	})
}
