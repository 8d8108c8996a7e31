// Package engine wires the feature extractor, matcher, continuous learning,
// fusion, and risk assessment into the service collaborators call. Scoring
// runs read-only against profile snapshots and parallelizes freely across
// users; profile writes are serialized per user and retried on version
// conflicts. When the profile store misses its latency budget the engine
// scores against a cached snapshot and flags the result degraded instead of
// blocking the caller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
	"github.com/amartubs/typemagic-guard-sub003/pkg/config"
	"github.com/amartubs/typemagic-guard-sub003/pkg/fusion"
	"github.com/amartubs/typemagic-guard-sub003/pkg/learning"
	"github.com/amartubs/typemagic-guard-sub003/pkg/matcher"
	"github.com/amartubs/typemagic-guard-sub003/pkg/profile"
	"github.com/amartubs/typemagic-guard-sub003/pkg/risk"
	"github.com/amartubs/typemagic-guard-sub003/pkg/structlog"
)

// ErrPersistenceUnavailable marks a store that failed or missed its latency
// budget. Scoring continues in degraded mode; the error itself is logged,
// never surfaced as a request failure.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

// Attempt is one authentication attempt recorded into history.
type Attempt struct {
	UserID     string
	SessionID  string
	Success    bool
	Confidence float64
	At         time.Time
}

// HistoryStore extends the risk history queries with attempt recording.
type HistoryStore interface {
	risk.HistoryStore
	RecordAttempt(ctx context.Context, a Attempt) error
}

// ConfigStore persists per-user security configs. ok is false when the user
// has no stored config yet.
type ConfigStore interface {
	LoadConfig(ctx context.Context, userID string) (config.SecurityConfig, bool, error)
	SaveConfig(ctx context.Context, userID string, cfg config.SecurityConfig) error
}

// SnapshotCache holds the last known good profile per user for degraded-mode
// scoring. Implementations are best-effort; misses are fine.
type SnapshotCache interface {
	Get(ctx context.Context, userID string) (*profile.Profile, bool)
	Put(ctx context.Context, p *profile.Profile)
}

// SampleContext carries the contextual signals submitted with a sample.
type SampleContext struct {
	Label           string `json:"label"` // capture context, e.g. "login"
	SessionID       string `json:"session_id"`
	IPAddress       string `json:"ip_address,omitempty"`
	Location        string `json:"location,omitempty"`
	DeviceID        string `json:"device_id,omitempty"`
	IsKnownLocation bool   `json:"is_known_location"`
	IsKnownDevice   bool   `json:"is_known_device"`
}

// Anomaly describes why an attempt did not pass cleanly.
type Anomaly struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// AuthResult is the outcome of one submitted sample.
type AuthResult struct {
	Success    bool     `json:"success"`
	Confidence int      `json:"confidence"` // [0,100]
	Degraded   bool     `json:"degraded"`
	Enrollment bool     `json:"enrollment"`
	Anomaly    *Anomaly `json:"anomaly,omitempty"`
}

// Deps are the collaborators the engine requires. Audit, Configs, and Cache
// may be nil; the engine then audits nothing, applies default configs, and
// keeps snapshots in process.
type Deps struct {
	Profiles profile.Store
	History  HistoryStore
	Audit    risk.AuditStore
	Configs  ConfigStore
	Cache    SnapshotCache
}

// Options bundles the tunables of every stage.
type Options struct {
	Matcher  matcher.Config
	Learning learning.Config
	Fusion   fusion.Config
	Risk     risk.Config

	// StoreTimeout is the soft latency budget for hot-path store reads.
	StoreTimeout time.Duration
	// QueueSize bounds the asynchronous learning queue.
	QueueSize int
	// SynchronousLearning applies learning inline instead of queueing;
	// meant for tests and single-request embedders.
	SynchronousLearning bool
	// Secondary is the optional learned scorer.
	Secondary matcher.SecondaryScorer
	// Logger defaults to a stdout JSON logger.
	Logger *structlog.Logger
}

// DefaultOptions returns production defaults for every stage.
func DefaultOptions() Options {
	return Options{
		Matcher:      matcher.DefaultConfig(),
		Learning:     learning.DefaultConfig(),
		Fusion:       fusion.DefaultConfig(),
		Risk:         risk.DefaultConfig(),
		StoreTimeout: 50 * time.Millisecond,
		QueueSize:    256,
	}
}

// Service is the authentication engine. Construct with New; one instance is
// safe for concurrent use.
type Service struct {
	profiles profile.Store
	history  HistoryStore
	audit    risk.AuditStore
	configs  ConfigStore
	cache    SnapshotCache

	scorer  *matcher.Scorer
	learner *learning.Engine
	fuser   *fusion.Fuser
	riskEng *risk.Engine

	opts Options
	log  *structlog.Logger
	now  func() time.Time

	locks [64]sync.Mutex // striped per-user write locks

	queue   chan learnTask
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// New validates the options and builds a Service. Profiles and History are
// required.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.Profiles == nil {
		return nil, fmt.Errorf("engine: profile store is required")
	}
	if deps.History == nil {
		return nil, fmt.Errorf("engine: history store is required")
	}
	for _, v := range []interface{ Validate() error }{opts.Matcher, opts.Learning, opts.Fusion, opts.Risk} {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 50 * time.Millisecond
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = structlog.NewLogger("typemagic-guard", structlog.LevelInfo, nil)
	}

	s := &Service{
		profiles: deps.Profiles,
		history:  deps.History,
		audit:    deps.Audit,
		configs:  deps.Configs,
		cache:    deps.Cache,
		scorer:   matcher.NewScorer(opts.Matcher, opts.Secondary),
		learner:  learning.NewEngine(opts.Learning),
		fuser:    fusion.NewFuser(opts.Fusion),
		riskEng:  risk.NewEngine(opts.Risk, deps.History),
		opts:     opts,
		log:      opts.Logger,
		now:      time.Now,
	}
	if s.cache == nil {
		s.cache = newLocalCache()
	}
	if !opts.SynchronousLearning {
		s.queue = make(chan learnTask, opts.QueueSize)
		s.wg.Add(1)
		go s.learnWorker()
	}
	return s, nil
}

// Close stops the learning worker after draining queued updates.
func (s *Service) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.queue != nil {
		close(s.queue)
		s.wg.Wait()
	}
}

// SubmitSample scores one captured sample against the user's baseline and
// queues the learning update. A first-ever sample enrolls the user and is
// never rejected. An InsufficientData error means the caller should collect
// more input and retry.
func (s *Service) SubmitSample(ctx context.Context, userID string, modality biometric.Modality, events []biometric.TimingEvent, sctx SampleContext) (AuthResult, error) {
	if userID == "" {
		return AuthResult{}, fmt.Errorf("engine: user id is required")
	}
	if !modality.Known() {
		return AuthResult{}, fmt.Errorf("engine: unknown modality %q", modality)
	}

	now := s.now()
	sample := biometric.Sample{Events: events, Modality: modality, Context: sctx.Label, CapturedAt: now}
	fv, err := biometric.Extract(sample)
	if err != nil {
		return AuthResult{}, err
	}

	prof, degraded := s.loadForScoring(ctx, userID, now)

	if prof.Status == profile.StatusLocked {
		s.log.SecurityEvent("locked_profile_attempt", structlog.Fields{"user_id": userID})
		s.dispatch(learnTask{
			attempt: Attempt{UserID: userID, SessionID: sctx.SessionID, Success: false, Confidence: 0, At: now},
		})
		return AuthResult{
			Success:  false,
			Degraded: degraded,
			Anomaly:  &Anomaly{Severity: "critical", Description: "profile is locked; external unlock required"},
		}, nil
	}

	res := s.scorer.Score(ctx, fv, prof)
	if res.SecondaryErr != nil {
		s.log.Warn("secondary scorer failed, using primary only", structlog.Fields{
			"user_id": userID, "error": res.SecondaryErr.Error(),
		})
	}

	cfg := s.securityConfig(ctx, userID)

	scores := map[biometric.Modality]fusion.Input{
		modality: {Score: res.Confidence, Quality: fv.Quality()},
	}
	fres := s.fuser.Fuse(scores, prof.Weights)

	success := fres.Success && fres.Combined >= cfg.MinConfidenceThreshold
	if res.Enrollment {
		success = true
	}

	out := AuthResult{
		Success:    success,
		Confidence: int(math.Round(biometric.Clamp(fres.Combined, 0, 100))),
		Degraded:   degraded,
		Enrollment: res.Enrollment,
	}
	if !success {
		out.Anomaly = s.anomalyFor(fres.Combined, cfg)
	}

	// The result is fully computed; absorption happens after this point only,
	// so caller cancellation can never corrupt profile state.
	s.dispatch(learnTask{
		pattern: profile.Pattern{
			ID:         uuid.New(),
			Features:   fv,
			Modality:   modality,
			Context:    sctx.Label,
			CapturedAt: now,
		},
		outcome:  learning.Outcome{Success: success, Confidence: fres.Combined},
		scores:   scores,
		fused:    fres,
		adaptive: cfg.AdaptiveLearning,
		attempt:  Attempt{UserID: userID, SessionID: sctx.SessionID, Success: success, Confidence: fres.Combined, At: now},
		learn:    true,
	})

	return out, nil
}

// loadForScoring fetches the profile under the soft latency budget. A slow
// or failing store degrades to the cached snapshot (or a fresh enrollment
// profile) rather than blocking the hot path. A missing profile is not an
// error: it is first-time enrollment.
func (s *Service) loadForScoring(ctx context.Context, userID string, now time.Time) (*profile.Profile, bool) {
	lctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	p, err := s.profiles.Load(lctx, userID)
	switch {
	case err == nil:
		s.cache.Put(ctx, p)
		return p, false
	case errors.Is(err, profile.ErrNotFound):
		return profile.New(userID, now), false
	default:
		s.log.Error("profile store unavailable, scoring degraded", structlog.Fields{
			"user_id": userID, "error": err.Error(),
		})
		if snap, ok := s.cache.Get(ctx, userID); ok {
			return snap, true
		}
		return profile.New(userID, now), true
	}
}

func (s *Service) securityConfig(ctx context.Context, userID string) config.SecurityConfig {
	if s.configs == nil {
		return config.DefaultSecurityConfig()
	}
	cfg, ok, err := s.configs.LoadConfig(ctx, userID)
	if err != nil {
		s.log.Error("config store unavailable, applying defaults", structlog.Fields{
			"user_id": userID, "error": err.Error(),
		})
		return config.DefaultSecurityConfig()
	}
	if !ok {
		return config.DefaultSecurityConfig()
	}
	return cfg
}

func (s *Service) anomalyFor(combined float64, cfg config.SecurityConfig) *Anomaly {
	gap := cfg.MinConfidenceThreshold - combined
	severity := "medium"
	if gap > 25 {
		severity = "high"
	}
	return &Anomaly{
		Severity:    severity,
		Description: fmt.Sprintf("behavioral confidence %.0f below required %.0f", combined, cfg.MinConfidenceThreshold),
	}
}

// userLock returns the striped mutex serializing writes for userID.
func (s *Service) userLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}
