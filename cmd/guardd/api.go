package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
	"github.com/amartubs/typemagic-guard-sub003/pkg/config"
	"github.com/amartubs/typemagic-guard-sub003/pkg/engine"
	"github.com/amartubs/typemagic-guard-sub003/pkg/ratelimit"
	"github.com/amartubs/typemagic-guard-sub003/pkg/risk"
	"github.com/amartubs/typemagic-guard-sub003/pkg/structlog"
)

const maxBodyBytes = 1 << 20

type server struct {
	svc     *engine.Service
	signer  *challengeSigner
	log     *structlog.Logger
	healthy func(context.Context) error
	limiter *ratelimit.SlidingWindowLimiter
}

func newServer(svc *engine.Service, signer *challengeSigner, log *structlog.Logger, healthy func(context.Context) error, limiter *ratelimit.SlidingWindowLimiter) *server {
	return &server{svc: svc, signer: signer, log: log, healthy: healthy, limiter: limiter}
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/samples", s.handleSubmitSample)
	mux.HandleFunc("/v1/profile", s.handleProfileSummary)
	mux.HandleFunc("/v1/profile/lock", s.handleLockProfile)
	mux.HandleFunc("/v1/profile/unlock", s.handleUnlockProfile)
	mux.HandleFunc("/v1/config", s.handleUpdateConfig)
	mux.HandleFunc("/v1/risk/assess", s.handleAssessRisk)
	mux.HandleFunc("/v1/challenge/verify", s.handleVerifyChallenge)
	mux.HandleFunc("/health", s.handleHealth)
}

type submitSampleRequest struct {
	UserID   string                  `json:"user_id"`
	Modality biometric.Modality      `json:"modality"`
	Events   []biometric.TimingEvent `json:"events"`
	Context  engine.SampleContext    `json:"context"`
}

func (s *server) handleSubmitSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req submitSampleRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Modality == "" {
		req.Modality = biometric.ModalityKeystroke
	}
	if s.limiter != nil {
		key := req.UserID
		if key == "" {
			key = r.RemoteAddr
		}
		if ok, _ := s.limiter.Allow(r.Context(), key); !ok {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	start := time.Now()
	res, err := s.svc.SubmitSample(r.Context(), req.UserID, req.Modality, req.Events, req.Context)
	if err != nil {
		if errors.Is(err, biometric.ErrInsufficientData) {
			writeError(w, http.StatusUnprocessableEntity, "insufficient events, collect more and retry")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sampleDuration.Observe(time.Since(start).Seconds())
	samplesTotal.WithLabelValues(sampleResultLabel(res)).Inc()

	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleProfileSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := r.URL.Query().Get("user_id")
	sum, err := s.svc.GetProfileSummary(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type lockRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

func (s *server) handleLockProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req lockRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.LockProfile(r.Context(), req.UserID, req.Reason); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

func (s *server) handleUnlockProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req lockRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.UnlockProfile(r.Context(), req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "learning"})
}

type updateConfigRequest struct {
	UserID string       `json:"user_id"`
	Patch  config.Patch `json:"patch"`
}

func (s *server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req updateConfigRequest
	if !s.decode(w, r, &req) {
		return
	}
	cfg, err := s.svc.UpdateSecurityConfig(r.Context(), req.UserID, req.Patch)
	if err != nil {
		var cerr *config.ConfigurationError
		if errors.As(err, &cerr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": cerr.Reason,
				"field": cerr.Field,
			})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type assessRiskRequest struct {
	UserID    string             `json:"user_id"`
	SessionID string             `json:"session_id"`
	Context   risk.Context       `json:"context"`
	Samples   []biometric.Sample `json:"samples"`
}

type assessRiskResponse struct {
	*risk.Assessment
	ChallengeToken string `json:"challenge_token,omitempty"`
}

func (s *server) handleAssessRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req assessRiskRequest
	if !s.decode(w, r, &req) {
		return
	}
	a, err := s.svc.AssessRisk(r.Context(), req.UserID, req.SessionID, req.Context, req.Samples)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	assessmentsTotal.WithLabelValues(string(a.ActionRequired)).Inc()

	resp := assessRiskResponse{Assessment: a}
	if a.ActionRequired == risk.ActionChallenge {
		token, err := s.signer.Issue(req.UserID, req.SessionID)
		if err != nil {
			s.log.Error("challenge token issue failed", structlog.Fields{"error": err.Error()})
		} else {
			resp.ChallengeToken = token
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type verifyChallengeRequest struct {
	Token string `json:"token"`
}

func (s *server) handleVerifyChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req verifyChallengeRequest
	if !s.decode(w, r, &req) {
		return
	}
	claims, err := s.signer.Verify(req.Token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"valid": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":      true,
		"user_id":    claims.Subject,
		"session_id": claims.SessionID,
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if s.healthy != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.healthy(ctx); err != nil {
			// Degraded, not down: scoring continues against snapshots.
			status = "degraded"
		}
	}
	writeJSON(w, code, map[string]string{"status": status, "service": "guardd"})
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func sampleResultLabel(res engine.AuthResult) string {
	switch {
	case res.Enrollment:
		return "enrollment"
	case res.Success:
		return "success"
	default:
		return "rejected"
	}
}
