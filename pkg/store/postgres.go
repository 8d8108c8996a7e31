// Package store provides the durable backends: a Postgres store for
// profiles, attempts, security configs, and risk audit records, plus a
// Redis-backed profile snapshot cache with an in-process fallback.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/amartubs/typemagic-guard-sub003/pkg/biometric"
	"github.com/amartubs/typemagic-guard-sub003/pkg/config"
	"github.com/amartubs/typemagic-guard-sub003/pkg/engine"
	"github.com/amartubs/typemagic-guard-sub003/pkg/profile"
	"github.com/amartubs/typemagic-guard-sub003/pkg/risk"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Postgres implements profile.Store, engine.HistoryStore, engine.ConfigStore,
// and risk.AuditStore on one connection pool.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects, tunes the pool, and runs pending migrations.
func OpenPostgres(databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	s := &Postgres{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	driver, err := migratepg.WithInstance(s.db, &migratepg.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("store: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error { return s.db.Close() }

// Healthy reports whether the database answers a ping.
func (s *Postgres) Healthy(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- profile.Store ---

func (s *Postgres) Load(ctx context.Context, userID string) (*profile.Profile, error) {
	p := &profile.Profile{UserID: userID}
	var status string
	var weightsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT status, confidence, stability, weights, version, created_at, last_updated
		FROM behavioral_profiles WHERE user_id = $1`, userID).
		Scan(&status, &p.ConfidenceScore, &p.StabilityScore, &weightsRaw,
			&p.Version, &p.CreatedAt, &p.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("load profile", err)
	}
	p.Status, err = profile.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("store: profile %s: %w", userID, err)
	}
	if err := json.Unmarshal(weightsRaw, &p.Weights); err != nil {
		return nil, fmt.Errorf("store: profile %s weights: %w", userID, err)
	}
	if len(p.Weights) == 0 {
		p.Weights = profile.DefaultWeights()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, features, modality, context, captured_at
		FROM behavioral_patterns WHERE user_id = $1
		ORDER BY captured_at, id`, userID)
	if err != nil {
		return nil, storeErr("load patterns", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pat profile.Pattern
		var featuresRaw []byte
		var modality string
		if err := rows.Scan(&pat.ID, &featuresRaw, &modality, &pat.Context, &pat.CapturedAt); err != nil {
			return nil, fmt.Errorf("store: scan pattern: %w", err)
		}
		if err := json.Unmarshal(featuresRaw, &pat.Features); err != nil {
			return nil, fmt.Errorf("store: pattern %s features: %w", pat.ID, err)
		}
		pat.Modality = biometric.Modality(modality)
		p.Patterns = append(p.Patterns, pat)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate patterns", err)
	}
	return p, nil
}

// Save writes the profile header under optimistic concurrency and reconciles
// the pattern rows against the in-memory set, deleting rows the pruner
// dropped. expectedVersion 0 inserts a new profile.
func (s *Postgres) Save(ctx context.Context, p *profile.Profile, expectedVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin save", err)
	}
	defer tx.Rollback()

	weightsRaw, err := json.Marshal(p.Weights)
	if err != nil {
		return fmt.Errorf("store: marshal weights: %w", err)
	}
	next := expectedVersion + 1

	if expectedVersion == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO behavioral_profiles
				(user_id, status, confidence, stability, weights, version, created_at, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
			p.UserID, p.Status.String(), p.ConfidenceScore, p.StabilityScore,
			weightsRaw, next, p.CreatedAt)
		if isUniqueViolation(err) {
			return profile.ErrVersionConflict
		}
		if err != nil {
			return storeErr("insert profile", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE behavioral_profiles
			SET status = $1, confidence = $2, stability = $3, weights = $4,
			    version = $5, last_updated = NOW()
			WHERE user_id = $6 AND version = $7`,
			p.Status.String(), p.ConfidenceScore, p.StabilityScore, weightsRaw,
			next, p.UserID, expectedVersion)
		if err != nil {
			return storeErr("update profile", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storeErr("update profile", err)
		}
		if n == 0 {
			return profile.ErrVersionConflict
		}
	}

	keep := make([]uuid.UUID, 0, len(p.Patterns))
	for _, pat := range p.Patterns {
		keep = append(keep, pat.ID)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM behavioral_patterns
		WHERE user_id = $1 AND NOT (id = ANY($2))`,
		p.UserID, pq.Array(keep)); err != nil {
		return storeErr("reconcile patterns", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit save", err)
	}
	p.Version = next
	return nil
}

// AppendPattern inserts one pattern row. The primary key makes retries
// idempotent.
func (s *Postgres) AppendPattern(ctx context.Context, userID string, pat profile.Pattern) error {
	featuresRaw, err := json.Marshal(pat.Features)
	if err != nil {
		return fmt.Errorf("store: marshal features: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO behavioral_patterns (id, user_id, features, modality, context, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		pat.ID, userID, featuresRaw, string(pat.Modality), pat.Context, pat.CapturedAt)
	if err != nil {
		return storeErr("append pattern", err)
	}
	return nil
}

// --- engine.HistoryStore ---

func (s *Postgres) RecordAttempt(ctx context.Context, a engine.Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_attempts (user_id, session_id, success, confidence, attempted_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.UserID, a.SessionID, a.Success, a.Confidence, a.At)
	if err != nil {
		return storeErr("record attempt", err)
	}
	return nil
}

func (s *Postgres) ActivityHistogram(ctx context.Context, userID string, since time.Time) (risk.Histogram, error) {
	var h risk.Histogram
	rows, err := s.db.QueryContext(ctx, `
		SELECT EXTRACT(HOUR FROM attempted_at)::int,
		       EXTRACT(DOW FROM attempted_at)::int,
		       COUNT(*)
		FROM auth_attempts
		WHERE user_id = $1 AND attempted_at >= $2
		GROUP BY 1, 2`, userID, since)
	if err != nil {
		return h, storeErr("activity histogram", err)
	}
	defer rows.Close()
	for rows.Next() {
		var hour, dow, count int
		if err := rows.Scan(&hour, &dow, &count); err != nil {
			return h, fmt.Errorf("store: scan histogram: %w", err)
		}
		if hour >= 0 && hour < 24 {
			h.ByHour[hour] += count
		}
		if dow >= 0 && dow < 7 {
			h.ByWeekday[dow] += count
		}
		h.Total += count
	}
	return h, rows.Err()
}

func (s *Postgres) FailedAttempts(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM auth_attempts
		WHERE user_id = $1 AND success = FALSE AND attempted_at >= $2`,
		userID, since).Scan(&n)
	if err != nil {
		return 0, storeErr("failed attempts", err)
	}
	return n, nil
}

func (s *Postgres) BaselineConfidence(ctx context.Context, userID string) (float64, bool, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(confidence) FROM auth_attempts WHERE user_id = $1`,
		userID).Scan(&avg)
	if err != nil {
		return 0, false, storeErr("baseline confidence", err)
	}
	return avg.Float64, avg.Valid, nil
}

// --- engine.ConfigStore ---

func (s *Postgres) LoadConfig(ctx context.Context, userID string) (config.SecurityConfig, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT config FROM security_configs WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return config.SecurityConfig{}, false, nil
	}
	if err != nil {
		return config.SecurityConfig{}, false, storeErr("load config", err)
	}
	var cfg config.SecurityConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return config.SecurityConfig{}, false, fmt.Errorf("store: decode config: %w", err)
	}
	return cfg, true, nil
}

func (s *Postgres) SaveConfig(ctx context.Context, userID string, cfg config.SecurityConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: marshal config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_configs (user_id, config, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET config = $2, updated_at = NOW()`,
		userID, raw)
	if err != nil {
		return storeErr("save config", err)
	}
	return nil
}

// --- risk.AuditStore ---

func (s *Postgres) Append(ctx context.Context, a *risk.Assessment) error {
	factorsRaw, err := json.Marshal(a.RiskFactors)
	if err != nil {
		return fmt.Errorf("store: marshal risk factors: %w", err)
	}
	ctxRaw, err := json.Marshal(a.Context)
	if err != nil {
		return fmt.Errorf("store: marshal risk context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments
			(id, user_id, session_id, risk_score, risk_factors, confidence_score,
			 authentication_level, action_required, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.UserID, a.SessionID, a.RiskScore, factorsRaw, a.ConfidenceScore,
		a.AuthenticationLevel.String(), string(a.ActionRequired), ctxRaw, a.Timestamp)
	if err != nil {
		return storeErr("append assessment", err)
	}
	return nil
}

// PruneBefore deletes audit records older than cutoff. Idempotent; meant for
// a periodic retention job.
func (s *Postgres) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM risk_assessments WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, storeErr("prune assessments", err)
	}
	return res.RowsAffected()
}

// storeErr tags driver failures so the engine can classify them as
// persistence unavailability and degrade instead of failing the request.
func storeErr(op string, err error) error {
	return fmt.Errorf("store: %s: %w", op, errors.Join(engine.ErrPersistenceUnavailable, err))
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
