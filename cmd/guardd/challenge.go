package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// challengeClaims is the payload of a step-up challenge token. The subject
// is the user; the session binds the challenge to the assessed session.
type challengeClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// challengeSigner issues and verifies short-lived HS256 step-up tokens.
// Without a configured secret a random per-process key is generated, which
// is fine for a single node but means tokens do not survive restarts.
type challengeSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newChallengeSigner(secret string, ttl time.Duration) (*challengeSigner, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate challenge key: %w", err)
		}
	} else if len(key) < 32 {
		return nil, fmt.Errorf("challenge secret must be at least 32 bytes, got %d", len(key))
	}
	return &challengeSigner{secret: key, ttl: ttl, now: time.Now}, nil
}

func (c *challengeSigner) Issue(userID, sessionID string) (string, error) {
	now := c.now()
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("challenge nonce: %w", err)
	}
	claims := challengeClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "guardd",
			Subject:   userID,
			ID:        hex.EncodeToString(nonce),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *challengeSigner) Verify(token string) (*challengeClaims, error) {
	claims := &challengeClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithIssuer("guardd"), jwt.WithTimeFunc(func() time.Time { return c.now() }))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid challenge token")
	}
	return claims, nil
}
