// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session configuration.
const (
	SessionTokenBytes = 32 // 256 bits of entropy

	// DefaultSessionLifetime is how long a session stays valid after its last use.
	DefaultSessionLifetime = 72 * time.Hour
)

// Payload is small application data attached to a session.
type Payload map[string]any

// Session is a server-side proof of authentication.
// ID is the SHA-256 of the opaque token handed to the client; the token
// itself is never stored.
type Session struct {
	ID           string
	UserID       ulid.ULID
	Payload      Payload
	CreatedAt    time.Time
	LastAccessAt time.Time
	ExpiresAt    time.Time
}

// NewSession creates a validated Session created at now.
func NewSession(id string, userID ulid.ULID, payload Payload, now time.Time, lifetime time.Duration) (*Session, error) {
	if id == "" {
		return nil, oops.Code("SESSION_INVALID_ID").Errorf("session id cannot be empty")
	}
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if lifetime <= 0 {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("session lifetime must be positive")
	}
	if payload == nil {
		payload = Payload{}
	}

	return &Session{
		ID:           id,
		UserID:       userID,
		Payload:      payload,
		CreatedAt:    now,
		LastAccessAt: now,
		ExpiresAt:    now.Add(lifetime),
	}, nil
}

// IsExpiredAt returns true if the session is expired at t.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// GenerateSessionToken creates a secure random token and its store key.
// Returns (plaintext_token, sha256_hex_key, error).
// The plaintext token is sent to the client; the key is what stores see.
func GenerateSessionToken() (token, key string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = base64.RawURLEncoding.EncodeToString(tokenBytes)
	return token, SessionKey(token), nil
}

// SessionKey computes the store key for a session token.
func SessionKey(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// SessionStore manages server-side session persistence.
// Every method is a single atomic write or read; implementations must be
// safe for concurrent use.
type SessionStore interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Session, error)

	// Touch moves LastAccessAt and ExpiresAt forward. Neither timestamp ever
	// moves backwards, so concurrent touches converge on the latest values.
	// Returns ErrNotFound if the session no longer exists.
	Touch(ctx context.Context, id string, lastAccess, expiresAt time.Time) error

	// Delete removes a session. Deleting an absent session is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteByUser removes all sessions of a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes sessions expired before now and returns the count.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
