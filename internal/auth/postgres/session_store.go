// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/store"
)

// SessionStore implements auth.SessionStore using PostgreSQL.
type SessionStore struct {
	db store.DB
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db store.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create stores a new session.
func (s *SessionStore) Create(ctx context.Context, session *auth.Session) error {
	data := session.Payload
	if data == nil {
		data = auth.Payload{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "marshal payload").
			Wrap(err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, payload, created_at, last_access_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		session.ID,
		session.UserID.String(),
		payload,
		session.CreatedAt,
		session.LastAccessAt,
		session.ExpiresAt,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*auth.Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, payload, created_at, last_access_at, expires_at
		FROM sessions
		WHERE id = $1
	`, id)

	var (
		session   auth.Session
		userIDStr string
		payload   []byte
	)
	err := row.Scan(&session.ID, &userIDStr, &payload, &session.CreatedAt, &session.LastAccessAt, &session.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_RECORD_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "get session").
			Wrap(err)
	}

	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_USER").
			With("operation", "parse user id").
			With("user_id", userIDStr).
			Wrap(err)
	}
	session.UserID = userID

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &session.Payload); err != nil {
			return nil, oops.Code("SESSION_GET_FAILED").
				With("operation", "unmarshal payload").
				Wrap(err)
		}
	}
	if session.Payload == nil {
		session.Payload = auth.Payload{}
	}

	session.CreatedAt = session.CreatedAt.UTC()
	session.LastAccessAt = session.LastAccessAt.UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()
	return &session, nil
}

// Touch moves the access and expiry times forward in one statement.
func (s *SessionStore) Touch(ctx context.Context, id string, lastAccess, expiresAt time.Time) error {
	result, err := s.db.Exec(ctx, `
		UPDATE sessions SET
			last_access_at = GREATEST(last_access_at, $2),
			expires_at = GREATEST(expires_at, $3)
		WHERE id = $1
	`, id, lastAccess, expiresAt)
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").
			With("operation", "touch session").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("SESSION_RECORD_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a session; absent sessions are ignored.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	return nil
}

// DeleteByUser removes all sessions of a user.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID.String()); err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "delete sessions by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes sessions that expired before now and returns the count.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.SessionStore = (*SessionStore)(nil)
