// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
)

// SessionStore implements auth.SessionStore in memory.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*auth.Session)}
}

// Create stores a new session.
func (s *SessionStore) Create(ctx context.Context, session *auth.Session) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return oops.Code("SESSION_CREATE_FAILED").Errorf("session id already exists")
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*auth.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, oops.Code("SESSION_RECORD_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return cloneSession(session), nil
}

// Touch moves the session's access and expiry times forward.
func (s *SessionStore) Touch(ctx context.Context, id string, lastAccess, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return oops.Code("SESSION_RECORD_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if lastAccess.After(session.LastAccessAt) {
		session.LastAccessAt = lastAccess
	}
	if expiresAt.After(session.ExpiresAt) {
		session.ExpiresAt = expiresAt
	}
	return nil
}

// Delete removes a session; absent sessions are ignored.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// DeleteByUser removes all sessions of a user.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

// DeleteExpired removes sessions that expired before now.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func cloneSession(s *auth.Session) *auth.Session {
	out := *s
	out.Payload = maps.Clone(s.Payload)
	return &out
}

// Compile-time interface check.
var _ auth.SessionStore = (*SessionStore)(nil)
