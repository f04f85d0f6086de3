// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/keyward/pkg/errutil"
)

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// WithMaxLifetime sets how long a session stays valid after its last use.
func WithMaxLifetime(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		m.lifetime = d
	}
}

// WithUserResolver enables Resolve by giving the manager a user lookup.
func WithUserResolver(users UserRepository) SessionOption {
	return func(m *SessionManager) {
		m.users = users
	}
}

// WithSessionLogger sets the logger used by SessionManager.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(m *SessionManager) {
		m.logger = logger
	}
}

// WithSessionRecorder sets the Recorder used by SessionManager.
func WithSessionRecorder(r Recorder) SessionOption {
	return func(m *SessionManager) {
		m.recorder = r
	}
}

// SessionManager runs the session lifecycle on top of a SessionStore.
// Sessions roll: each successful Validate pushes expiry to
// last access + lifetime, with no cap on total age.
type SessionManager struct {
	store    SessionStore
	users    UserRepository
	lifetime time.Duration
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(store SessionStore, opts ...SessionOption) (*SessionManager, error) {
	if store == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("session store is required")
	}

	m := &SessionManager{
		store:    store,
		lifetime: DefaultSessionLifetime,
		now:      time.Now,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.lifetime <= 0 {
		return nil, oops.Code("SESSION_INVALID_CONFIG").
			With("lifetime", m.lifetime.String()).
			Errorf("session lifetime must be positive")
	}
	if m.now == nil || m.logger == nil {
		return nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("clock and logger cannot be nil")
	}
	if m.recorder == nil {
		m.recorder = nopRecorder{}
	}
	return m, nil
}

// Lifetime returns the rolling session lifetime.
func (m *SessionManager) Lifetime() time.Duration {
	return m.lifetime
}

func (m *SessionManager) clock() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

// Issue creates a session for userID and returns the opaque token for the
// client together with the stored session.
func (m *SessionManager) Issue(ctx context.Context, userID ulid.ULID, payload Payload) (string, *Session, error) {
	token, session, err := m.issue(ctx, userID, payload)
	m.recorder.RecordSessionOperation("issue", outcomeOf(err))
	return token, session, err
}

func (m *SessionManager) issue(ctx context.Context, userID ulid.ULID, payload Payload) (string, *Session, error) {
	token, key, err := GenerateSessionToken()
	if err != nil {
		return "", nil, oops.Code("SESSION_ISSUE_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	session, err := NewSession(key, userID, payload, m.clock(), m.lifetime)
	if err != nil {
		return "", nil, oops.Code("SESSION_ISSUE_FAILED").
			With("operation", "build session").
			Wrap(err)
	}

	if err := m.store.Create(ctx, session); err != nil {
		wrapped := oops.Code("SESSION_ISSUE_FAILED").
			With("operation", "persist session").
			With("user_id", userID.String()).
			Wrap(err)
		errutil.LogError(m.logger, "failed to persist session", wrapped)
		return "", nil, wrapped
	}

	return token, session, nil
}

// Validate loads the session for token and rolls its expiry forward.
// An expired session is deleted and reported as SESSION_EXPIRED; an unknown
// or concurrently revoked one as SESSION_NOT_FOUND.
func (m *SessionManager) Validate(ctx context.Context, token string) (*Session, error) {
	session, err := m.validate(ctx, token)
	m.recorder.RecordSessionOperation("validate", outcomeOf(err))
	return session, err
}

func (m *SessionManager) validate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, sessionNotFound()
	}
	key := SessionKey(token)

	session, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, sessionNotFound()
		}
		wrapped := oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session").
			Wrap(err)
		errutil.LogError(m.logger, "failed to load session", wrapped)
		return nil, wrapped
	}

	now := m.clock()
	if session.IsExpiredAt(now) {
		if err := m.store.Delete(ctx, key); err != nil {
			m.logger.WarnContext(ctx, "failed to delete expired session",
				"user_id", session.UserID.String(),
				"error", err)
		}
		return nil, oops.Code(CodeSessionExpired).
			With("expired_at", session.ExpiresAt).
			Errorf("session has expired")
	}

	lastAccess := now
	if session.LastAccessAt.After(lastAccess) {
		lastAccess = session.LastAccessAt
	}
	expiresAt := lastAccess.Add(m.lifetime)

	if err := m.store.Touch(ctx, key, lastAccess, expiresAt); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, sessionNotFound()
		}
		wrapped := oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "touch session").
			With("user_id", session.UserID.String()).
			Wrap(err)
		errutil.LogError(m.logger, "failed to roll session expiry", wrapped)
		return nil, wrapped
	}

	session.LastAccessAt = lastAccess
	session.ExpiresAt = expiresAt
	return session, nil
}

// Revoke deletes the session for token. Revoking an unknown or already
// revoked session succeeds.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	err := m.revoke(ctx, token)
	m.recorder.RecordSessionOperation("revoke", outcomeOf(err))
	return err
}

func (m *SessionManager) revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.Delete(ctx, SessionKey(token)); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	return nil
}

// RevokeAll deletes every session belonging to userID.
func (m *SessionManager) RevokeAll(ctx context.Context, userID ulid.ULID) error {
	err := m.store.DeleteByUser(ctx, userID)
	if err != nil {
		err = oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "delete sessions by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	m.recorder.RecordSessionOperation("revoke_all", outcomeOf(err))
	return err
}

// Resolve validates token and loads the session's user. A session whose user
// no longer exists is revoked and reported as SESSION_NOT_FOUND.
// Requires WithUserResolver.
func (m *SessionManager) Resolve(ctx context.Context, token string) (*Session, *User, error) {
	if m.users == nil {
		return nil, nil, oops.Code("SESSION_INVALID_CONFIG").Errorf("no user resolver configured")
	}

	session, err := m.Validate(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	user, err := m.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.logger.InfoContext(ctx, "revoking session of deleted user", "user_id", session.UserID.String())
			if revokeErr := m.store.Delete(ctx, session.ID); revokeErr != nil {
				m.logger.WarnContext(ctx, "failed to revoke orphaned session", "error", revokeErr)
			}
			return nil, nil, sessionNotFound()
		}
		return nil, nil, oops.Code("SESSION_RESOLVE_FAILED").
			With("operation", "get user by id").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}

	return session, user.sanitized(), nil
}

// PurgeExpired deletes all sessions that have expired.
func (m *SessionManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, m.clock())
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}

// StartPurger runs PurgeExpired every interval until ctx is cancelled.
// The returned function blocks until the background goroutine has exited.
func (m *SessionManager) StartPurger(ctx context.Context, interval time.Duration) (wait func()) {
	var wg sync.WaitGroup
	if interval <= 0 {
		return wg.Wait
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.PurgeExpired(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					errutil.LogError(m.logger, "session purge failed", err)
					continue
				}
				if n > 0 {
					m.logger.Info("purged expired sessions", "count", n)
				}
			}
		}
	}()
	return wg.Wait
}

func sessionNotFound() error {
	return oops.Code(CodeSessionNotFound).Errorf("session not found")
}
