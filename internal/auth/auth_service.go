// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/keyward/keyward/pkg/errutil"
)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used by Service.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRecorder sets the Recorder used by Service.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		s.recorder = r
	}
}

// Service provides login and registration.
type Service struct {
	users    UserRepository
	hasher   PasswordHasher
	logger   *slog.Logger
	recorder Recorder

	// dummyHash is verified against when a username does not exist so that
	// unknown users cost the same as wrong passwords.
	dummyHash string
}

// NewAuthService creates a new Service. The dummy hash is produced with the
// given hasher so its verification cost matches real hashes.
func NewAuthService(users UserRepository, hasher PasswordHasher, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}

	s := &Service{
		users:    users,
		hasher:   hasher,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("logger cannot be nil")
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").With("operation", "generate dummy secret").Wrap(err)
	}
	dummy, err := hasher.Hash(context.Background(), hex.EncodeToString(secret))
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").With("operation", "hash dummy secret").Wrap(err)
	}
	s.dummyHash = dummy

	return s, nil
}

// Login verifies credentials and returns the user without its password hash.
// Unknown usernames and wrong passwords return the same AUTH_INVALID_CREDENTIALS
// error after the same amount of hashing work.
func (s *Service) Login(ctx context.Context, username, password string) (*User, error) {
	user, err := s.login(ctx, username, password)
	s.recorder.RecordLogin(outcomeOf(err))
	return user, err
}

func (s *Service) login(ctx context.Context, username, password string) (*User, error) {
	normalized := NormalizeUsername(username)

	user, lookupErr := s.users.GetByUsername(ctx, normalized)

	var targetHash string
	var userExists bool

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			err := oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by username").
				Wrap(lookupErr)
			errutil.LogError(s.logger, "login lookup failed", err)
			return nil, err
		}
		targetHash = s.dummyHash
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify, even for unknown users. Oversized input is cut to the
	// registration limit for hashing and then rejected.
	candidate := password
	oversized := len(password) > MaxPasswordBytes
	if oversized {
		candidate = password[:MaxPasswordBytes]
	}
	start := time.Now()
	valid, verifyErr := s.hasher.Verify(ctx, candidate, targetHash)
	s.recorder.ObservePasswordHash("verify", time.Since(start))

	if verifyErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "verify password").
				Wrap(verifyErr)
		}
		if !userExists {
			return nil, invalidCredentials()
		}
		err := oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
		errutil.LogError(s.logger, "stored password hash is unusable", err)
		return nil, err
	}

	if !userExists || !valid || oversized {
		s.logger.InfoContext(ctx, "login rejected", "username", normalized)
		return nil, invalidCredentials()
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}

	s.logger.InfoContext(ctx, "login succeeded", "user_id", user.ID.String())
	return user.sanitized(), nil
}

// rehash upgrades a stored hash to the current parameters. Failures are
// logged; the login has already succeeded.
func (s *Service) rehash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed",
			"user_id", user.ID.String(),
			"error", err)
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		s.logger.WarnContext(ctx, "failed to persist upgraded password hash",
			"user_id", user.ID.String(),
			"error", err)
		return
	}
	user.PasswordHash = newHash
}

// Register creates a new account.
// Input is validated before any store access. A username taken by a
// concurrent registration is reported as USERNAME_TAKEN, never as an
// internal error.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	user, err := s.register(ctx, username, password)
	s.recorder.RecordRegistration(outcomeOf(err))
	return user, err
}

func (s *Service) register(ctx context.Context, username, password string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	normalized := NormalizeUsername(username)

	_, err := s.users.GetByUsername(ctx, normalized)
	switch {
	case err == nil:
		return nil, usernameTaken(normalized)
	case !errors.Is(err, ErrNotFound):
		wrapped := oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "check username").
			Wrap(err)
		errutil.LogError(s.logger, "registration lookup failed", wrapped)
		return nil, wrapped
	}

	start := time.Now()
	hash, err := s.hasher.Hash(ctx, password)
	s.recorder.ObservePasswordHash("hash", time.Since(start))
	if err != nil {
		wrapped := oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
		errutil.LogError(s.logger, "password hashing failed", wrapped)
		return nil, wrapped
	}

	user, err := NewUser(normalized, hash)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "build user").
			Wrap(err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return nil, usernameTaken(normalized)
		}
		wrapped := oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "insert user").
			With("username", normalized).
			Wrap(err)
		errutil.LogError(s.logger, "failed to create user", wrapped)
		return nil, wrapped
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String(), "username", user.Username)
	return user.sanitized(), nil
}

func usernameTaken(username string) error {
	return oops.Code(CodeUsernameTaken).
		With("field", "username").
		With("username", username).
		Errorf("username is taken")
}
