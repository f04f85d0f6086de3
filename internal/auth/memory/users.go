// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package memory provides in-process implementations of the auth stores.
// Data does not survive a restart; use for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
)

// UserRepository implements auth.UserRepository in memory.
type UserRepository struct {
	mu         sync.RWMutex
	byID       map[ulid.ULID]*auth.User
	byUsername map[string]ulid.ULID
}

// NewUserRepository creates an empty UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:       make(map[ulid.ULID]*auth.User),
		byUsername: make(map[string]ulid.ULID),
	}
}

// Create stores a new user, enforcing username uniqueness under the lock.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("USER_CREATE_FAILED").Wrap(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byUsername[user.Username]; taken {
		return oops.Code("USER_CREATE_FAILED").
			With("username", user.Username).
			Wrap(auth.ErrUsernameTaken)
	}
	stored := *user
	r.byID[user.ID] = &stored
	r.byUsername[user.Username] = user.ID
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_GET_FAILED").Wrap(err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	out := *user
	return &out, nil
}

// GetByUsername retrieves a user by normalized username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_GET_FAILED").Wrap(err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[username]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("username", username).Wrap(auth.ErrNotFound)
	}
	out := *r.byID[id]
	return &out, nil
}

// UpdatePasswordHash replaces a user's password hash.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("USER_UPDATE_FAILED").Wrap(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	return nil
}

// Delete removes a user. Sessions are not touched; they are invalidated on
// their next resolution.
func (r *UserRepository) Delete(_ context.Context, id ulid.ULID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.byID[id]; ok {
		delete(r.byUsername, user.Username)
		delete(r.byID, id)
	}
}

// Count returns the number of stored users.
func (r *UserRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
