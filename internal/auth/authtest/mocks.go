// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package authtest

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/keyward/keyward/internal/auth"
)

// MockUserRepository is a testify mock of auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

// NewMockUserRepository creates a mock that asserts its expectations on cleanup.
func NewMockUserRepository(t mock.TestingT) *MockUserRepository {
	m := &MockUserRepository{}
	m.Test(t)
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { m.AssertExpectations(t) })
	}
	return m
}

// Create mocks UserRepository.Create.
func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// GetByID mocks UserRepository.GetByID.
func (m *MockUserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

// GetByUsername mocks UserRepository.GetByUsername.
func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	args := m.Called(ctx, username)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

// UpdatePasswordHash mocks UserRepository.UpdatePasswordHash.
func (m *MockUserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

// MockSessionStore is a testify mock of auth.SessionStore.
type MockSessionStore struct {
	mock.Mock
}

// NewMockSessionStore creates a mock that asserts its expectations on cleanup.
func NewMockSessionStore(t mock.TestingT) *MockSessionStore {
	m := &MockSessionStore{}
	m.Test(t)
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { m.AssertExpectations(t) })
	}
	return m
}

// Create mocks SessionStore.Create.
func (m *MockSessionStore) Create(ctx context.Context, session *auth.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

// Get mocks SessionStore.Get.
func (m *MockSessionStore) Get(ctx context.Context, id string) (*auth.Session, error) {
	args := m.Called(ctx, id)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

// Touch mocks SessionStore.Touch.
func (m *MockSessionStore) Touch(ctx context.Context, id string, lastAccess, expiresAt time.Time) error {
	args := m.Called(ctx, id, lastAccess, expiresAt)
	return args.Error(0)
}

// Delete mocks SessionStore.Delete.
func (m *MockSessionStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// DeleteByUser mocks SessionStore.DeleteByUser.
func (m *MockSessionStore) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// DeleteExpired mocks SessionStore.DeleteExpired.
func (m *MockSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// MockPasswordHasher is a testify mock of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t mock.TestingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { m.AssertExpectations(t) })
	}
	return m
}

// Hash mocks PasswordHasher.Hash.
func (m *MockPasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	args := m.Called(ctx, password)
	return args.String(0), args.Error(1)
}

// Verify mocks PasswordHasher.Verify.
func (m *MockPasswordHasher) Verify(ctx context.Context, password, encoded string) (bool, error) {
	args := m.Called(ctx, password, encoded)
	return args.Bool(0), args.Error(1)
}

// NeedsRehash mocks PasswordHasher.NeedsRehash.
func (m *MockPasswordHasher) NeedsRehash(encoded string) bool {
	args := m.Called(encoded)
	return args.Bool(0)
}

// Compile-time interface checks.
var (
	_ auth.UserRepository = (*MockUserRepository)(nil)
	_ auth.SessionStore   = (*MockSessionStore)(nil)
	_ auth.PasswordHasher = (*MockPasswordHasher)(nil)
)
