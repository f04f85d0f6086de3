// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 2
	MaxUsernameLength = 24
)

// Password validation constraints.
const (
	MinPasswordLength = 8
	// MaxPasswordBytes bounds the input handed to the hasher.
	MaxPasswordBytes = 1024
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Continue with letters or digits, each optionally preceded by a single underscore
var usernameRegex = regexp.MustCompile(`^[a-zA-Z](_?[a-zA-Z0-9])+$`)

// User is an account record. PasswordHash never leaves the auth package
// boundary on values returned by Service.
type User struct {
	ID           ulid.ULID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewUser creates a validated User with a fresh ID.
// The username is normalized; passwordHash must be a hasher output.
func NewUser(username, passwordHash string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	return &User{
		ID:           ulid.Make(),
		Username:     NormalizeUsername(username),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// sanitized returns a copy of the user without the password hash.
func (u *User) sanitized() *User {
	clean := *u
	clean.PasswordHash = ""
	return &clean
}

// NormalizeUsername case-folds a username for storage and lookup.
func NormalizeUsername(username string) string {
	return strings.ToLower(username)
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters, numbers, and single underscores between them
func ValidateUsername(username string) error {
	if username == "" {
		return usernameError("username is required")
	}
	if len(username) < MinUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("field", "username").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("field", "username").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return usernameError("username must start with a letter and can only contain letters, numbers, and underscores")
	}
	return nil
}

// ValidatePassword checks password strength: at least MinPasswordLength
// characters with at least one letter and one digit.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return oops.Code(CodeInvalidPassword).
			With("field", "password").
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return oops.Code(CodeInvalidPassword).
			With("field", "password").
			With("max", MaxPasswordBytes).
			Errorf("password must be at most %d bytes", MaxPasswordBytes)
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case r <= unicode.MaxASCII && unicode.IsLetter(r):
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return oops.Code(CodeInvalidPassword).
			With("field", "password").
			Errorf("password must contain at least one letter and one number")
	}
	return nil
}

func usernameError(msg string) error {
	return oops.Code(CodeInvalidUsername).With("field", "username").Errorf("%s", msg)
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns an error wrapping ErrUsernameTaken when
	// the username already exists; uniqueness is enforced atomically by the store.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByUsername retrieves a user by normalized username. Returns ErrNotFound if absent.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// UpdatePasswordHash replaces the stored hash, e.g. after a parameter upgrade.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error
}
