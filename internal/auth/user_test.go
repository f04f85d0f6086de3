// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/pkg/errutil"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"two characters is the floor", "ab", false},
		{"single character", "a", true},
		{"empty", "", true},
		{"max length", strings.Repeat("a", 24), false},
		{"too long", strings.Repeat("a", 25), true},
		{"underscore inside", "Valid_1", false},
		{"mixed case with digit", "Valid1", false},
		{"starts with digit", "1abc", true},
		{"starts with underscore", "_abc", true},
		{"ends with underscore", "abc_", true},
		{"double underscore", "ab__cd", true},
		{"hyphen", "ab-cd", true},
		{"space", "ab cd", true},
		{"non ascii", "ábc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidateUsername(tt.username)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, auth.CodeInvalidUsername)
			assert.Equal(t, "username", auth.FieldOf(err))
			assert.Equal(t, auth.KindValidation, auth.KindOf(err))
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{"letters and digit", "password1", ""},
		{"exactly eight", "abcdefg1", ""},
		{"too short", "short1", "at least 8 characters"},
		{"no digit", "passwordonly", "one letter and one number"},
		{"no letter", "1234567890", "one letter and one number"},
		{"non ascii letters only count as length", "пароль12", "one letter and one number"},
		{"too long", strings.Repeat("a1", 513), "at most 1024 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidatePassword(tt.password)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			errutil.AssertErrorCode(t, err, auth.CodeInvalidPassword)
			assert.Equal(t, "password", auth.FieldOf(err))
		})
	}
}

func TestNormalizeUsername(t *testing.T) {
	assert.Equal(t, "valid_1", auth.NormalizeUsername("Valid_1"))
	assert.Equal(t, "abc", auth.NormalizeUsername("ABC"))
}

func TestNewUser(t *testing.T) {
	t.Run("normalizes username and assigns id", func(t *testing.T) {
		user, err := auth.NewUser("MixedCase", "hash")
		require.NoError(t, err)
		assert.Equal(t, "mixedcase", user.Username)
		assert.NotEqual(t, ulid.ULID{}, user.ID)
		assert.Equal(t, user.CreatedAt, user.UpdatedAt)
	})

	t.Run("rejects invalid username", func(t *testing.T) {
		_, err := auth.NewUser("a", "hash")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidUsername)
	})

	t.Run("rejects empty hash", func(t *testing.T) {
		_, err := auth.NewUser("valid", "")
		errutil.AssertErrorCode(t, err, "USER_INVALID_HASH")
	})
}
