// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth_test

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/auth/authtest"
	"github.com/keyward/keyward/internal/auth/memory"
	"github.com/keyward/keyward/pkg/errutil"
)

func newTestService(t *testing.T) (*auth.Service, *memory.UserRepository, *authtest.PlainHasher) {
	t.Helper()
	users := memory.NewUserRepository()
	hasher := &authtest.PlainHasher{}
	svc, err := auth.NewAuthService(users, hasher)
	require.NoError(t, err)
	return svc, users, hasher
}

func TestNewAuthService_NilDependencies(t *testing.T) {
	tests := []struct {
		name        string
		users       auth.UserRepository
		hasher      auth.PasswordHasher
		opts        []auth.ServiceOption
		expectError string
	}{
		{
			name:        "nil users repository",
			users:       nil,
			hasher:      &authtest.PlainHasher{},
			expectError: "users repository is required",
		},
		{
			name:        "nil password hasher",
			users:       memory.NewUserRepository(),
			hasher:      nil,
			expectError: "password hasher is required",
		},
		{
			name:        "nil logger",
			users:       memory.NewUserRepository(),
			hasher:      &authtest.PlainHasher{},
			opts:        []auth.ServiceOption{auth.WithLogger(nil)},
			expectError: "logger",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewAuthService(tt.users, tt.hasher, tt.opts...)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_CONFIG")
		})
	}
}

func TestNewAuthService_DummyHashFailure(t *testing.T) {
	hasher := authtest.NewMockPasswordHasher(t)
	hasher.On("Hash", mock.Anything, mock.Anything).Return("", errors.New("hasher broken"))

	svc, err := auth.NewAuthService(memory.NewUserRepository(), hasher)
	require.Error(t, err)
	assert.Nil(t, svc)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_CONFIG")
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials return the user without hash", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		registered, err := svc.Register(ctx, "alice", "password1")
		require.NoError(t, err)

		user, err := svc.Login(ctx, "alice", "password1")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
		assert.Equal(t, "alice", user.Username)
		assert.Empty(t, user.PasswordHash)
	})

	t.Run("username lookup is case insensitive", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.Register(ctx, "Alice1", "password1")
		require.NoError(t, err)

		user, err := svc.Login(ctx, "ALICE1", "password1")
		require.NoError(t, err)
		assert.Equal(t, "alice1", user.Username)
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.Register(ctx, "alice", "password1")
		require.NoError(t, err)

		user, err := svc.Login(ctx, "alice", "password2")
		require.Error(t, err)
		assert.Nil(t, user)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		assert.Equal(t, auth.KindAuthentication, auth.KindOf(err))
	})

	t.Run("unknown user still verifies against the dummy hash", func(t *testing.T) {
		svc, _, hasher := newTestService(t)

		user, err := svc.Login(ctx, "nobody", "password1")
		require.Error(t, err)
		assert.Nil(t, user)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)

		verified := hasher.VerifiedHashes()
		require.Len(t, verified, 1)
		assert.True(t, strings.HasPrefix(verified[0], "plain$"))
	})

	t.Run("unknown user and wrong password are indistinguishable", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.Register(ctx, "alice", "password1")
		require.NoError(t, err)

		_, unknownErr := svc.Login(ctx, "bob", "password1")
		_, wrongErr := svc.Login(ctx, "alice", "password2")
		require.Error(t, unknownErr)
		require.Error(t, wrongErr)

		assert.Equal(t, wrongErr.Error(), unknownErr.Error())
		assert.Equal(t, errutil.CodeOf(wrongErr), errutil.CodeOf(unknownErr))
		assert.Equal(t, auth.KindOf(wrongErr), auth.KindOf(unknownErr))
	})

	t.Run("lookup failure is internal", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		svc, err := auth.NewAuthService(users, &authtest.PlainHasher{})
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "alice").Return(nil, errors.New("connection reset"))

		_, err = svc.Login(ctx, "alice", "password1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_LOGIN_FAILED")
		assert.Equal(t, auth.KindInternal, auth.KindOf(err))
	})

	t.Run("unusable stored hash is internal", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		svc, err := auth.NewAuthService(users, &authtest.PlainHasher{})
		require.NoError(t, err)

		stored := &auth.User{ID: ulid.Make(), Username: "alice", PasswordHash: "corrupted"}
		users.On("GetByUsername", mock.Anything, "alice").Return(stored, nil)

		_, err = svc.Login(ctx, "alice", "password1")
		require.Error(t, err)
		assert.Equal(t, auth.KindInternal, auth.KindOf(err))
		assert.NotEqual(t, auth.CodeInvalidCredentials, errutil.CodeOf(err))
		errutil.AssertErrorContext(t, err, "operation", "verify password")
	})

	t.Run("stale hash is upgraded after a successful login", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		hasher := authtest.NewMockPasswordHasher(t)
		hasher.On("Hash", mock.Anything, mock.Anything).Return("dummy", nil).Once()

		svc, err := auth.NewAuthService(users, hasher)
		require.NoError(t, err)

		stored := &auth.User{ID: ulid.Make(), Username: "alice", PasswordHash: "old"}
		users.On("GetByUsername", mock.Anything, "alice").Return(stored, nil)
		hasher.On("Verify", mock.Anything, "password1", "old").Return(true, nil)
		hasher.On("NeedsRehash", "old").Return(true)
		hasher.On("Hash", mock.Anything, "password1").Return("new", nil).Once()
		users.On("UpdatePasswordHash", mock.Anything, stored.ID, "new").Return(nil)

		user, err := svc.Login(ctx, "alice", "password1")
		require.NoError(t, err)
		assert.Equal(t, stored.ID, user.ID)
		assert.Empty(t, user.PasswordHash)
	})

	t.Run("failed hash upgrade does not fail the login", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		hasher := authtest.NewMockPasswordHasher(t)
		hasher.On("Hash", mock.Anything, mock.Anything).Return("dummy", nil).Once()

		svc, err := auth.NewAuthService(users, hasher)
		require.NoError(t, err)

		stored := &auth.User{ID: ulid.Make(), Username: "alice", PasswordHash: "old"}
		users.On("GetByUsername", mock.Anything, "alice").Return(stored, nil)
		hasher.On("Verify", mock.Anything, "password1", "old").Return(true, nil)
		hasher.On("NeedsRehash", "old").Return(true)
		hasher.On("Hash", mock.Anything, "password1").Return("new", nil).Once()
		users.On("UpdatePasswordHash", mock.Anything, stored.ID, "new").Return(errors.New("read only"))

		user, err := svc.Login(ctx, "alice", "password1")
		require.NoError(t, err)
		assert.Equal(t, stored.ID, user.ID)
	})

	t.Run("cancelled context during verify is internal", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		hasher := authtest.NewMockPasswordHasher(t)
		hasher.On("Hash", mock.Anything, mock.Anything).Return("dummy", nil).Once()

		svc, err := auth.NewAuthService(users, hasher)
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		users.On("GetByUsername", mock.Anything, "alice").Return(nil, auth.ErrNotFound)
		hasher.On("Verify", mock.Anything, "password1", "dummy").Return(false, context.Canceled)

		_, err = svc.Login(cctx, "alice", "password1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_LOGIN_FAILED")
	})
}

func TestService_Login_OversizedPassword(t *testing.T) {
	ctx := context.Background()
	svc, _, hasher := newTestService(t)
	longest := strings.Repeat("a1", auth.MaxPasswordBytes/2)
	_, err := svc.Register(ctx, "alice", longest)
	require.NoError(t, err)

	before := len(hasher.VerifiedHashes())
	user, err := svc.Login(ctx, "alice", longest+"x")
	require.Error(t, err)
	assert.Nil(t, user)
	errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	assert.Len(t, hasher.VerifiedHashes(), before+1, "oversized input still costs one verification")
	assert.Equal(t, []int{auth.MaxPasswordBytes}, hasher.VerifiedLengths()[before:])

	_, err = svc.Login(ctx, "nobody", strings.Repeat("x", 1<<20))
	errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	assert.LessOrEqual(t, hasher.VerifiedLengths()[before+1], auth.MaxPasswordBytes)

	_, err = svc.Login(ctx, "alice", longest)
	require.NoError(t, err, "a password at the limit still logs in")
}

func TestService_Login_TimingIsIndependentOfUserExistence(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	ctx := context.Background()

	svc, err := auth.NewAuthService(memory.NewUserRepository(), authtest.NewFastHasher(),
		auth.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	_, err = svc.Register(ctx, "alice", "password1")
	require.NoError(t, err)

	const rounds = 25
	var unknown, wrong []time.Duration
	for i := 0; i < rounds; i++ {
		start := time.Now()
		_, _ = svc.Login(ctx, "nobody", "password1")
		unknown = append(unknown, time.Since(start))

		start = time.Now()
		_, _ = svc.Login(ctx, "alice", "password2")
		wrong = append(wrong, time.Since(start))
	}

	mu, mw := median(unknown), median(wrong)
	ratio := float64(mu) / float64(mw)
	assert.Greater(t, ratio, 0.33, "unknown user median %v vs wrong password median %v", mu, mw)
	assert.Less(t, ratio, 3.0, "unknown user median %v vs wrong password median %v", mu, mw)
}

func median(ds []time.Duration) time.Duration {
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("input rules", func(t *testing.T) {
		tests := []struct {
			username string
			password string
			wantCode string
		}{
			{"ab", "password1", ""},
			{"a", "password1", auth.CodeInvalidUsername},
			{"Valid1", "short1", auth.CodeInvalidPassword},
			{"Valid_1", "password1", ""},
		}
		for _, tt := range tests {
			t.Run(tt.username+"/"+tt.password, func(t *testing.T) {
				svc, users, _ := newTestService(t)
				user, err := svc.Register(ctx, tt.username, tt.password)
				if tt.wantCode == "" {
					require.NoError(t, err)
					assert.Equal(t, strings.ToLower(tt.username), user.Username)
					assert.Equal(t, 1, users.Count())
					return
				}
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				assert.Equal(t, auth.KindValidation, auth.KindOf(err))
				assert.Equal(t, 0, users.Count())
			})
		}
	})

	t.Run("invalid input never reaches the store", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		svc, err := auth.NewAuthService(users, &authtest.PlainHasher{})
		require.NoError(t, err)

		_, err = svc.Register(ctx, "_bad", "password1")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidUsername)
		_, err = svc.Register(ctx, "good", "nodigits")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidPassword)
	})

	t.Run("stored hash is not the password", func(t *testing.T) {
		svc, users, _ := newTestService(t)
		user, err := svc.Register(ctx, "alice", "password1")
		require.NoError(t, err)
		assert.Empty(t, user.PasswordHash)

		stored, err := users.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.NotEqual(t, "password1", stored.PasswordHash)
		assert.NotEmpty(t, stored.PasswordHash)
	})

	t.Run("duplicate username differing only in case conflicts", func(t *testing.T) {
		svc, users, _ := newTestService(t)
		_, err := svc.Register(ctx, "Bob1", "password1")
		require.NoError(t, err)

		_, err = svc.Register(ctx, "bob1", "password2")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeUsernameTaken)
		assert.Equal(t, auth.KindConflict, auth.KindOf(err))
		assert.Equal(t, "username", auth.FieldOf(err))
		assert.Equal(t, 1, users.Count())
	})

	t.Run("concurrent registrations of one username", func(t *testing.T) {
		svc, users, _ := newTestService(t)

		const n = 16
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.Register(ctx, "racer", "password1")
			}(i)
		}
		wg.Wait()

		var ok, taken int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errutil.CodeOf(err) == auth.CodeUsernameTaken:
				taken++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, n-1, taken)
		assert.Equal(t, 1, users.Count())
	})

	t.Run("store uniqueness violation maps to conflict", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		svc, err := auth.NewAuthService(users, &authtest.PlainHasher{})
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "alice").Return(nil, auth.ErrNotFound)
		users.On("Create", mock.Anything, mock.AnythingOfType("*auth.User")).
			Return(oops.Code("USER_CREATE_FAILED").Wrap(auth.ErrUsernameTaken))

		_, err = svc.Register(ctx, "alice", "password1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeUsernameTaken)
	})

	t.Run("store failure is internal", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		svc, err := auth.NewAuthService(users, &authtest.PlainHasher{})
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "alice").Return(nil, auth.ErrNotFound)
		users.On("Create", mock.Anything, mock.AnythingOfType("*auth.User")).Return(errors.New("disk full"))

		_, err = svc.Register(ctx, "alice", "password1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_REGISTER_FAILED")
		assert.Equal(t, auth.KindInternal, auth.KindOf(err))
	})

	t.Run("lookup failure is internal", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		svc, err := auth.NewAuthService(users, &authtest.PlainHasher{})
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "alice").Return(nil, errors.New("timeout"))

		_, err = svc.Register(ctx, "alice", "password1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_REGISTER_FAILED")
	})

	t.Run("hash failure is internal", func(t *testing.T) {
		users := authtest.NewMockUserRepository(t)
		hasher := authtest.NewMockPasswordHasher(t)
		hasher.On("Hash", mock.Anything, mock.Anything).Return("dummy", nil).Once()
		svc, err := auth.NewAuthService(users, hasher)
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "alice").Return(nil, auth.ErrNotFound)
		hasher.On("Hash", mock.Anything, "password1").Return("", errors.New("out of memory")).Once()

		_, err = svc.Register(ctx, "alice", "password1")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_REGISTER_FAILED")
	})
}

func TestService_RecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	rec := &authtest.RecordingRecorder{}
	svc, err := auth.NewAuthService(memory.NewUserRepository(), &authtest.PlainHasher{}, auth.WithRecorder(rec))
	require.NoError(t, err)

	_, _ = svc.Register(ctx, "alice", "password1")
	_, _ = svc.Register(ctx, "alice", "password1")
	_, _ = svc.Register(ctx, "a", "password1")
	_, _ = svc.Login(ctx, "alice", "password1")
	_, _ = svc.Login(ctx, "alice", "wrong1234")

	assert.Equal(t, []string{auth.OutcomeSuccess, auth.OutcomeConflict, auth.OutcomeInvalid}, rec.Signups)
	assert.Equal(t, []string{auth.OutcomeSuccess, auth.OutcomeRejected}, rec.Logins)
	assert.Equal(t, []string{"hash", "verify", "verify"}, rec.Hashes)
}

func TestService_Verify(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	_, err := svc.Register(ctx, "alice", "password1")
	require.NoError(t, err)

	t.Run("password credentials", func(t *testing.T) {
		user, err := svc.Verify(ctx, auth.PasswordCredentials{Username: "alice", Password: "password1"})
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
	})

	t.Run("bad password credentials", func(t *testing.T) {
		_, err := svc.Verify(ctx, auth.PasswordCredentials{Username: "alice", Password: "password2"})
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
	})

	t.Run("nil credentials", func(t *testing.T) {
		_, err := svc.Verify(ctx, nil)
		errutil.AssertErrorCode(t, err, "AUTH_UNSUPPORTED_CREDENTIALS")
	})

	t.Run("pointer credentials are not a supported kind", func(t *testing.T) {
		_, err := svc.Verify(ctx, &auth.PasswordCredentials{Username: "alice", Password: "password1"})
		errutil.AssertErrorCode(t, err, "AUTH_UNSUPPORTED_CREDENTIALS")
		errutil.AssertErrorContext(t, err, "kind", "password")
	})
}
