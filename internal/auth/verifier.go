// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"

	"github.com/samber/oops"
)

// Credentials is a closed set of credential kinds a CredentialVerifier accepts.
// New kinds are added as variants in this package.
type Credentials interface {
	credentialKind() string
}

// PasswordCredentials is a username/password pair.
type PasswordCredentials struct {
	Username string
	Password string
}

func (PasswordCredentials) credentialKind() string { return "password" }

// CredentialVerifier turns credentials into an authenticated user.
type CredentialVerifier interface {
	Verify(ctx context.Context, creds Credentials) (*User, error)
}

// Verify authenticates creds. Only PasswordCredentials are supported.
func (s *Service) Verify(ctx context.Context, creds Credentials) (*User, error) {
	switch c := creds.(type) {
	case PasswordCredentials:
		return s.Login(ctx, c.Username, c.Password)
	case nil:
		return nil, oops.Code("AUTH_UNSUPPORTED_CREDENTIALS").Errorf("credentials are required")
	default:
		return nil, oops.Code("AUTH_UNSUPPORTED_CREDENTIALS").
			With("kind", c.credentialKind()).
			Errorf("unsupported credential kind")
	}
}

// Compile-time interface check.
var _ CredentialVerifier = (*Service)(nil)
