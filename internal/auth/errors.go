// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned by stores when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrUsernameTaken is returned by UserRepository.Create when the normalized
// username violates the store's uniqueness constraint.
var ErrUsernameTaken = errors.New("username already exists")

// Error codes surfaced to callers.
const (
	CodeInvalidUsername    = "AUTH_INVALID_USERNAME"
	CodeInvalidPassword    = "AUTH_INVALID_PASSWORD"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeUsernameTaken      = "USERNAME_TAKEN"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeSessionExpired     = "SESSION_EXPIRED"
)

// invalidCredentialsMessage is the only message a failed login ever returns.
const invalidCredentialsMessage = "invalid username or password"

// Kind classifies an error for the transport layer.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindConflict
	KindNotFound
	KindExpired
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	default:
		return "internal"
	}
}

var kindsByCode = map[string]Kind{
	CodeInvalidUsername:    KindValidation,
	CodeInvalidPassword:    KindValidation,
	CodeInvalidCredentials: KindAuthentication,
	CodeUsernameTaken:      KindConflict,
	CodeSessionNotFound:    KindNotFound,
	CodeSessionExpired:     KindExpired,
}

// KindOf classifies err. Errors without a recognized code are internal.
//
// oops reports the deepest code in a wrap chain, so a domain code keeps its
// kind under any number of coded wrappers. Stores therefore never emit domain
// codes; their not-found errors carry SESSION_RECORD_NOT_FOUND or
// USER_NOT_FOUND and are mapped by the session manager.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return KindInternal
	}
	code, _ := oopsErr.Code().(string)
	if kind, found := kindsByCode[code]; found {
		return kind
	}
	return KindInternal
}

// FieldOf returns the input field a validation error refers to, or "".
func FieldOf(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	field, _ := oopsErr.Context()["field"].(string)
	return field
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf(invalidCredentialsMessage)
}
