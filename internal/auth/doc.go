// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package auth provides the credential verification and session issuance core.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewUser - creates a User with a validated, normalized username and a password hash
//   - NewSession - creates a Session keyed by the hash of an opaque token
//
// Direct struct initialization bypasses validation and may create invalid state.
// Store implementations receive pre-validated types from these constructors.
//
// # Services
//
//   - Service - login and registration against a UserRepository
//   - SessionManager - issue, validate (rolling renewal), revoke and resolve sessions
//
// Both are created with constructors that validate their dependencies and are
// safe for concurrent use. Stores are injected; there is no package-level state
// beyond immutable configuration.
//
// # Errors
//
// Every error carries an oops code. KindOf classifies an error into the kind a
// transport layer maps to a response (validation, authentication, conflict,
// not found, expired, internal).
package auth
