// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package authtest provides test helpers for the auth package.
package authtest

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
)

// FastArgon2Params are cheap argon2id parameters for tests.
var FastArgon2Params = auth.Argon2Params{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// NewFastHasher returns a real argon2id hasher with cheap parameters.
func NewFastHasher() *auth.Argon2idHasher {
	return auth.NewArgon2idHasher(auth.WithArgon2Params(FastArgon2Params))
}

// PlainHasher is a PasswordHasher that stores "plain$<password>".
// It counts Verify calls so tests can assert that verification happened.
type PlainHasher struct {
	mu            sync.Mutex
	verifyCalls   []string
	verifyLengths []int
}

// Hash returns the plain encoding of password.
func (h *PlainHasher) Hash(_ context.Context, password string) (string, error) {
	if password == "" {
		return "", auth.ErrEmptyPassword
	}
	return "plain$" + password, nil
}

// Verify compares password with the plain encoding.
func (h *PlainHasher) Verify(_ context.Context, password, encoded string) (bool, error) {
	h.mu.Lock()
	h.verifyCalls = append(h.verifyCalls, encoded)
	h.verifyLengths = append(h.verifyLengths, len(password))
	h.mu.Unlock()

	stored, ok := strings.CutPrefix(encoded, "plain$")
	if !ok {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1, nil
}

// NeedsRehash always returns false.
func (h *PlainHasher) NeedsRehash(string) bool {
	return false
}

// VerifiedHashes returns the encoded hashes Verify was called with.
func (h *PlainHasher) VerifiedHashes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.verifyCalls))
	copy(out, h.verifyCalls)
	return out
}

// VerifiedLengths returns the byte length of each password Verify received.
func (h *PlainHasher) VerifiedLengths() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, len(h.verifyLengths))
	copy(out, h.verifyLengths)
	return out
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// RecordingRecorder is an auth.Recorder that keeps every event.
type RecordingRecorder struct {
	mu       sync.Mutex
	Logins   []string
	Signups  []string
	Sessions []string // "operation:outcome"
	Hashes   []string
}

// RecordLogin records a login outcome.
func (r *RecordingRecorder) RecordLogin(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Logins = append(r.Logins, outcome)
}

// RecordRegistration records a registration outcome.
func (r *RecordingRecorder) RecordRegistration(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Signups = append(r.Signups, outcome)
}

// RecordSessionOperation records a session operation outcome.
func (r *RecordingRecorder) RecordSessionOperation(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sessions = append(r.Sessions, operation+":"+outcome)
}

// ObservePasswordHash records the hash operation name.
func (r *RecordingRecorder) ObservePasswordHash(operation string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Hashes = append(r.Hashes, operation)
}

// Compile-time interface checks.
var (
	_ auth.PasswordHasher = (*PlainHasher)(nil)
	_ auth.Recorder       = (*RecordingRecorder)(nil)
)
