// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

// Argon2Params are the tunable argon2id parameters.
type Argon2Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params are the OWASP-recommended argon2id parameters.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  1,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces an encoded hash that carries its own parameters and salt.
	Hash(ctx context.Context, password string) (string, error)

	// Verify checks if the password matches the encoded hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on a malformed hash.
	Verify(ctx context.Context, password, encoded string) (bool, error)

	// NeedsRehash reports whether the hash was produced with other parameters
	// than the hasher currently uses.
	NeedsRehash(encoded string) bool
}

// HasherOption configures an Argon2idHasher.
type HasherOption func(*Argon2idHasher)

// WithArgon2Params overrides the argon2id parameters.
func WithArgon2Params(p Argon2Params) HasherOption {
	return func(h *Argon2idHasher) {
		h.params = p
	}
}

// WithMaxConcurrent bounds how many hash computations run at once.
// Values below 1 are ignored.
func WithMaxConcurrent(n int) HasherOption {
	return func(h *Argon2idHasher) {
		if n > 0 {
			h.maxConcurrent = int64(n)
		}
	}
}

// Argon2idHasher implements PasswordHasher using argon2id.
// It is safe for concurrent use; each computation holds one semaphore slot
// so memory use stays bounded under load.
type Argon2idHasher struct {
	params        Argon2Params
	maxConcurrent int64
	slots         *semaphore.Weighted
}

// NewArgon2idHasher creates a new Argon2idHasher.
func NewArgon2idHasher(opts ...HasherOption) *Argon2idHasher {
	h := &Argon2idHasher{
		params:        DefaultArgon2Params,
		maxConcurrent: int64(2 * runtime.GOMAXPROCS(0)),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.slots = semaphore.NewWeighted(h.maxConcurrent)
	return h
}

// Params returns the configured parameters.
func (h *Argon2idHasher) Params() Argon2Params {
	return h.params
}

// Hash produces an argon2id hash of the password in PHC string format:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func (h *Argon2idHasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key, err := h.derive(ctx, password, salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks if the password matches the hash.
// The full key is always derived and compared in constant time, so the
// running time does not depend on where a mismatch occurs.
func (h *Argon2idHasher) Verify(ctx context.Context, password, encoded string) (bool, error) {
	decoded, err := decodeArgon2id(encoded)
	if err != nil {
		return false, err
	}

	computed, err := h.derive(ctx, password, decoded.salt, decoded.iterations, decoded.memory, decoded.parallelism, uint32(len(decoded.key)))
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare(computed, decoded.key) == 1, nil
}

// NeedsRehash returns true if the hash is not argon2id or uses different parameters.
func (h *Argon2idHasher) NeedsRehash(encoded string) bool {
	decoded, err := decodeArgon2id(encoded)
	if err != nil {
		return true
	}
	return decoded.version != argon2.Version ||
		decoded.memory != h.params.Memory ||
		decoded.iterations != h.params.Iterations ||
		decoded.parallelism != h.params.Parallelism ||
		uint32(len(decoded.salt)) != h.params.SaltLength ||
		uint32(len(decoded.key)) != h.params.KeyLength
}

// derive runs argon2id while holding a concurrency slot. Waiting for a slot
// honours ctx; the computation itself is not interruptible.
func (h *Argon2idHasher) derive(ctx context.Context, password string, salt []byte, iterations, memory uint32, parallelism uint8, keyLen uint32) ([]byte, error) {
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return nil, oops.Code("AUTH_HASH_CANCELLED").
			With("operation", "acquire hashing slot").
			Wrap(err)
	}
	defer h.slots.Release(1)

	return argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, keyLen), nil
}

type argon2idHash struct {
	version     int
	memory      uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func decodeArgon2id(encoded string) (*argon2idHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var out argon2idHash
	if _, err := fmt.Sscanf(parts[2], "v=%d", &out.version); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").With("segment", "version").Wrap(err)
	}

	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &out.memory, &out.iterations, &threads); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").With("segment", "params").Wrap(err)
	}
	// argon2 panics on zero time or parallelism.
	if out.iterations == 0 || threads == 0 || threads > 255 {
		return nil, oops.Code("AUTH_INVALID_HASH").
			With("iterations", out.iterations).
			With("parallelism", threads).
			Errorf("invalid hash parameters")
	}
	out.parallelism = uint8(threads)

	var err error
	out.salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").With("segment", "salt").Wrap(err)
	}

	out.key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").With("segment", "key").Wrap(err)
	}
	if len(out.key) == 0 || len(out.key) > 1<<10 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(out.key))
	}

	return &out, nil
}

// Compile-time interface check.
var _ PasswordHasher = (*Argon2idHasher)(nil)
