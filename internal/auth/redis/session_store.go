// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package redis implements auth.SessionStore on Redis.
//
// Each session is a hash at <prefix>session:<id> with microsecond unix
// timestamps, and each user has a set <prefix>user_sessions:<user_id>
// listing their session IDs. Keys carry a Redis expiry slightly past the
// session expiry so the session manager still observes expired sessions.
// A user set expires no earlier than its latest member, which needs the
// NX and GT expiry options of Redis 7.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
)

// DefaultKeyPrefix namespaces all keys written by SessionStore.
const DefaultKeyPrefix = "keyward:"

// expiryGrace keeps a key alive past its session expiry.
const expiryGrace = time.Minute

const (
	fieldUserID     = "user_id"
	fieldPayload    = "payload"
	fieldCreatedAt  = "created_at"
	fieldLastAccess = "last_access_at"
	fieldExpiresAt  = "expires_at"
)

// createScript writes a session only if its key is free.
// KEYS: session key, user set key. ARGV: hash fields..., expiry ms, session id.
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'user_id', ARGV[1], 'payload', ARGV[2], 'created_at', ARGV[3],
  'last_access_at', ARGV[4], 'expires_at', ARGV[5])
redis.call('PEXPIREAT', KEYS[1], ARGV[6])
redis.call('SADD', KEYS[2], ARGV[7])
redis.call('PEXPIREAT', KEYS[2], ARGV[6], 'NX')
redis.call('PEXPIREAT', KEYS[2], ARGV[6], 'GT')
return 1
`)

// touchScript moves last_access_at and expires_at forward, never backwards.
// KEYS: session key, user set key. ARGV: last access us, expires us, grace ms.
var touchScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local last = tonumber(redis.call('HGET', KEYS[1], 'last_access_at'))
local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
local nl = tonumber(ARGV[1])
local ne = tonumber(ARGV[2])
if nl > last then
  redis.call('HSET', KEYS[1], 'last_access_at', ARGV[1])
end
if ne > exp then
  redis.call('HSET', KEYS[1], 'expires_at', ARGV[2])
  exp = ne
end
local at = math.floor(exp / 1000) + tonumber(ARGV[3])
redis.call('PEXPIREAT', KEYS[1], at)
redis.call('PEXPIREAT', KEYS[2], at, 'NX')
redis.call('PEXPIREAT', KEYS[2], at, 'GT')
return 1
`)

// Option configures a SessionStore.
type Option func(*SessionStore)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *SessionStore) {
		s.prefix = prefix
	}
}

// SessionStore implements auth.SessionStore using Redis.
type SessionStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewSessionStore creates a SessionStore on client.
func NewSessionStore(client goredis.UniversalClient, opts ...Option) *SessionStore {
	s := &SessionStore{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionStore) sessionKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *SessionStore) userKey(userID string) string {
	return s.prefix + "user_sessions:" + userID
}

// Create stores a new session.
func (s *SessionStore) Create(ctx context.Context, session *auth.Session) error {
	payload := session.Payload
	if payload == nil {
		payload = auth.Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "marshal payload").
			Wrap(err)
	}

	userID := session.UserID.String()
	created, err := createScript.Run(ctx, s.client,
		[]string{s.sessionKey(session.ID), s.userKey(userID)},
		userID,
		string(data),
		micros(session.CreatedAt),
		micros(session.LastAccessAt),
		micros(session.ExpiresAt),
		session.ExpiresAt.Add(expiryGrace).UnixMilli(),
		session.ID,
	).Int()
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "create session").
			With("user_id", userID).
			Wrap(err)
	}
	if created == 0 {
		return oops.Code("SESSION_CREATE_FAILED").Errorf("session id already exists")
	}
	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*auth.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "get session").
			Wrap(err)
	}
	if len(fields) == 0 {
		return nil, oops.Code("SESSION_RECORD_NOT_FOUND").Wrap(auth.ErrNotFound)
	}

	session, err := decodeSession(id, fields)
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "decode session").
			Wrap(err)
	}
	return session, nil
}

// Touch moves the session's access and expiry times forward atomically.
func (s *SessionStore) Touch(ctx context.Context, id string, lastAccess, expiresAt time.Time) error {
	key := s.sessionKey(id)
	userID, err := s.client.HGet(ctx, key, fieldUserID).Result()
	if errors.Is(err, goredis.Nil) {
		return oops.Code("SESSION_RECORD_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").
			With("operation", "lookup session owner").
			Wrap(err)
	}

	touched, err := touchScript.Run(ctx, s.client,
		[]string{key, s.userKey(userID)},
		micros(lastAccess),
		micros(expiresAt),
		expiryGrace.Milliseconds(),
	).Int()
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").
			With("operation", "touch session").
			Wrap(err)
	}
	if touched == 0 {
		return oops.Code("SESSION_RECORD_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a session; absent sessions are ignored.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	key := s.sessionKey(id)
	userID, err := s.client.HGet(ctx, key, fieldUserID).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "lookup session owner").
			Wrap(err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, s.userKey(userID), id)
		return nil
	})
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	return nil
}

// DeleteByUser removes all sessions of a user.
func (s *SessionStore) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	setKey := s.userKey(userID.String())
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "list user sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.sessionKey(id))
		}
		pipe.Del(ctx, setKey)
		return nil
	})
	if err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_FAILED").
			With("operation", "delete user sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes sessions that expired before now and returns the
// count. Redis reclaims keys on its own after the grace period; this sweeps
// the ones still inside it and drops user set members whose session key is
// gone.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	cutoff := now.UnixMicro()

	iter := s.client.Scan(ctx, 0, s.sessionKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		values, err := s.client.HMGet(ctx, key, fieldExpiresAt, fieldUserID).Result()
		if err != nil {
			return deleted, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
				With("operation", "read session expiry").
				Wrap(err)
		}
		expStr, _ := values[0].(string)
		userID, _ := values[1].(string)
		exp, err := strconv.ParseInt(expStr, 10, 64)
		if err != nil || exp >= cutoff {
			continue
		}

		id := key[len(s.sessionKey("")):]
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return deleted, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
				With("operation", "delete expired session").
				Wrap(err)
		}
		if userID != "" {
			if err := s.client.SRem(ctx, s.userKey(userID), id).Err(); err != nil {
				return deleted, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
					With("operation", "remove session from user set").
					With("user_id", userID).
					Wrap(err)
			}
		}
		deleted += n
	}
	if err := iter.Err(); err != nil {
		return deleted, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "scan sessions").
			Wrap(err)
	}

	if err := s.pruneUserSets(ctx); err != nil {
		return deleted, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "prune user sets").
			Wrap(err)
	}
	return deleted, nil
}

// pruneUserSets drops members whose session key Redis already expired.
func (s *SessionStore) pruneUserSets(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.userKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := s.pruneUserSet(ctx, iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err() //nolint:wrapcheck // wrapped by DeleteExpired
}

func (s *SessionStore) pruneUserSet(ctx context.Context, setKey string) error {
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return oops.With("set", setKey).Wrap(err)
	}
	if len(ids) == 0 {
		return nil
	}

	exists := make([]*goredis.IntCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			exists[i] = pipe.Exists(ctx, s.sessionKey(id))
		}
		return nil
	})
	if err != nil {
		return oops.With("set", setKey).Wrap(err)
	}

	var stale []any
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, ids[i])
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.client.SRem(ctx, setKey, stale...).Err(); err != nil {
		return oops.With("set", setKey).With("stale", len(stale)).Wrap(err)
	}
	return nil
}

func decodeSession(id string, fields map[string]string) (*auth.Session, error) {
	userID, err := ulid.Parse(fields[fieldUserID])
	if err != nil {
		return nil, oops.With("field", fieldUserID).Wrap(err)
	}

	session := &auth.Session{ID: id, UserID: userID}
	for name, dst := range map[string]*time.Time{
		fieldCreatedAt:  &session.CreatedAt,
		fieldLastAccess: &session.LastAccessAt,
		fieldExpiresAt:  &session.ExpiresAt,
	} {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return nil, oops.With("field", name).Wrap(err)
		}
		*dst = time.UnixMicro(v).UTC()
	}

	if raw := fields[fieldPayload]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &session.Payload); err != nil {
			return nil, oops.With("field", fieldPayload).Wrap(err)
		}
	}
	if session.Payload == nil {
		session.Payload = auth.Payload{}
	}
	return session, nil
}

func micros(t time.Time) int64 {
	return t.UnixMicro()
}

// Compile-time interface check.
var _ auth.SessionStore = (*SessionStore)(nil)
