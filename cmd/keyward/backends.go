// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/auth/memory"
	"github.com/keyward/keyward/internal/auth/postgres"
	"github.com/keyward/keyward/internal/auth/redis"
	"github.com/keyward/keyward/internal/store"
)

const readinessTimeout = 2 * time.Second

// backends are the opened user and session stores plus the connections
// behind them.
type backends struct {
	users    auth.UserRepository
	sessions auth.SessionStore
	pool     PostgresPool
	redis    goredis.UniversalClient
}

// openBackends connects whatever the configuration selects. On error,
// anything already opened is closed.
func openBackends(ctx context.Context, cfg *Config, deps *ServeDeps, logger *slog.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	if cfg.usesPostgres() {
		if cfg.Database.AutoMigrate {
			if err := autoMigrate(deps.MigratorFactory, cfg.Database.URL, logger); err != nil {
				return nil, err
			}
		}
		b.pool, err = deps.PostgresConnector(ctx, cfg.Database.URL, store.ConnectOptions{
			Retries: cfg.Database.ConnectRetries,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("connected to database")
	}

	switch cfg.Store.Backend {
	case backendPostgres:
		b.users = postgres.NewUserRepository(b.pool)
	default:
		logger.Warn("using in-memory user store; accounts are lost on restart")
		b.users = memory.NewUserRepository()
	}

	switch cfg.Session.Backend {
	case backendPostgres:
		b.sessions = postgres.NewSessionStore(b.pool)
	case backendRedis:
		b.redis, err = deps.RedisConnector(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to redis")
		b.sessions = redis.NewSessionStore(b.redis, redis.WithKeyPrefix(cfg.Redis.KeyPrefix))
	default:
		b.sessions = memory.NewSessionStore()
	}

	return b, nil
}

func autoMigrate(factory migratorFactory, databaseURL string, logger *slog.Logger) error {
	m, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	pending, err := m.PendingMigrations()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "list pending").Wrap(err)
	}
	if len(pending) == 0 {
		return nil
	}
	logger.Info("applying migrations", "count", len(pending))
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "auto migrate").Wrap(err)
	}
	return nil
}

// Ready reports whether every external store answers.
func (b *backends) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
	defer cancel()

	if b.pool != nil && b.pool.Ping(ctx) != nil {
		return false
	}
	if b.redis != nil && b.redis.Ping(ctx).Err() != nil {
		return false
	}
	return true
}

// Close releases connections. It is safe on a partially opened value.
func (b *backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}
