// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"
	"net"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/observability"
	"github.com/keyward/keyward/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PostgresConnector opens a connection pool.
	// Default: store.Connect
	PostgresConnector func(ctx context.Context, url string, opts store.ConnectOptions) (PostgresPool, error)

	// RedisConnector opens a Redis client.
	// Default: connectRedis
	RedisConnector func(ctx context.Context, url string) (goredis.UniversalClient, error)

	// MigratorFactory opens a schema migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory migratorFactory

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readiness observability.ReadinessChecker) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

// PostgresPool is the connection pool the postgres stores run on.
type PostgresPool interface {
	store.DB
	Ping(ctx context.Context) error
	Close()
}

// ObservabilityServer is the metrics and health endpoint server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PostgresConnector == nil {
		out.PostgresConnector = func(ctx context.Context, url string, opts store.ConnectOptions) (PostgresPool, error) {
			pool, err := store.Connect(ctx, url, opts)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if out.RedisConnector == nil {
		out.RedisConnector = connectRedis
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = defaultMigratorFactory
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, readiness observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readiness)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return &out
}

// connectRedis parses a redis:// or rediss:// URL and checks the server
// answers.
func connectRedis(ctx context.Context, url string) (goredis.UniversalClient, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}
	return client, nil
}
