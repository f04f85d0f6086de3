// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/keyward/keyward/internal/store"
)

var _ = Describe("Schema", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("keyward_test"),
			postgres.WithUsername("keyward"),
			postgres.WithPassword("keyward"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr, store.ConnectOptions{Retries: 3})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("rejects duplicate usernames with a unique violation", func() {
		_, err := pool.Exec(ctx,
			`INSERT INTO users (id, username, password_hash) VALUES ('01A', 'alice', 'h')`)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx,
			`INSERT INTO users (id, username, password_hash) VALUES ('01B', 'alice', 'h')`)
		var pgErr *pgconn.PgError
		Expect(errors.As(err, &pgErr)).To(BeTrue())
		Expect(pgErr.Code).To(Equal(pgerrcode.UniqueViolation))
	})

	It("rejects usernames that are not lower case", func() {
		_, err := pool.Exec(ctx,
			`INSERT INTO users (id, username, password_hash) VALUES ('01C', 'Bob', 'h')`)
		var pgErr *pgconn.PgError
		Expect(errors.As(err, &pgErr)).To(BeTrue())
		Expect(pgErr.Code).To(Equal(pgerrcode.CheckViolation))
	})

	It("stores session payloads as jsonb", func() {
		_, err := pool.Exec(ctx, `
			INSERT INTO sessions (id, user_id, payload, created_at, last_access_at, expires_at)
			VALUES ('s1', '01A', '{"theme":"dark"}', NOW(), NOW(), NOW() + INTERVAL '1 hour')`)
		Expect(err).NotTo(HaveOccurred())

		var theme string
		Expect(pool.QueryRow(ctx, `SELECT payload->>'theme' FROM sessions WHERE id = 's1'`).Scan(&theme)).To(Succeed())
		Expect(theme).To(Equal("dark"))
	})
})
