// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	goredis "github.com/redis/go-redis/v9"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/auth/authtest"
	"github.com/keyward/keyward/internal/auth/postgres"
	"github.com/keyward/keyward/internal/auth/redis"
	"github.com/keyward/keyward/internal/web"
)

// apiClient drives a running API with a cookie jar, like a browser.
type apiClient struct {
	base   string
	client *http.Client
}

func newAPIClient(base string) *apiClient {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &apiClient{base: base, client: &http.Client{Jar: jar}}
}

func (c *apiClient) call(method, path, body string) (int, map[string]any) {
	req, err := http.NewRequest(method, c.base+path, strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp.StatusCode, decoded
}

func startAPI(sessions auth.SessionStore) (*httptest.Server, *postgres.UserRepository) {
	users := postgres.NewUserRepository(env.pool)

	svc, err := auth.NewAuthService(users, authtest.NewFastHasher(), auth.WithLogger(env.logger))
	Expect(err).NotTo(HaveOccurred())
	manager, err := auth.NewSessionManager(sessions,
		auth.WithUserResolver(users),
		auth.WithSessionLogger(env.logger),
	)
	Expect(err).NotTo(HaveOccurred())

	router, err := web.NewRouter(web.Config{}, web.Deps{
		Registrar: svc,
		Verifier:  svc,
		Sessions:  manager,
		Logger:    env.logger,
	})
	Expect(err).NotTo(HaveOccurred())
	return httptest.NewServer(router), users
}

var _ = Describe("Account API", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
	})

	type backend struct {
		name     string
		sessions func() auth.SessionStore
	}

	var mr *miniredis.Miniredis
	var redisClient *goredis.Client

	AfterEach(func() {
		if redisClient != nil {
			_ = redisClient.Close()
			redisClient = nil
		}
		if mr != nil {
			mr.Close()
			mr = nil
		}
	})

	backends := []backend{
		{
			name:     "postgres sessions",
			sessions: func() auth.SessionStore { return postgres.NewSessionStore(env.pool) },
		},
		{
			name: "redis sessions",
			sessions: func() auth.SessionStore {
				var err error
				mr, err = miniredis.Run()
				Expect(err).NotTo(HaveOccurred())
				redisClient = goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
				return redis.NewSessionStore(redisClient)
			},
		},
	}

	for _, b := range backends {
		Context("with "+b.name, func() {
			var (
				server *httptest.Server
				users  *postgres.UserRepository
			)

			BeforeEach(func() {
				server, users = startAPI(b.sessions())
				DeferCleanup(server.Close)
			})

			It("runs the register, login, me and logout flow", func() {
				client := newAPIClient(server.URL)

				status, body := client.call(http.MethodPost, "/register", `{"username":"Alice","password":"correct horse 9"}`)
				Expect(status).To(Equal(http.StatusCreated))
				Expect(body).To(HaveKeyWithValue("username", "alice"))
				Expect(body).NotTo(HaveKey("password_hash"))

				status, _ = client.call(http.MethodPost, "/login", `{"username":"alice","password":"correct horse 9"}`)
				Expect(status).To(Equal(http.StatusOK))

				status, body = client.call(http.MethodGet, "/me", "")
				Expect(status).To(Equal(http.StatusOK))
				Expect(body).To(HaveKeyWithValue("username", "alice"))

				status, _ = client.call(http.MethodPost, "/logout", "")
				Expect(status).To(Equal(http.StatusNoContent))

				status, _ = client.call(http.MethodGet, "/me", "")
				Expect(status).To(Equal(http.StatusUnauthorized))
			})

			It("rejects duplicate usernames regardless of case", func() {
				client := newAPIClient(server.URL)

				status, _ := client.call(http.MethodPost, "/register", `{"username":"bob","password":"password1"}`)
				Expect(status).To(Equal(http.StatusCreated))

				status, body := client.call(http.MethodPost, "/register", `{"username":"BOB","password":"password2"}`)
				Expect(status).To(Equal(http.StatusConflict))
				Expect(body).To(HaveKey("error"))
			})

			It("rejects wrong passwords and unknown users alike", func() {
				client := newAPIClient(server.URL)
				status, _ := client.call(http.MethodPost, "/register", `{"username":"carol","password":"password1"}`)
				Expect(status).To(Equal(http.StatusCreated))

				wrongStatus, wrongBody := client.call(http.MethodPost, "/login", `{"username":"carol","password":"nope-nope"}`)
				unknownStatus, unknownBody := client.call(http.MethodPost, "/login", `{"username":"nobody","password":"nope-nope"}`)

				Expect(wrongStatus).To(Equal(http.StatusUnauthorized))
				Expect(unknownStatus).To(Equal(wrongStatus))
				Expect(unknownBody).To(Equal(wrongBody))
			})

			It("keeps sessions isolated between clients", func() {
				alice := newAPIClient(server.URL)
				bob := newAPIClient(server.URL)

				for _, c := range []struct {
					client *apiClient
					name   string
				}{{alice, "alice"}, {bob, "bob"}} {
					body := `{"username":"` + c.name + `","password":"password1"}`
					status, _ := c.client.call(http.MethodPost, "/register", body)
					Expect(status).To(Equal(http.StatusCreated))
					status, _ = c.client.call(http.MethodPost, "/login", body)
					Expect(status).To(Equal(http.StatusOK))
				}

				status, _ := alice.call(http.MethodPost, "/logout", "")
				Expect(status).To(Equal(http.StatusNoContent))

				status, body := bob.call(http.MethodGet, "/me", "")
				Expect(status).To(Equal(http.StatusOK))
				Expect(body).To(HaveKeyWithValue("username", "bob"))
			})

			It("rejects the session of a deleted account", func() {
				client := newAPIClient(server.URL)
				status, body := client.call(http.MethodPost, "/register", `{"username":"dave","password":"password1"}`)
				Expect(status).To(Equal(http.StatusCreated))
				status, _ = client.call(http.MethodPost, "/login", `{"username":"dave","password":"password1"}`)
				Expect(status).To(Equal(http.StatusOK))

				user, err := users.GetByUsername(ctx, "dave")
				Expect(err).NotTo(HaveOccurred())
				Expect(user.ID.String()).To(Equal(body["id"]))
				Expect(users.Delete(ctx, user.ID)).To(Succeed())

				status, _ = client.call(http.MethodGet, "/me", "")
				Expect(status).To(Equal(http.StatusUnauthorized))
			})
		})
	}

	It("stores only hashed passwords", func() {
		server, _ := startAPI(postgres.NewSessionStore(env.pool))
		defer server.Close()

		client := newAPIClient(server.URL)
		status, _ := client.call(http.MethodPost, "/register", `{"username":"erin","password":"plaintext-secret9"}`)
		Expect(status).To(Equal(http.StatusCreated))

		var hash string
		err := env.pool.QueryRow(ctx, "SELECT password_hash FROM users WHERE username = $1", "erin").Scan(&hash)
		Expect(err).NotTo(HaveOccurred())
		Expect(hash).To(HavePrefix("$argon2id$"))
		Expect(hash).NotTo(ContainSubstring("plaintext-secret"))
	})
})
