// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package web is keyward's HTTP transport: registration, login, logout and
// current-user lookup over JSON, with the session token carried in a cookie.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
)

// DefaultCookieName is the session cookie used when Config leaves it empty.
const DefaultCookieName = "keyward_session"

// Registrar creates accounts.
type Registrar interface {
	Register(ctx context.Context, username, password string) (*auth.User, error)
}

// SessionService is the part of auth.SessionManager the transport uses.
type SessionService interface {
	Issue(ctx context.Context, userID ulid.ULID, payload auth.Payload) (string, *auth.Session, error)
	Resolve(ctx context.Context, token string) (*auth.Session, *auth.User, error)
	Revoke(ctx context.Context, token string) error
}

// Config controls transport behaviour.
type Config struct {
	CookieName   string
	CookieSecure bool
	// CORSOrigins lists origins allowed to make credentialed requests.
	// Empty disables CORS handling.
	CORSOrigins []string
	// Production hides internal error details from responses.
	Production bool
}

// Deps are the services the router dispatches to.
type Deps struct {
	Registrar Registrar
	Verifier  auth.CredentialVerifier
	Sessions  SessionService
	Logger    *slog.Logger
}

// NewRouter builds the gin engine serving the keyward API.
func NewRouter(cfg Config, deps Deps) (*gin.Engine, error) {
	if deps.Registrar == nil || deps.Verifier == nil || deps.Sessions == nil {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("registrar, verifier and sessions are required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handler{
		registrar: deps.Registrar,
		verifier:  deps.Verifier,
		sessions:  deps.Sessions,
		cfg:       cfg,
		logger:    logger,
	}

	router := gin.New()
	router.Use(requestID(), accessLog(logger), h.recovery())
	router.HandleMethodNotAllowed = true
	if len(cfg.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.CORSOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", RequestIDHeader}
		corsConfig.ExposeHeaders = []string{RequestIDHeader}
		router.Use(cors.New(corsConfig))
	}

	router.NoRoute(func(c *gin.Context) {
		respond(c, http.StatusNotFound, "NOT_FOUND", "route not found", "")
	})
	router.NoMethod(func(c *gin.Context) {
		respond(c, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", "")
	})

	router.GET("/healthz", healthz)
	router.POST("/register", h.register)
	router.POST("/login", h.login)
	router.POST("/logout", h.logout)
	router.GET("/me", h.requireSession(), h.me)

	return router, nil
}

// NewServer wraps handler in an http.Server with keyward's timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
