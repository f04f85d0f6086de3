// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package web

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/keyward/keyward/internal/auth"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

const (
	ctxRequestID = "keyward.request_id"
	ctxUser      = "keyward.user"
	ctxSession   = "keyward.session"
)

// requestID reuses a well-formed inbound X-Request-ID or mints a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

// accessLog writes one structured line per request.
func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFrom(c),
		)
	}
}

// recovery turns panics into a logged 500 with the standard error envelope.
func (h *handler) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		h.logger.ErrorContext(c.Request.Context(), "panic serving request",
			"panic", recovered,
			"path", c.Request.URL.Path,
			"request_id", requestIDFrom(c),
		)
		respond(c, http.StatusInternalServerError, CodeInternal, internalErrorMessage, "")
	})
}

// requireSession resolves the session cookie into a user. Requests without
// a live session get 401 and have their cookie cleared. The cookie lifetime
// is refreshed to the rolled expiry on success.
func (h *handler) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(h.cfg.CookieName)
		if err != nil || token == "" {
			respond(c, http.StatusUnauthorized, CodeUnauthorized, "authentication required", "")
			return
		}

		session, user, err := h.sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			if auth.KindOf(err) != auth.KindInternal {
				h.clearSessionCookie(c)
			}
			h.respondError(c, err)
			return
		}

		h.setSessionCookie(c, token, session)
		c.Set(ctxSession, session)
		c.Set(ctxUser, user)
		c.Next()
	}
}

func userFrom(c *gin.Context) *auth.User {
	user, _ := c.MustGet(ctxUser).(*auth.User)
	return user
}
