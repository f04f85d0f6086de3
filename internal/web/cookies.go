// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keyward/keyward/internal/auth"
)

// setSessionCookie writes the session token with a Max-Age matching the
// session's remaining lifetime as of its last access.
func (h *handler) setSessionCookie(c *gin.Context, token string, session *auth.Session) {
	maxAge := int(session.ExpiresAt.Sub(session.LastAccessAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  session.ExpiresAt.UTC(),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *handler) clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
