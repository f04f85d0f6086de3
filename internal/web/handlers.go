// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keyward/keyward/internal/auth"
)

// maxCredentialsBodyBytes bounds a register or login body. It leaves room
// for a maximum length password written entirely in JSON escapes.
const maxCredentialsBodyBytes = 8 << 10

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type handler struct {
	registrar Registrar
	verifier  auth.CredentialVerifier
	sessions  SessionService
	cfg       Config
	logger    *slog.Logger
}

// bindCredentials decodes the request body. Field validation is left to the
// auth service so every rule lives in one place.
func (h *handler) bindCredentials(c *gin.Context) (credentialsRequest, bool) {
	var req credentialsRequest
	if c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCredentialsBodyBytes)
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond(c, http.StatusRequestEntityTooLarge, CodeRequestTooLarge, "request body is too large", "")
			return req, false
		}
		respond(c, http.StatusBadRequest, CodeInvalidRequest, "request body must be a JSON object with username and password", "")
		return req, false
	}
	return req, true
}

func (h *handler) register(c *gin.Context) {
	req, ok := h.bindCredentials(c)
	if !ok {
		return
	}

	user, err := h.registrar.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (h *handler) login(c *gin.Context) {
	req, ok := h.bindCredentials(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	user, err := h.verifier.Verify(ctx, auth.PasswordCredentials{Username: req.Username, Password: req.Password})
	if err != nil {
		h.respondError(c, err)
		return
	}

	// Drop any session the client already holds before issuing a new one.
	if previous, cookieErr := c.Cookie(h.cfg.CookieName); cookieErr == nil && previous != "" {
		if revokeErr := h.sessions.Revoke(ctx, previous); revokeErr != nil {
			h.logger.WarnContext(ctx, "failed to revoke previous session", "error", revokeErr)
		}
	}

	token, session, err := h.sessions.Issue(ctx, user.ID, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.setSessionCookie(c, token, session)
	c.JSON(http.StatusOK, user)
}

func (h *handler) logout(c *gin.Context) {
	if token, err := c.Cookie(h.cfg.CookieName); err == nil && token != "" {
		if err := h.sessions.Revoke(c.Request.Context(), token); err != nil {
			h.respondError(c, err)
			return
		}
	}
	h.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

func (h *handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, userFrom(c))
}

func healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
