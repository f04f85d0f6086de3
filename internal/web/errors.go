// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/pkg/errutil"
)

// Codes produced by the transport itself.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeRequestTooLarge = "REQUEST_TOO_LARGE"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInternal        = "INTERNAL_ERROR"
)

const internalErrorMessage = "An internal server error occurred"

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Field   string `json:"field,omitempty"`
}

// statusFor maps an auth error kind to an HTTP status. Missing and expired
// sessions are authentication failures from the client's point of view.
func statusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation:
		return http.StatusBadRequest
	case auth.KindAuthentication, auth.KindNotFound, auth.KindExpired:
		return http.StatusUnauthorized
	case auth.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respond(c *gin.Context, status int, code, message, field string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: ErrorDetail{
		Message: message,
		Code:    code,
		Status:  status,
		Field:   field,
	}})
}

// respondError writes err as an error envelope. Internal errors are logged
// and, in production, answered with a generic message.
func (h *handler) respondError(c *gin.Context, err error) {
	kind := auth.KindOf(err)
	status := statusFor(kind)

	if kind == auth.KindInternal {
		errutil.LogErrorContext(c.Request.Context(), h.logger, "request failed", err,
			"path", c.FullPath(),
			"request_id", requestIDFrom(c),
		)
		message := err.Error()
		if h.cfg.Production {
			message = internalErrorMessage
		}
		respond(c, status, CodeInternal, message, "")
		return
	}

	respond(c, status, errutil.CodeOf(err), err.Error(), auth.FieldOf(err))
}
