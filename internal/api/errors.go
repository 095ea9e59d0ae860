package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/tasklane-core/internal/auth"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeTokenExpired = "token_expired"
	ErrCodeForbidden    = "forbidden"
	ErrCodeBlocked      = "blocked"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// Fixed client messages for malformed credentials. The decode cause goes
// to the debug log only.
const (
	msgMalformedToken  = "malformed token"
	msgMalformedHeader = "malformed authorization header"
)

// writeAuthError translates an Authenticator error into a response.
//
//	malformed header or token   400, no delay
//	expired token               401 token_expired, no delay
//	bad credentials or token    401, delayed, counted against the client
//	concurrent rotation         409, no delay
//	anything else               500, delayed
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrMalformedToken):
		s.logger.Debug("malformed token", "path", r.URL.Path, "error", err)
		s.metrics.authFailure("malformed")
		writeBadRequest(w, msgMalformedToken)

	case errors.Is(err, auth.ErrMalformedHeader):
		s.logger.Debug("malformed authorization header", "path", r.URL.Path, "error", err)
		s.metrics.authFailure("malformed")
		writeBadRequest(w, msgMalformedHeader)

	case errors.Is(err, auth.ErrTokenExpired):
		s.metrics.authFailure("expired")
		writeError(w, http.StatusUnauthorized, ErrCodeTokenExpired, "token has expired")

	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrTokenInvalid):
		s.security.Warn("authentication failed",
			"path", r.URL.Path,
			"remote_addr", auth.RemoteAddrFrom(r.Context()),
			"request_id", requestIDFrom(r.Context()),
		)
		s.metrics.authFailure("invalid")
		s.hammer(r)
		s.holdFailure(r)
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials")

	case errors.Is(err, auth.ErrTokenRotated):
		s.security.Warn("refresh lost a rotation race", "path", r.URL.Path)
		writeConflict(w, "token pair was rotated by another request")

	default:
		s.logger.Error("authentication error",
			"path", r.URL.Path,
			"error", err,
			"request_id", requestIDFrom(r.Context()),
		)
		s.holdFailure(r)
		writeInternalError(w, "internal server error")
	}
}

// holdFailure blocks until the failure delay has elapsed since the request
// arrived, or until the client goes away.
func (s *Server) holdFailure(r *http.Request) {
	if s.failureDelay <= 0 {
		return
	}
	holdUntil(r.Context(), requestStartFrom(r.Context()).Add(s.failureDelay))
	s.metrics.delayedResponses.Inc()
}

func holdUntil(ctx context.Context, deadline time.Time) {
	wait := time.Until(deadline)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// hammer records an authentication failure against the client address.
func (s *Server) hammer(r *http.Request) {
	if s.guard == nil {
		return
	}
	if addr := auth.RemoteAddrFrom(r.Context()); addr != "" {
		s.guard.Fail(r.Context(), addr)
	}
}
