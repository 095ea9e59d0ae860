package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tasklane-core/internal/auth"
)

// elevationHeader carries the base64 password for POST /auth/elevation.
const elevationHeader = "X-Elevation-Password"

// tokenResponse is the body returned when a pair is issued or rotated.
// It is the only place raw tokens ever leave the server.
type tokenResponse struct {
	ID                  int64      `json:"id"`
	AccessToken         string     `json:"access_token"`
	RefreshToken        string     `json:"refresh_token"`
	AccessTokenExpires  *time.Time `json:"access_token_expires"`
	RefreshTokenExpires *time.Time `json:"refresh_token_expires"`
	LongExpiry          bool       `json:"long_expiry"`
}

func newTokenResponse(p *auth.TokenPair) tokenResponse {
	return tokenResponse{
		ID:                  p.ID,
		AccessToken:         p.AccessToken(),
		RefreshToken:        p.RefreshToken(),
		AccessTokenExpires:  p.AccessTokenExpires,
		RefreshTokenExpires: p.RefreshTokenExpires,
		LongExpiry:          p.LongExpiry,
	}
}

func writeTokens(w http.ResponseWriter, p *auth.TokenPair) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, newTokenResponse(p))
}

// longExpiryRequested reads the long-expiry query flag. A bare
// "?long-expiry" counts as true.
func longExpiryRequested(r *http.Request) bool {
	q := r.URL.Query()
	if !q.Has("long-expiry") {
		return false
	}
	v := q.Get("long-expiry")
	if v == "" {
		return true
	}
	long, err := strconv.ParseBool(v)
	return err == nil && long
}

// handleIssueToken exchanges Basic credentials for a new token pair.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	username, password, err := auth.DecodeBasicCredentials(r.Header.Get("Authorization"))
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	pair, err := s.authn.Login(r.Context(), username, password, longExpiryRequested(r))
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeTokens(w, pair)
}

// handleRefreshToken rotates the pair identified by the bearer refresh token.
func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	user, err := s.bearerUser(r, auth.TokenRefresh)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	pair, err := s.authn.RefreshTokenPair(r.Context(), user, user.RequestToken, longExpiryRequested(r))
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeTokens(w, pair)
}

// handleRevokeToken deletes the current pair, or the caller's pair named by
// {tokenID}.
func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var target *int64
	if raw := chi.URLParam(r, "tokenID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeBadRequest(w, "token id must be a positive integer")
			return
		}
		target = &id
	}

	if err := s.authn.RevokeTokenPair(r.Context(), user, target); err != nil {
		if errors.Is(err, auth.ErrTokenPairNotFound) {
			writeNotFound(w, "token pair not found")
			return
		}
		s.logger.Error("revoke token pair failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "failed to revoke token")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleElevate re-verifies the password and opens the elevation window.
// Refusals are 403 without the failure delay.
func (s *Server) handleElevate(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	password, err := auth.DecodeElevationPassword(r.Header.Get(elevationHeader))
	if err != nil {
		writeBadRequest(w, "missing or malformed "+elevationHeader+" header")
		return
	}

	ok, err := s.authn.ElevateUser(r.Context(), user, password)
	if err != nil {
		s.logger.Error("elevation failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "failed to elevate")
		return
	}
	if !ok {
		s.security.Warn("elevation refused",
			"user_id", user.ID,
			"remote_addr", auth.RemoteAddrFrom(r.Context()),
		)
		s.metrics.authFailure("elevation")
		s.hammer(r)
		writeForbidden(w, "elevation refused")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDropElevation ends the elevation window early.
func (s *Server) handleDropElevation(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	if err := s.authn.DropElevation(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrNotElevated) {
			writeForbidden(w, "not elevated")
			return
		}
		s.logger.Error("drop elevation failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "failed to drop elevation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
