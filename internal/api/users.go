package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tasklane-core/internal/auth"
)

// minPasswordLength applies to passwords set through POST /users.
const minPasswordLength = 8

// userResponse is a user as seen by the caller.
type userResponse struct {
	*auth.User
	Projects         []*auth.ProjectAssignment `json:"projects,omitempty"`
	Elevated         bool                      `json:"elevated,omitempty"`
	ElevationExpires *time.Time                `json:"elevation_expires,omitempty"`
}

// createUserRequest is the body of POST /users. Password is optional; an
// account without one cannot log in until a password is set.
type createUserRequest struct {
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	OtherNames string `json:"other_names"`
	Password   string `json:"password"`
}

// requireGeneral writes 403 and returns false unless the caller holds the
// general permission key.
func (s *Server) requireGeneral(w http.ResponseWriter, r *http.Request, key string) bool {
	user := userFromContext(r.Context())
	if s.authz.HasGeneralPermission(user, s.authz.Catalog().Get(key)) {
		return true
	}
	s.security.Warn("permission denied",
		"user_id", user.ID,
		"permission", key,
		"path", r.URL.Path,
	)
	s.metrics.authFailure("forbidden")
	writeForbidden(w, "missing permission "+key)
	return false
}

// handleMe returns the caller with memberships and elevation state.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	resp := userResponse{User: user, Projects: user.Projects}
	if s.authn.IsElevated(user) {
		resp.Elevated = true
		resp.ElevationExpires = user.RequestToken.SysadminElevationExpires
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListUsers lists all accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !s.requireGeneral(w, r, auth.PermGetOtherUserDetails) {
		return
	}

	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a non-admin account.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireGeneral(w, r, auth.PermAddUser) {
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	email := auth.NormaliseEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		writeBadRequest(w, "a valid email is required")
		return
	}

	user := &auth.User{
		Email:      &email,
		FirstName:  strings.TrimSpace(req.FirstName),
		OtherNames: strings.TrimSpace(req.OtherNames),
	}

	if req.Password != "" {
		if len(req.Password) < minPasswordLength {
			writeBadRequest(w, "password must be at least 8 characters")
			return
		}
		hash, err := s.hasher.Hash(req.Password)
		if err != nil {
			s.logger.Error("hash password failed", "error", err)
			writeInternalError(w, "failed to create user")
			return
		}
		user.PasswordHash = hash
	}

	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			writeConflict(w, "email already exists")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	caller := userFromContext(r.Context())
	s.security.Info("user created", "user_id", user.ID, "created_by", caller.ID)
	writeJSON(w, http.StatusCreated, userResponse{User: user})
}

// handleGetUser returns a user by numeric ID or email. Looking yourself up
// needs no permission.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	caller := userFromContext(r.Context())
	ref := chi.URLParam(r, "idOrEmail")

	id, idErr := strconv.ParseInt(ref, 10, 64)
	isID := idErr == nil

	if (isID && id == caller.ID) || (!isID && auth.NormaliseEmail(ref) == caller.EmailAddress()) {
		writeJSON(w, http.StatusOK, userResponse{User: caller, Projects: caller.Projects})
		return
	}

	if !s.requireGeneral(w, r, auth.PermGetOtherUserDetails) {
		return
	}

	var (
		user *auth.User
		err  error
	)
	if isID {
		user, err = s.users.GetByID(r.Context(), id)
	} else {
		user, err = s.users.GetByEmail(r.Context(), ref)
	}
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user failed", "error", err)
		writeInternalError(w, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: user, Projects: user.Projects})
}
