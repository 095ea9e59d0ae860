package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tasklane-core/internal/auth"
)

// assignMemberRequest is the body of PUT /projects/{projectID}/members/{userID}.
type assignMemberRequest struct {
	RoleID int64 `json:"role_id"`
}

// requireProject writes 403 (or 500 on a role lookup failure) and returns
// false unless the caller holds key in projectID.
func (s *Server) requireProject(w http.ResponseWriter, r *http.Request, projectID, key string) bool {
	user := userFromContext(r.Context())

	ok, err := s.authz.Can(r.Context(), user, projectID, key)
	if err != nil {
		s.logger.Error("permission check failed", "project_id", projectID, "error", err)
		writeInternalError(w, "failed to check permissions")
		return false
	}
	if !ok {
		s.security.Warn("permission denied",
			"user_id", user.ID,
			"project_id", projectID,
			"permission", key,
		)
		s.metrics.authFailure("forbidden")
		writeForbidden(w, "missing permission "+key)
		return false
	}
	return true
}

// handleProjectPermissions lists the caller's effective keys in a project.
func (s *Server) handleProjectPermissions(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	user := userFromContext(r.Context())

	keys, err := s.authz.ProjectPermissions(r.Context(), user, projectID)
	if err != nil {
		s.logger.Error("resolve project permissions failed", "project_id", projectID, "error", err)
		writeInternalError(w, "failed to resolve permissions")
		return
	}
	if !slices.Contains(keys, auth.PermViewProject) {
		s.metrics.authFailure("forbidden")
		writeForbidden(w, "missing permission "+auth.PermViewProject)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":  projectID,
		"permissions": keys,
		"elevated":    s.authn.IsElevated(user),
	})
}

// handleCheckProjectPermission answers whether the caller holds one key in
// a project. The key comes from the path, so it goes through Lookup rather
// than the panicking Get; unknown and general keys are 404.
func (s *Server) handleCheckProjectPermission(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	key := chi.URLParam(r, "permission")
	user := userFromContext(r.Context())

	perm, err := s.authz.Catalog().Lookup(key)
	if err != nil || perm.Scope != auth.ScopeProject {
		s.logger.Debug("unknown project permission requested", "permission", key)
		writeNotFound(w, "unknown project permission")
		return
	}

	granted, err := s.authz.HasProjectPermission(r.Context(), user, projectID, perm)
	if err != nil {
		s.logger.Error("permission check failed", "project_id", projectID, "error", err)
		writeInternalError(w, "failed to check permissions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"permission": perm.Key,
		"granted":    granted,
	})
}

// handleListMembers lists the project's assignments.
func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID, auth.PermViewProject) {
		return
	}

	members, err := s.members.ListByProject(r.Context(), projectID)
	if err != nil {
		s.logger.Error("list members failed", "project_id", projectID, "error", err)
		writeInternalError(w, "failed to list members")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"members":    members,
	})
}

// handleAssignMember sets a user's role in the project.
func (s *Server) handleAssignMember(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID, auth.PermManageMembers) {
		return
	}

	userID, ok := memberIDParam(w, r)
	if !ok {
		return
	}

	var req assignMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RoleID <= 0 {
		writeBadRequest(w, "role_id is required")
		return
	}

	if err := s.members.Assign(r.Context(), projectID, userID, req.RoleID); err != nil {
		switch {
		case errors.Is(err, auth.ErrProjectNotFound),
			errors.Is(err, auth.ErrUserNotFound),
			errors.Is(err, auth.ErrRoleNotFound):
			writeNotFound(w, err.Error())
		default:
			s.logger.Error("assign member failed", "project_id", projectID, "error", err)
			writeInternalError(w, "failed to assign member")
		}
		return
	}

	s.security.Info("project member assigned",
		"project_id", projectID,
		"user_id", userID,
		"role_id", req.RoleID,
		"by", userFromContext(r.Context()).ID,
	)
	w.WriteHeader(http.StatusNoContent)
}

// handleUnassignMember removes a user from the project.
func (s *Server) handleUnassignMember(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if !s.requireProject(w, r, projectID, auth.PermManageMembers) {
		return
	}

	userID, ok := memberIDParam(w, r)
	if !ok {
		return
	}

	if err := s.members.Unassign(r.Context(), projectID, userID); err != nil {
		if errors.Is(err, auth.ErrNotMember) {
			writeNotFound(w, "user is not a member of the project")
			return
		}
		s.logger.Error("unassign member failed", "project_id", projectID, "error", err)
		writeInternalError(w, "failed to remove member")
		return
	}

	s.security.Info("project member removed",
		"project_id", projectID,
		"user_id", userID,
		"by", userFromContext(r.Context()).ID,
	)
	w.WriteHeader(http.StatusNoContent)
}

func memberIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "user id must be a positive integer")
		return 0, false
	}
	return id, true
}
