package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

// NormaliseEmail lower-cases and trims an email address. All email writes
// and lookups go through it so uniqueness is case-insensitive.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// User represents an account together with the state the authorisation
// core needs: its project assignments and its currently issued token pairs.
type User struct {
	ID         int64   `json:"id"`
	Email      *string `json:"email"` // nil once deactivated
	FirstName  string  `json:"first_name"`
	OtherNames string  `json:"other_names"`

	PasswordHash string `json:"-"` // never serialised

	// Sysadmin is loaded from storage and never changed through the API.
	Sysadmin bool `json:"sysadmin"`

	Projects   []*ProjectAssignment `json:"-"`
	TokenPairs []*TokenPair         `json:"-"`

	// RequestToken is the pair that authenticated the current request.
	// It is set by Authenticator.GetUserForToken and never persisted.
	RequestToken *TokenPair `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the account can still authenticate.
func (u *User) IsActive() bool {
	return u.Email != nil
}

// EmailAddress returns the email or "" for a deactivated account.
func (u *User) EmailAddress() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// Assignment returns the user's assignment to projectID, or nil.
func (u *User) Assignment(projectID string) *ProjectAssignment {
	for _, pa := range u.Projects {
		if pa.ProjectID == projectID {
			return pa
		}
	}
	return nil
}

// ProjectAssignment is a user's membership of one project with exactly one role.
type ProjectAssignment struct {
	ProjectID string `json:"project_id"`
	UserID    int64  `json:"user_id"`
	RoleID    int64  `json:"role_id"`

	role *Role
}

// Role resolves the assignment's role through loader. The result is cached
// on this assignment, so a request resolves each role at most once.
func (pa *ProjectAssignment) Role(ctx context.Context, loader RoleLoader) (*Role, error) {
	if pa.role != nil && pa.role.ID == pa.RoleID {
		return pa.role, nil
	}
	role, err := loader.GetRole(ctx, pa.RoleID)
	if err != nil {
		return nil, err
	}
	pa.role = role
	return role, nil
}

// Role is a named set of project permission keys.
type Role struct {
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	Permissions map[string]struct{} `json:"-"`
}

// HasPermission reports whether the role grants key.
func (r *Role) HasPermission(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Permissions[key]
	return ok
}

// RoleLoader resolves roles by ID.
type RoleLoader interface {
	GetRole(ctx context.Context, id int64) (*Role, error)
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMalformedHeader    = errors.New("malformed authorization header")
	ErrMalformedToken     = errors.New("malformed token")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRotated       = errors.New("token pair was rotated concurrently")
	ErrTokenPairNotFound  = errors.New("token pair not found")
	ErrNoRequestToken     = errors.New("no token attached to request")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrNotElevated        = errors.New("user is not elevated")
	ErrMalformedHash      = errors.New("malformed password hash")
	ErrUnknownPermission  = errors.New("unknown permission")
	ErrRoleNotFound       = errors.New("role not found")
	ErrProjectNotFound    = errors.New("project not found")
	ErrProjectExists      = errors.New("project already exists")
	ErrNotMember          = errors.New("user is not a member of the project")
)
