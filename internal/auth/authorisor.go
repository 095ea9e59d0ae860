package auth

import (
	"context"
	"fmt"
	"time"
)

// Authorisor decides whether an authenticated user holds a permission.
//
// Decisions read the user's loaded state. The only storage access is
// resolving a project role, cached on the assignment for the rest of the
// request.
type Authorisor struct {
	catalog *Catalog
	roles   RoleLoader
	now     func() time.Time
}

// NewAuthorisor creates an Authorisor. A nil clock uses time.Now.
func NewAuthorisor(catalog *Catalog, roles RoleLoader, now func() time.Time) *Authorisor {
	if now == nil {
		now = time.Now
	}
	return &Authorisor{catalog: catalog, roles: roles, now: now}
}

// Catalog returns the permission catalog the authorisor was built with.
func (a *Authorisor) Catalog() *Catalog {
	return a.catalog
}

// HasGeneralPermission reports whether user holds a general permission.
// Only sysadmin permissions exist, and they require elevation.
// Passing a project permission panics.
func (a *Authorisor) HasGeneralPermission(user *User, perm Permission) bool {
	if perm.Scope != ScopeGeneral {
		panic(fmt.Sprintf("auth: %q is not a general permission", perm.Key))
	}
	if perm.Sysadmin {
		return IsElevated(user, a.now())
	}
	return false
}

// HasProjectPermission reports whether user holds perm in projectID.
//
// An elevated sysadmin holds every permission flagged SysadminOverride.
// Otherwise the user's role in the project decides; no assignment denies.
// Passing a general permission panics.
func (a *Authorisor) HasProjectPermission(ctx context.Context, user *User, projectID string, perm Permission) (bool, error) {
	if perm.Scope != ScopeProject {
		panic(fmt.Sprintf("auth: %q is not a project permission", perm.Key))
	}

	if perm.SysadminOverride && IsElevated(user, a.now()) {
		return true, nil
	}

	assignment := user.Assignment(projectID)
	if assignment == nil {
		return false, nil
	}

	role, err := assignment.Role(ctx, a.roles)
	if err != nil {
		return false, fmt.Errorf("resolving role for project %s: %w", projectID, err)
	}
	return role.HasPermission(perm.Key), nil
}

// Can is HasProjectPermission by key. The key must be registered.
func (a *Authorisor) Can(ctx context.Context, user *User, projectID, key string) (bool, error) {
	return a.HasProjectPermission(ctx, user, projectID, a.catalog.Get(key))
}

// ProjectPermissions lists the project permission keys user holds in
// projectID, sorted.
func (a *Authorisor) ProjectPermissions(ctx context.Context, user *User, projectID string) ([]string, error) {
	keys := []string{}
	for _, perm := range a.catalog.InScope(ScopeProject) {
		ok, err := a.HasProjectPermission(ctx, user, projectID, perm)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, perm.Key)
		}
	}
	return keys, nil
}
