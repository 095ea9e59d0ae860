package auth

import (
	"fmt"
	"sort"
)

// Scope says where a permission applies.
type Scope string

const (
	// ScopeGeneral permissions are system-wide.
	ScopeGeneral Scope = "general"

	// ScopeProject permissions are granted through a role in one project.
	ScopeProject Scope = "project"
)

// Permission describes a named capability.
//
// Sysadmin applies to general permissions: the permission requires an
// elevated system administrator. SysadminOverride applies to project
// permissions: an elevated system administrator holds it in every project,
// member or not.
type Permission struct {
	Key              string `json:"key"`
	Scope            Scope  `json:"scope"`
	Sysadmin         bool   `json:"sysadmin,omitempty"`
	SysadminOverride bool   `json:"sysadmin_override,omitempty"`
}

// General permission keys.
const (
	PermGetOtherUserDetails = "GET_OTHER_USER_DETAILS"
	PermAddUser             = "ADD_USER"
)

// Project permission keys.
const (
	PermViewProject   = "VIEW_PROJECT"
	PermAddTasks      = "ADD_TASKS"
	PermEditTasks     = "EDIT_TASKS"
	PermDeleteTasks   = "DELETE_TASKS"
	PermLogWork       = "LOG_WORK"
	PermManageMembers = "MANAGE_MEMBERS"
	PermDeleteProject = "DELETE_PROJECT"
)

// Catalog is an immutable registry of permissions keyed by name.
// Build one at startup and pass it to whatever needs it.
type Catalog struct {
	perms map[string]Permission
	keys  []string
}

// NewCatalog builds a catalog. It panics on an empty or duplicate key or an
// unknown scope; all three are programming errors.
func NewCatalog(perms ...Permission) *Catalog {
	c := &Catalog{perms: make(map[string]Permission, len(perms))}
	for _, p := range perms {
		if p.Key == "" {
			panic("auth: permission with empty key")
		}
		if p.Scope != ScopeGeneral && p.Scope != ScopeProject {
			panic(fmt.Sprintf("auth: permission %q has unknown scope %q", p.Key, p.Scope))
		}
		if _, dup := c.perms[p.Key]; dup {
			panic(fmt.Sprintf("auth: duplicate permission %q", p.Key))
		}
		c.perms[p.Key] = p
		c.keys = append(c.keys, p.Key)
	}
	sort.Strings(c.keys)
	return c
}

// DefaultCatalog returns the permissions Tasklane ships with.
//
// Only sysadmin general permissions exist; non-admin general permissions
// are supported by the model but none are defined.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Permission{Key: PermGetOtherUserDetails, Scope: ScopeGeneral, Sysadmin: true},
		Permission{Key: PermAddUser, Scope: ScopeGeneral, Sysadmin: true},

		Permission{Key: PermViewProject, Scope: ScopeProject, SysadminOverride: true},
		Permission{Key: PermAddTasks, Scope: ScopeProject, SysadminOverride: true},
		Permission{Key: PermEditTasks, Scope: ScopeProject, SysadminOverride: true},
		Permission{Key: PermDeleteTasks, Scope: ScopeProject, SysadminOverride: true},
		Permission{Key: PermLogWork, Scope: ScopeProject},
		Permission{Key: PermManageMembers, Scope: ScopeProject, SysadminOverride: true},
		Permission{Key: PermDeleteProject, Scope: ScopeProject, SysadminOverride: true},
	)
}

// Get returns the permission registered under key.
// It panics on an unknown key so a typo can never grant or deny silently.
func (c *Catalog) Get(key string) Permission {
	p, ok := c.perms[key]
	if !ok {
		panic(fmt.Errorf("%w: %q", ErrUnknownPermission, key))
	}
	return p
}

// Lookup is Get for keys that arrive from outside the process.
func (c *Catalog) Lookup(key string) (Permission, error) {
	p, ok := c.perms[key]
	if !ok {
		return Permission{}, fmt.Errorf("%w: %q", ErrUnknownPermission, key)
	}
	return p, nil
}

// Keys returns every registered key in sorted order.
func (c *Catalog) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// InScope returns the permissions of one scope, sorted by key.
func (c *Catalog) InScope(scope Scope) []Permission {
	var out []Permission
	for _, k := range c.keys {
		if p := c.perms[k]; p.Scope == scope {
			out = append(out, p)
		}
	}
	return out
}
