package auth

import (
	"errors"
	"slices"
	"testing"
)

func TestDefaultCatalog_GeneralPermissions(t *testing.T) {
	c := DefaultCatalog()

	for _, key := range []string{PermGetOtherUserDetails, PermAddUser} {
		p := c.Get(key)
		if p.Scope != ScopeGeneral {
			t.Errorf("%s scope = %q, want general", key, p.Scope)
		}
		if !p.Sysadmin {
			t.Errorf("%s should require sysadmin", key)
		}
	}
}

func TestDefaultCatalog_ProjectOverrides(t *testing.T) {
	c := DefaultCatalog()

	for _, p := range c.InScope(ScopeProject) {
		want := p.Key != PermLogWork
		if p.SysadminOverride != want {
			t.Errorf("%s SysadminOverride = %v, want %v", p.Key, p.SysadminOverride, want)
		}
	}
}

func TestCatalog_GetUnknownPanics(t *testing.T) {
	c := DefaultCatalog()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Get() on an unknown key should panic")
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrUnknownPermission) {
			t.Errorf("panic value = %v, want ErrUnknownPermission", r)
		}
	}()

	c.Get("ADD_TAKS")
}

func TestCatalog_Lookup(t *testing.T) {
	c := DefaultCatalog()

	if _, err := c.Lookup(PermAddTasks); err != nil {
		t.Errorf("Lookup(%s) error = %v", PermAddTasks, err)
	}
	if _, err := c.Lookup("NOPE"); !errors.Is(err, ErrUnknownPermission) {
		t.Errorf("Lookup(NOPE) error = %v, want ErrUnknownPermission", err)
	}
}

func TestNewCatalog_RejectsBadEntries(t *testing.T) {
	tests := []struct {
		name  string
		perms []Permission
	}{
		{"duplicate", []Permission{{Key: "A", Scope: ScopeGeneral}, {Key: "A", Scope: ScopeProject}}},
		{"empty key", []Permission{{Key: "", Scope: ScopeGeneral}}},
		{"unknown scope", []Permission{{Key: "A", Scope: "galaxy"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("NewCatalog() should panic")
				}
			}()
			NewCatalog(tt.perms...)
		})
	}
}

func TestCatalog_KeysSortedAndCopied(t *testing.T) {
	c := NewCatalog(
		Permission{Key: "B", Scope: ScopeProject},
		Permission{Key: "A", Scope: ScopeGeneral},
	)

	keys := c.Keys()
	if !slices.Equal(keys, []string{"A", "B"}) {
		t.Errorf("Keys() = %v, want [A B]", keys)
	}

	keys[0] = "Z"
	if c.Keys()[0] != "A" {
		t.Error("Keys() must return a copy")
	}
}
