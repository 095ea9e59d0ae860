package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/tasklane-core/internal/infrastructure/database"
)

// RoleRepository defines the interface for role persistence.
type RoleRepository interface {
	RoleLoader
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Create(ctx context.Context, name string, keys []string) (*Role, error)
	SetPermissions(ctx context.Context, roleID int64, keys []string) error
	SyncCatalog(ctx context.Context, catalog *Catalog) error
}

// SQLiteRoleRepository implements RoleRepository using SQLite.
type SQLiteRoleRepository struct {
	db *sql.DB
}

// NewRoleRepository creates a new SQLite-backed role repository.
func NewRoleRepository(db *sql.DB) *SQLiteRoleRepository {
	return &SQLiteRoleRepository{db: db}
}

// GetRole loads a role and its permission keys.
func (r *SQLiteRoleRepository) GetRole(ctx context.Context, id int64) (*Role, error) {
	return r.loadRole(ctx, "SELECT id, name FROM roles WHERE id = ?", id)
}

// GetByName loads a role by its unique name.
func (r *SQLiteRoleRepository) GetByName(ctx context.Context, name string) (*Role, error) {
	return r.loadRole(ctx, "SELECT id, name FROM roles WHERE name = ?", name)
}

// List returns every role with its permission keys, ordered by ID.
func (r *SQLiteRoleRepository) List(ctx context.Context) ([]*Role, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM roles ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close() //nolint:errcheck,sqlclosecheck // error path
			return nil, fmt.Errorf("scanning role id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck,sqlclosecheck // error path
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	rows.Close() //nolint:errcheck,sqlclosecheck // single connection: close before the next query

	roles := make([]*Role, 0, len(ids))
	for _, id := range ids {
		role, err := r.GetRole(ctx, id)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// Create inserts a role granting keys. Every key must already be present
// in the permissions table (see SyncCatalog).
func (r *SQLiteRoleRepository) Create(ctx context.Context, name string, keys []string) (*Role, error) {
	var id int64
	err := database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "INSERT INTO roles (name) VALUES (?)", name)
		if err != nil {
			return fmt.Errorf("creating role %s: %w", name, err)
		}
		if id, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("reading role id: %w", err)
		}
		return grantKeys(ctx, tx, id, keys)
	})
	if err != nil {
		return nil, err
	}
	return &Role{ID: id, Name: name, Permissions: keySet(keys)}, nil
}

// SetPermissions replaces the keys granted by a role.
func (r *SQLiteRoleRepository) SetPermissions(ctx context.Context, roleID int64, keys []string) error {
	return database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT 1 FROM roles WHERE id = ?", roleID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRoleNotFound
			}
			return fmt.Errorf("checking role: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM role_permissions WHERE role_id = ?", roleID); err != nil {
			return fmt.Errorf("clearing role permissions: %w", err)
		}
		return grantKeys(ctx, tx, roleID, keys)
	})
}

// SyncCatalog mirrors the catalog into the permissions table so that
// role_permissions rows can reference it. Existing rows are updated in place.
func (r *SQLiteRoleRepository) SyncCatalog(ctx context.Context, catalog *Catalog) error {
	return database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, key := range catalog.Keys() {
			p := catalog.Get(key)
			_, err := tx.ExecContext(ctx,
				`INSERT INTO permissions (perm_key, scope, sysadmin, sysadmin_override)
				 VALUES (?, ?, ?, ?)
				 ON CONFLICT(perm_key) DO UPDATE SET
				   scope = excluded.scope,
				   sysadmin = excluded.sysadmin,
				   sysadmin_override = excluded.sysadmin_override`,
				p.Key, string(p.Scope), boolToInt(p.Sysadmin), boolToInt(p.SysadminOverride))
			if err != nil {
				return fmt.Errorf("syncing permission %s: %w", p.Key, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRoleRepository) loadRole(ctx context.Context, query string, arg any) (*Role, error) {
	role := &Role{Permissions: make(map[string]struct{})}
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&role.ID, &role.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("getting role: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT p.perm_key FROM permissions p
		 INNER JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = ?`, role.ID)
	if err != nil {
		return nil, fmt.Errorf("getting role permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning role permission: %w", err)
		}
		role.Permissions[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role permissions: %w", err)
	}
	return role, nil
}

func grantKeys(ctx context.Context, tx *sql.Tx, roleID int64, keys []string) error {
	for _, key := range keys {
		result, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO role_permissions (role_id, permission_id)
			 SELECT ?, id FROM permissions WHERE perm_key = ? AND scope = 'project'`,
			roleID, key)
		if err != nil {
			return fmt.Errorf("granting %s: %w", key, err)
		}
		if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
			var one int
			err := tx.QueryRowContext(ctx,
				"SELECT 1 FROM role_permissions rp INNER JOIN permissions p ON p.id = rp.permission_id WHERE rp.role_id = ? AND p.perm_key = ?",
				roleID, key).Scan(&one)
			if err != nil {
				return fmt.Errorf("%w: %q is not a project permission", ErrUnknownPermission, key)
			}
		}
	}
	return nil
}

func keySet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
