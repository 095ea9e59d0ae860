package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Project is the minimal project record memberships hang off.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MembershipRepository defines the interface for projects and their
// role assignments.
type MembershipRepository interface {
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	Assign(ctx context.Context, projectID string, userID, roleID int64) error
	Unassign(ctx context.Context, projectID string, userID int64) error
	ListByUser(ctx context.Context, userID int64) ([]*ProjectAssignment, error)
	ListByProject(ctx context.Context, projectID string) ([]*ProjectAssignment, error)
}

// SQLiteMembershipRepository implements MembershipRepository using SQLite.
type SQLiteMembershipRepository struct {
	db *sql.DB
}

// NewMembershipRepository creates a new SQLite-backed membership repository.
func NewMembershipRepository(db *sql.DB) *SQLiteMembershipRepository {
	return &SQLiteMembershipRepository{db: db}
}

// CreateProject inserts a project. IDs are caller-chosen slugs.
func (r *SQLiteMembershipRepository) CreateProject(ctx context.Context, project *Project) error {
	if strings.TrimSpace(project.ID) == "" {
		return fmt.Errorf("creating project: id is required")
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO projects (id, name) VALUES (?, ?)", project.ID, project.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrProjectExists
		}
		return fmt.Errorf("creating project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (r *SQLiteMembershipRepository) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := r.db.QueryRowContext(ctx, "SELECT id, name FROM projects WHERE id = ?", id).Scan(&p.ID, &p.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return &p, nil
}

// Assign makes userID a member of projectID with roleID, replacing any
// existing role. A user holds exactly one role per project.
func (r *SQLiteMembershipRepository) Assign(ctx context.Context, projectID string, userID, roleID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO project_assignments (project_id, user_id, role_id) VALUES (?, ?, ?)
		 ON CONFLICT(project_id, user_id) DO UPDATE SET role_id = excluded.role_id`,
		projectID, userID, roleID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return r.missingReference(ctx, projectID, userID, roleID)
		}
		return fmt.Errorf("assigning user %d to project %s: %w", userID, projectID, err)
	}
	return nil
}

// Unassign removes userID from projectID.
func (r *SQLiteMembershipRepository) Unassign(ctx context.Context, projectID string, userID int64) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM project_assignments WHERE project_id = ? AND user_id = ?", projectID, userID)
	if err != nil {
		return fmt.Errorf("removing user %d from project %s: %w", userID, projectID, err)
	}

	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		return ErrNotMember
	}
	return nil
}

// ListByUser returns every project assignment held by userID.
func (r *SQLiteMembershipRepository) ListByUser(ctx context.Context, userID int64) ([]*ProjectAssignment, error) {
	return listAssignmentsByUser(ctx, r.db, userID)
}

// ListByProject returns every member of projectID.
func (r *SQLiteMembershipRepository) ListByProject(ctx context.Context, projectID string) ([]*ProjectAssignment, error) {
	return listAssignments(ctx, r.db,
		"SELECT project_id, user_id, role_id FROM project_assignments WHERE project_id = ? ORDER BY user_id", projectID)
}

func listAssignmentsByUser(ctx context.Context, q queryer, userID int64) ([]*ProjectAssignment, error) {
	return listAssignments(ctx, q,
		"SELECT project_id, user_id, role_id FROM project_assignments WHERE user_id = ? ORDER BY project_id", userID)
}

func listAssignments(ctx context.Context, q queryer, query string, arg any) ([]*ProjectAssignment, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("listing project assignments: %w", err)
	}
	defer rows.Close()

	out := []*ProjectAssignment{}
	for rows.Next() {
		var pa ProjectAssignment
		if err := rows.Scan(&pa.ProjectID, &pa.UserID, &pa.RoleID); err != nil {
			return nil, fmt.Errorf("scanning project assignment: %w", err)
		}
		out = append(out, &pa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating project assignments: %w", err)
	}
	return out, nil
}

// missingReference works out which side of a failed assignment is absent.
func (r *SQLiteMembershipRepository) missingReference(ctx context.Context, projectID string, userID, roleID int64) error {
	checks := []struct {
		query string
		arg   any
		err   error
	}{
		{"SELECT 1 FROM projects WHERE id = ?", projectID, ErrProjectNotFound},
		{"SELECT 1 FROM users WHERE id = ?", userID, ErrUserNotFound},
		{"SELECT 1 FROM roles WHERE id = ?", roleID, ErrRoleNotFound},
	}
	for _, c := range checks {
		var one int
		err := r.db.QueryRowContext(ctx, c.query, c.arg).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return c.err
		}
		if err != nil {
			return fmt.Errorf("checking assignment reference: %w", err)
		}
	}
	return fmt.Errorf("assigning user %d to project %s: foreign key violation", userID, projectID)
}
