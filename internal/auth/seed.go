package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for the seed sysadmin password.
const seedPasswordBytes = 16

// DefaultSysadminEmail is used when no bootstrap email is configured.
const DefaultSysadminEmail = "admin@tasklane.local"

// RoleTemplate describes a role created on first boot.
type RoleTemplate struct {
	Name string
	Keys []string
}

// DefaultRoles returns the roles seeded into an empty database.
func DefaultRoles() []RoleTemplate {
	return []RoleTemplate{
		{Name: "Owner", Keys: []string{
			PermViewProject, PermAddTasks, PermEditTasks, PermDeleteTasks,
			PermLogWork, PermManageMembers, PermDeleteProject,
		}},
		{Name: "Member", Keys: []string{PermViewProject, PermAddTasks, PermEditTasks, PermLogWork}},
		{Name: "Viewer", Keys: []string{PermViewProject}},
	}
}

// SeedSysadmin creates the initial system administrator on first boot if
// no users exist and returns the generated password, which the caller must
// show to the operator once. It is never logged. An empty string means
// seeding was skipped.
func SeedSysadmin(ctx context.Context, users UserRepository, hasher *PasswordHasher, email string, logger *slog.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}

	if count > 0 {
		logger.Info("users exist, skipping sysadmin seed")
		return "", nil
	}

	if email == "" {
		email = DefaultSysadminEmail
	}

	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	hash, err := hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Email:        &email,
		FirstName:    "System",
		OtherNames:   "Administrator",
		PasswordHash: hash,
		Sysadmin:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed sysadmin: %w", err)
	}

	logger.Warn("seed sysadmin account created",
		"email", admin.EmailAddress(),
		"action_required", "change the generated password immediately",
	)

	return password, nil
}

// SeedRoles mirrors catalog into storage and creates any missing default role.
// Existing roles are left alone so operators can edit them.
func SeedRoles(ctx context.Context, roles RoleRepository, catalog *Catalog, logger *slog.Logger) error {
	if err := roles.SyncCatalog(ctx, catalog); err != nil {
		return err
	}

	for _, tmpl := range DefaultRoles() {
		_, err := roles.GetByName(ctx, tmpl.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRoleNotFound) {
			return fmt.Errorf("checking role %s: %w", tmpl.Name, err)
		}
		for _, k := range tmpl.Keys {
			catalog.Get(k)
		}
		if _, err := roles.Create(ctx, tmpl.Name, tmpl.Keys); err != nil {
			return fmt.Errorf("seeding role %s: %w", tmpl.Name, err)
		}
		logger.Info("seeded role", "role", tmpl.Name)
	}
	return nil
}
