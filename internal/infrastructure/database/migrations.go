package database

import (
	"context"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

// MigrationsFS holds the goose-annotated SQL files applied by Migrate.
// The migrations package registers its embedded files here from init.
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS containing migration files.
var MigrationsDir = "."

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Migrate applies all pending migrations from MigrationsFS.
func (db *DB) Migrate(ctx context.Context) error {
	if MigrationsFS == nil {
		return fmt.Errorf("no migrations registered")
	}
	return db.MigrateFS(ctx, MigrationsFS, MigrationsDir)
}

// MigrateFS applies all pending migrations found in dir of fsys.
//
// goose records applied versions in goose_db_version; each migration runs in
// its own transaction, so a failure leaves earlier migrations committed and
// a later call resumes from the failed one.
func (db *DB) MigrateFS(ctx context.Context, fsys fs.FS, dir string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := configureGoose(fsys); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB, dir); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration in dir of fsys.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS, dir string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := configureGoose(fsys); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db.DB, dir); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version, or 0 for an
// empty database.
func (db *DB) SchemaVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("setting migration dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db.DB)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

func configureGoose(fsys fs.FS) error {
	goose.SetBaseFS(fsys)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	return nil
}
