// Package database provides SQLite database connectivity for Tasklane Core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations through goose, embedded in the binary
//   - Transaction helpers and lifecycle management
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//   - Passwords and tokens are stored only as hashes
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files live in the top-level migrations package and carry
// "-- +goose Up" / "-- +goose Down" sections.
package database
