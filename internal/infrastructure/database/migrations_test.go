package database

import (
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"00001_widgets.sql": {Data: []byte(`-- +goose Up
CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL);

-- +goose Down
DROP TABLE widgets;
`)},
		"00002_gadgets.sql": {Data: []byte(`-- +goose Up
CREATE TABLE gadgets (id INTEGER PRIMARY KEY, widget_id INTEGER REFERENCES widgets(id));

-- +goose Down
DROP TABLE gadgets;
`)},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()

	var count int
	err := db.QueryRowContext(t.Context(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrateFS(t *testing.T) {
	db := openTestDB(t)
	ctx := t.Context()

	if err := db.MigrateFS(ctx, testMigrations(), "."); err != nil {
		t.Fatalf("MigrateFS() error = %v", err)
	}

	for _, table := range []string{"widgets", "gadgets"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s was not created", table)
		}
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != 2 {
		t.Errorf("SchemaVersion() = %d, want 2", version)
	}

	// Re-running is a no-op.
	if err := db.MigrateFS(ctx, testMigrations(), "."); err != nil {
		t.Fatalf("second MigrateFS() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := t.Context()

	if err := db.MigrateFS(ctx, testMigrations(), "."); err != nil {
		t.Fatalf("MigrateFS() error = %v", err)
	}
	if err := db.MigrateDown(ctx, testMigrations(), "."); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "gadgets") {
		t.Error("gadgets should have been dropped")
	}
	if !tableExists(t, db, "widgets") {
		t.Error("widgets should remain")
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)

	saved := MigrationsFS
	MigrationsFS = nil
	t.Cleanup(func() { MigrationsFS = saved })

	if err := db.Migrate(t.Context()); err == nil {
		t.Error("Migrate() expected error with no registered migrations")
	}
}
