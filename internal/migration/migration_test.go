package migration

import (
	"database/sql"
	"testing"

	"github.com/go-logr/logr"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateAppliesInOrder(t *testing.T) {
	db := openTestDB(t)

	var applied []int
	migrations := []Migration{
		{Version: 2, Description: "second", Up: func(tx *sql.Tx) error {
			applied = append(applied, 2)
			return nil
		}},
		{Version: 1, Description: "first", Up: func(tx *sql.Tx) error {
			applied = append(applied, 1)
			return nil
		}},
	}

	r := NewRunner("test", migrations, logr.Discard())
	if err := r.Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if len(applied) != 2 || applied[0] != 1 || applied[1] != 2 {
		t.Fatalf("expected migrations applied in order [1 2], got %v", applied)
	}

	version, err := CurrentVersion(db)
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected version 2, got %d", version)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	calls := 0
	migrations := []Migration{
		{Version: 1, Description: "once", Up: func(tx *sql.Tx) error {
			calls++
			return nil
		}},
	}
	r := NewRunner("test", migrations, logr.Discard())
	if err := r.Migrate(db); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	if err := r.Migrate(db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected migration to apply exactly once, got %d", calls)
	}
}

func TestMigrateStopsOnError(t *testing.T) {
	db := openTestDB(t)
	migrations := []Migration{
		{Version: 1, Description: "ok", Up: func(tx *sql.Tx) error { return nil }},
		{Version: 2, Description: "fails", Up: func(tx *sql.Tx) error {
			return sql.ErrConnDone
		}},
		{Version: 3, Description: "never reached", Up: func(tx *sql.Tx) error {
			t.Fatal("migration 3 should not run after migration 2 fails")
			return nil
		}},
	}
	r := NewRunner("test", migrations, logr.Discard())
	if err := r.Migrate(db); err == nil {
		t.Fatal("expected error from failing migration")
	}

	version, err := CurrentVersion(db)
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected version to remain at 1 after failed migration, got %d", version)
	}
}
