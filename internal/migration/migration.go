// Package migration applies linear, versioned schema changes to the
// embedded SQLite database, one transaction per migration.
package migration

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/go-logr/logr"
)

// Migration describes a single schema change.
type Migration struct {
	// Version is the schema version this migration produces.
	Version int
	// Description is a human-readable summary.
	Description string
	// Up applies the migration inside tx.
	Up func(tx *sql.Tx) error
}

// Runner applies ordered migrations to a database.
type Runner struct {
	storeName  string
	migrations []Migration
	log        logr.Logger
}

// NewRunner creates a Runner for storeName with the given migrations.
// Migrations are sorted by Version ascending automatically.
func NewRunner(storeName string, migrations []Migration, log logr.Logger) *Runner {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return &Runner{storeName: storeName, migrations: sorted, log: log}
}

// Migrate applies all pending up-migrations in version order.
// Each migration runs in its own transaction; on error the transaction is
// rolled back and the error is returned immediately, leaving the schema at
// the last successfully applied version.
func (r *Runner) Migrate(db *sql.DB) error {
	if err := ensureVersionTable(db); err != nil {
		return fmt.Errorf("runner[%s] ensure version table: %w", r.storeName, err)
	}

	current, err := CurrentVersion(db)
	if err != nil {
		return fmt.Errorf("runner[%s] read current version: %w", r.storeName, err)
	}

	for _, m := range r.migrations {
		if m.Version <= current {
			continue
		}
		if err := r.applyUp(db, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) applyUp(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("runner[%s] begin tx for v%d: %w", r.storeName, m.Version, err)
	}

	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("runner[%s] up v%d (%s): %w", r.storeName, m.Version, m.Description, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("runner[%s] commit v%d: %w", r.storeName, m.Version, err)
	}

	if err := SetVersion(db, m.Version); err != nil {
		return fmt.Errorf("runner[%s] set version %d: %w", r.storeName, m.Version, err)
	}

	r.log.Info("applied migration", "store", r.storeName, "version", m.Version, "description", m.Description)
	return nil
}

func ensureVersionTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		id      INTEGER PRIMARY KEY CHECK (id = 0),
		version INTEGER NOT NULL
	)`)
	return err
}

// CurrentVersion returns the schema version recorded in the database, or 0
// if no version has ever been set.
func CurrentVersion(db *sql.DB) (int, error) {
	if err := ensureVersionTable(db); err != nil {
		return 0, err
	}
	var version int
	err := db.QueryRow(`SELECT version FROM schema_version WHERE id = 0`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// SetVersion records the schema version as version.
func SetVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT INTO schema_version (id, version) VALUES (0, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version`, version)
	return err
}
