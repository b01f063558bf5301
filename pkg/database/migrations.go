package database

import (
	"database/sql"
	"fmt"
)

// Migration represents one schema migration step.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrations is the ordered, compiled-in migration list. The schema ships
// with the binary; there is no external migrations directory to deploy.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "initial schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS sessions (
				id INTEGER PRIMARY KEY,
				code TEXT NOT NULL,
				start_time DATETIME NOT NULL,
				end_time DATETIME,
				status TEXT NOT NULL DEFAULT 'active'
					CHECK (status IN ('active', 'ended'))
			);

			CREATE TABLE IF NOT EXISTS session_devices (
				session_id INTEGER NOT NULL REFERENCES sessions(id),
				device_id INTEGER NOT NULL,
				name TEXT NOT NULL,
				joined_at DATETIME NOT NULL,
				left_at DATETIME,
				PRIMARY KEY (session_id, device_id)
			);

			CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
			CREATE INDEX IF NOT EXISTS idx_sessions_code ON sessions(code);
			CREATE INDEX IF NOT EXISTS idx_session_devices_session
				ON session_devices(session_id);
		`,
	},
}

// MigrationManager applies pending migrations and tracks schema version
// state across restarts.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// ApplyMigrations applies all pending migrations in order. Each migration
// runs in its own transaction together with its version bookkeeping row.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.appliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s (%s): %w",
				migration.Version, migration.Description, err)
		}
	}

	return nil
}

// createMigrationTable creates the migration tracking table.
func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// appliedMigrations returns the set of already applied migration versions.
func (m *MigrationManager) appliedMigrations() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// applyMigration applies a single migration within a transaction.
func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)",
		migration.Version); err != nil {
		return err
	}

	return tx.Commit()
}
