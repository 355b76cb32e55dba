package store

import (
	"database/sql"
	"fmt"
)

// migration is one versioned schema step. Migrations ship in the binary
// and are recorded in schema_migrations, so the schema converges on any
// database file the store is pointed at.
type migration struct {
	Version     string
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     "001",
		Description: "events table",
		SQL: `
			CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_events_user_time ON events(user_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
		`,
	},
	{
		Version:     "002",
		Description: "alerts table",
		SQL: `
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				alert_type TEXT NOT NULL,
				message TEXT NOT NULL,
				user_id TEXT NOT NULL,
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(created_at DESC);
		`,
	},
	{
		Version:     "003",
		Description: "user directory",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				role TEXT NOT NULL CHECK (role IN ('learner', 'tutor'))
			);
		`,
	},
}

// applyMigrations brings the schema up to date. Each pending migration
// runs in its own transaction together with its version record.
func applyMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("failed to apply migration %s (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func appliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
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

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return err
	}
	return tx.Commit()
}
