package db

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// A migration is applied exactly once, in order of its version number.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create hardware",
		stmts: []string{
			`CREATE TABLE hardware (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uuid TEXT NOT NULL UNIQUE,
				project_id TEXT NOT NULL,
				name TEXT NOT NULL,
				hardware_type TEXT NOT NULL,
				properties TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				deleted_at TIMESTAMP
			)`,
			// Names stay unique among live rows only; a soft-deleted row
			// frees its name for reuse.
			`CREATE UNIQUE INDEX idx_hardware_name_live
				ON hardware(name) WHERE deleted_at IS NULL`,
			`CREATE INDEX idx_hardware_project ON hardware(project_id)`,
		},
	},
	{
		version: 2,
		name:    "create worker_task",
		stmts: []string{
			`CREATE TABLE worker_task (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uuid TEXT NOT NULL UNIQUE,
				hardware_uuid TEXT NOT NULL REFERENCES hardware(uuid),
				worker_type TEXT NOT NULL,
				state TEXT NOT NULL DEFAULT 'PENDING',
				state_details TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(hardware_uuid, worker_type)
			)`,
			`CREATE INDEX idx_worker_task_state ON worker_task(state)`,
		},
	},
	{
		version: 3,
		name:    "create availability_window",
		stmts: []string{
			`CREATE TABLE availability_window (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uuid TEXT NOT NULL UNIQUE,
				hardware_uuid TEXT NOT NULL REFERENCES hardware(uuid),
				start_time TIMESTAMP NOT NULL,
				end_time TIMESTAMP NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX idx_availability_hardware ON availability_window(hardware_uuid)`,
		},
	},
	{
		version: 4,
		name:    "create api_token",
		stmts: []string{
			`CREATE TABLE api_token (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				token_hash TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				project_id TEXT NOT NULL,
				role TEXT NOT NULL DEFAULT 'member',
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				last_used_at TIMESTAMP,
				revoked_at TIMESTAMP
			)`,
		},
	},
}

// Migrate brings the schema up to the latest version. It is safe to call on
// every startup; already-applied migrations are skipped.
func Migrate(db *sql.DB, logger *zap.Logger) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}

		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
			m.version, m.name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}

		logger.Info("applied migration",
			zap.Int("version", m.version),
			zap.String("name", m.name),
		)
	}

	return nil
}

// SchemaVersion returns the highest applied migration version, or 0 when the
// database has never been migrated.
func SchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// LatestVersion returns the newest migration version this binary knows about.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}
