package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
// Statements run one at a time and must be valid on every supported dialect.
type Migration struct {
	Version int
	Name    string
	Up      []string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id VARCHAR(64) PRIMARY KEY,
				username VARCHAR(255) UNIQUE NOT NULL,
				email VARCHAR(255) UNIQUE NOT NULL,
				password_hash TEXT NOT NULL,
				role VARCHAR(16) NOT NULL DEFAULT 'user',
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL
			)`,
			// Written by the upstream aggregation. Created here for development databases.
			`CREATE TABLE IF NOT EXISTS incident_alerts (
				id VARCHAR(64) PRIMARY KEY,
				device_id VARCHAR(128) NOT NULL,
				window_start BIGINT NOT NULL,
				last_seen BIGINT NOT NULL,
				flame_peak DOUBLE PRECISION NOT NULL DEFAULT 0,
				flame_avg DOUBLE PRECISION NOT NULL DEFAULT 0,
				smoke_peak DOUBLE PRECISION NOT NULL DEFAULT 0,
				smoke_avg DOUBLE PRECISION NOT NULL DEFAULT 0,
				temp_peak DOUBLE PRECISION NOT NULL DEFAULT 0,
				temp_avg DOUBLE PRECISION NOT NULL DEFAULT 0,
				gas_peak DOUBLE PRECISION NOT NULL DEFAULT 0,
				gas_avg DOUBLE PRECISION NOT NULL DEFAULT 0,
				alert_level INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS verified_incidents (
				id VARCHAR(64) PRIMARY KEY,
				device_id VARCHAR(128) NOT NULL,
				event_at BIGINT NOT NULL,
				alert_level INTEGER NOT NULL,
				flame_peak DOUBLE PRECISION NOT NULL DEFAULT 0,
				smoke_peak DOUBLE PRECISION NOT NULL DEFAULT 0,
				temp_peak DOUBLE PRECISION NOT NULL DEFAULT 0,
				gas_peak DOUBLE PRECISION NOT NULL DEFAULT 0,
				notes TEXT NOT NULL DEFAULT '',
				alert_window_id VARCHAR(64),
				verified_by VARCHAR(64) NOT NULL REFERENCES users(id),
				verified_at BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS official_incidents (
				id VARCHAR(64) PRIMARY KEY,
				verified_incident_id VARCHAR(64) NOT NULL REFERENCES verified_incidents(id),
				device_id VARCHAR(128) NOT NULL,
				event_at BIGINT NOT NULL,
				alert_level INTEGER NOT NULL,
				incident_type VARCHAR(64) NOT NULL,
				establishment_type VARCHAR(128) NOT NULL DEFAULT '',
				probable_cause TEXT NOT NULL DEFAULT '',
				barangay VARCHAR(128) NOT NULL DEFAULT '',
				city VARCHAR(128) NOT NULL DEFAULT '',
				estimated_damage NUMERIC(14,2) NOT NULL DEFAULT 0,
				injuries INTEGER NOT NULL DEFAULT 0,
				fatalities INTEGER NOT NULL DEFAULT 0,
				remarks TEXT NOT NULL DEFAULT '',
				verified_by VARCHAR(64) NOT NULL REFERENCES users(id),
				verified_at BIGINT NOT NULL,
				generated_by VARCHAR(64) NOT NULL REFERENCES users(id),
				generated_at BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id VARCHAR(64) PRIMARY KEY,
				user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				body TEXT NOT NULL,
				message_type VARCHAR(16) NOT NULL DEFAULT 'text',
				created_at BIGINT NOT NULL
			)`,

			// Indexes
			`CREATE INDEX IF NOT EXISTS idx_alerts_device_start ON incident_alerts(device_id, window_start)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_level_start ON incident_alerts(alert_level, window_start)`,
			`CREATE INDEX IF NOT EXISTS idx_verified_device_event ON verified_incidents(device_id, event_at)`,
			`CREATE INDEX IF NOT EXISTS idx_verified_at ON verified_incidents(verified_at)`,
			// NULL links are distinct, so only linked verifications are unique.
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_verified_alert_window ON verified_incidents(alert_window_id)`,
			`CREATE INDEX IF NOT EXISTS idx_official_event ON official_incidents(event_at)`,
			`CREATE INDEX IF NOT EXISTS idx_official_verified ON official_incidents(verified_incident_id)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)`,
		},
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB, d dialect) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	record := d.rebind("INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)")

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		for i, stmt := range m.Up {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("execute migration %d (%s) statement %d: %w", m.Version, m.Name, i+1, err)
			}
		}

		_, err = tx.Exec(record, m.Version, m.Name, time.Now().UnixMilli())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
