// Package db provides database schema migration management.
package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// migrations is the ordered schema history. Append only; never edit an
// applied migration.
var migrations = []Migration{
	{
		Version:     1,
		Description: "pending operations queue",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS pending_ops (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				category TEXT NOT NULL,
				kind TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT '{}',
				status TEXT NOT NULL DEFAULT 'pending',
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				dedup_key TEXT,
				expires_at TEXT,
				next_attempt_at TEXT,
				first_attempt_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_pending_ops_status ON pending_ops(status)`,
			`CREATE INDEX IF NOT EXISTS idx_pending_ops_category_status ON pending_ops(category, status)`,
			`CREATE INDEX IF NOT EXISTS idx_pending_ops_next_attempt ON pending_ops(next_attempt_at)`,
			`CREATE INDEX IF NOT EXISTS idx_pending_ops_expires ON pending_ops(expires_at)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_ops_dedup_pending
				ON pending_ops(dedup_key) WHERE status='pending' AND dedup_key IS NOT NULL`,
		},
	},
	{
		Version:     2,
		Description: "node state for logical clock",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS node_state (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
		},
	},
	{
		Version:     3,
		Description: "offline read cache",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS read_cache (
				cache_key TEXT PRIMARY KEY,
				value_json TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
		},
	},
	{
		Version:     4,
		Description: "conflict audit log",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS conflict_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				record_ref TEXT NOT NULL,
				local_ts INTEGER NOT NULL,
				remote_ts INTEGER NOT NULL,
				local_op_id TEXT,
				remote_op_id TEXT,
				decision TEXT NOT NULL,
				detected_at INTEGER NOT NULL
			)`,
		},
	},
}

// Migrator applies pending schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Up applies all migrations newer than the current version, each in its own
// transaction.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("initialize migrations: %w", err)
	}
	current, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.apply(mig); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Description, err)
		}
	}
	return nil
}

func (m *Migrator) apply(mig Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range mig.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
		mig.Version, time.Now().Unix(), mig.Description,
	); err != nil {
		return err
	}
	return tx.Commit()
}
