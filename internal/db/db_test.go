package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestOpenAppliesPragmas(t *testing.T) {
	database := openTestDB(t)

	var mode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, database.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestMigrateUpFromEmpty(t *testing.T) {
	database := openTestDB(t)

	m := NewMigrator(database.DB)
	require.NoError(t, m.Up())

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, version)

	for _, table := range []string{"pending_ops", "node_state", "read_cache", "conflict_log"} {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	database := openTestDB(t)

	m := NewMigrator(database.DB)
	require.NoError(t, m.Up())
	require.NoError(t, m.Up())

	var count int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestDedupIndexRejectsDuplicatePending(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, NewMigrator(database.DB).Up())

	insert := `INSERT INTO pending_ops (category, kind, payload, dedup_key, created_at, updated_at)
		VALUES ('notify_channel', 'send_message', '{}', 'k1', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`
	_, err := database.Exec(insert)
	require.NoError(t, err)

	_, err = database.Exec(insert)
	assert.Error(t, err, "second pending row with the same dedup key must be rejected")

	// A done row with the same key does not collide.
	_, err = database.Exec(`UPDATE pending_ops SET status='done'`)
	require.NoError(t, err)
	_, err = database.Exec(insert)
	assert.NoError(t, err)
}
