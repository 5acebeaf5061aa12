package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymdesk/gymsync/internal/db"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.NewMigrator(database.DB).Up())
	return NewJournal(database)
}

func TestJournalAppendAndRecent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	r := NewResolver(TieBreakerWebapp)
	for i := int64(1); i <= 3; i++ {
		_, entry := r.Resolve("usuarios:7",
			Version{LogicalTS: i, OpID: "aaaa0000-000000000001"},
			Version{LogicalTS: i, OpID: "bbbb0000-000000000001"})
		require.NoError(t, j.Append(ctx, entry))
		assert.NotZero(t, entry.ID)
	}

	entries, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Greater(t, entries[0].ID, entries[1].ID, "newest first")
	assert.Equal(t, string(DecisionRemote), entries[0].Decision)
	assert.Equal(t, "usuarios:7", entries[0].RecordRef)
}

func TestJournalRecentEmpty(t *testing.T) {
	j := newTestJournal(t)

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
