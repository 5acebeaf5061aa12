package report

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymdesk/gymsync/internal/config"
	"github.com/gymdesk/gymsync/internal/db"
	"github.com/gymdesk/gymsync/internal/models"
	"github.com/gymdesk/gymsync/internal/probe"
	"github.com/gymdesk/gymsync/internal/queue"
)

type stubProbe struct {
	status probe.Status
}

func (s *stubProbe) Probe(ctx context.Context) probe.Status { return s.status }

func newReporter(t *testing.T, status probe.Status) (*Reporter, *queue.Store) {
	t.Helper()

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.NewMigrator(database.DB).Up())

	store := queue.NewStore(database, queue.StoreConfig{
		MaxAttempts: 5,
		BaseBackoff: 15 * time.Second,
		MaxBackoff:  15 * time.Minute,
	})
	return New(config.Default(), store, &stubProbe{status: status}), store
}

func TestSnapshotEmptyQueue(t *testing.T) {
	r, _ := newReporter(t, probe.Status{InternetOK: true, DBOK: true, ChannelOK: true})

	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.InternetOK)
	assert.Zero(t, snap.PendingOps)
	assert.Zero(t, snap.PendingOpsTotal)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestSnapshotCountsOnlyActionableCategories(t *testing.T) {
	// DB up, internet down: remote_db ops are actionable, channel ops are not.
	r, store := newReporter(t, probe.Status{DBOK: true})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Enqueue(ctx, config.CategoryRemoteDB, "remote_exec", json.RawMessage(`{}`), nil)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		payload, _ := json.Marshal(map[string]int{"n": i})
		_, err := store.Enqueue(ctx, config.CategoryNotifyChannel, "send_message", payload, nil)
		require.NoError(t, err)
	}

	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.PendingOps, "only the actionable category counts")
	assert.Equal(t, 5, snap.PendingOpsTotal)
	assert.Equal(t, 3, snap.PendingBreakdown[config.CategoryRemoteDB][string(models.StatusPending)])
	assert.Equal(t, 2, snap.PendingBreakdown[config.CategoryNotifyChannel][string(models.StatusPending)])
}

func TestSnapshotExcludesTerminalFromTotal(t *testing.T) {
	r, store := newReporter(t, probe.Status{InternetOK: true, DBOK: true, ChannelOK: true})
	ctx := context.Background()

	done, err := store.Enqueue(ctx, config.CategoryRemoteDB, "remote_exec", json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	require.NoError(t, store.MarkInProgress(ctx, done))
	require.NoError(t, store.MarkDone(ctx, done))

	_, err = store.Enqueue(ctx, config.CategoryRemoteDB, "remote_exec", json.RawMessage(`{"k":1}`), nil)
	require.NoError(t, err)

	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.PendingOpsTotal, "done rows are history, not backlog")
	assert.Equal(t, 1, snap.PendingOps)
}

func TestSnapshotFullyOffline(t *testing.T) {
	r, store := newReporter(t, probe.Status{})
	ctx := context.Background()

	_, err := store.Enqueue(ctx, config.CategoryRemoteDB, "remote_exec", json.RawMessage(`{}`), nil)
	require.NoError(t, err)

	snap, err := r.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.InternetOK)
	assert.False(t, snap.DBOK)
	assert.False(t, snap.ChannelOK)
	assert.Zero(t, snap.PendingOps)
	assert.Equal(t, 1, snap.PendingOpsTotal)
}
