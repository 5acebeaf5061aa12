package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymdesk/gymsync/internal/models"
)

func TestNilCollectorIsInert(t *testing.T) {
	var c *Collector
	c.IncEnqueued("remote_db")
	c.IncCompleted("remote_db")
	c.IncFailed("remote_db")
	c.IncDead("remote_db")
	c.SetPending("remote_db", 3)
	c.SetActionable(2)
	c.ObservePass(time.Second)
}

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.IncEnqueued("remote_db")
	c.IncEnqueued("remote_db")
	c.IncCompleted("notify_channel")
	c.SetPending("remote_db", 7)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.enqueued.WithLabelValues("remote_db")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.completed.WithLabelValues("notify_channel")))
	assert.Equal(t, float64(7), testutil.ToFloat64(c.pending.WithLabelValues("remote_db")))
}

func TestStatusEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	srv := NewServer("127.0.0.1:0", reg, func(ctx context.Context) (*models.ConnectivitySnapshot, error) {
		return &models.ConnectivitySnapshot{
			InternetOK: true,
			DBOK:       false,
			ChannelOK:  true,
			PendingOps: 4,
			Timestamp:  time.Now().UTC(),
		}, nil
	})

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.ConnectivitySnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.InternetOK)
	assert.False(t, snap.DBOK)
	assert.Equal(t, 4, snap.PendingOps)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.IncDead("remote_db")

	srv := NewServer("127.0.0.1:0", reg, func(ctx context.Context) (*models.ConnectivitySnapshot, error) {
		return &models.ConnectivitySnapshot{}, nil
	})

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gymsync_ops_dead_total")
}
