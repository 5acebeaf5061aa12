// Package metrics exposes drain and queue health as Prometheus series plus a
// small JSON status endpoint for local tooling.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gymdesk/gymsync/internal/logging"
	"github.com/gymdesk/gymsync/internal/models"
)

// Collector holds the sync core metric series. A nil Collector is valid and
// records nothing, so callers never branch on whether metrics are enabled.
type Collector struct {
	enqueued     *prometheus.CounterVec
	completed    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	dead         *prometheus.CounterVec
	pending      *prometheus.GaugeVec
	actionable   prometheus.Gauge
	passDuration prometheus.Histogram
}

// NewCollector creates and registers the metric series.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gymsync",
			Name:      "ops_enqueued_total",
			Help:      "Operations accepted into the pending queue.",
		}, []string{"category"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gymsync",
			Name:      "ops_completed_total",
			Help:      "Operations replayed successfully.",
		}, []string{"category"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gymsync",
			Name:      "ops_failed_total",
			Help:      "Attempts that failed and were scheduled for retry.",
		}, []string{"category"}),
		dead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gymsync",
			Name:      "ops_dead_total",
			Help:      "Operations escalated to dead after exhausting retries.",
		}, []string{"category"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gymsync",
			Name:      "ops_pending",
			Help:      "Operations currently waiting in the queue.",
		}, []string{"category"}),
		actionable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gymsync",
			Name:      "ops_actionable",
			Help:      "Pending operations whose connectivity requirements hold.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gymsync",
			Name:      "drain_pass_duration_seconds",
			Help:      "Wall time of one drain pass.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	reg.MustRegister(c.enqueued, c.completed, c.failed, c.dead,
		c.pending, c.actionable, c.passDuration)
	return c
}

// IncEnqueued records an accepted operation.
func (c *Collector) IncEnqueued(category string) {
	if c == nil {
		return
	}
	c.enqueued.WithLabelValues(category).Inc()
}

// IncCompleted records a successful replay.
func (c *Collector) IncCompleted(category string) {
	if c == nil {
		return
	}
	c.completed.WithLabelValues(category).Inc()
}

// IncFailed records an attempt that will be retried.
func (c *Collector) IncFailed(category string) {
	if c == nil {
		return
	}
	c.failed.WithLabelValues(category).Inc()
}

// IncDead records an operation escalated to dead.
func (c *Collector) IncDead(category string) {
	if c == nil {
		return
	}
	c.dead.WithLabelValues(category).Inc()
}

// SetPending updates the per-category pending gauge.
func (c *Collector) SetPending(category string, n int) {
	if c == nil {
		return
	}
	c.pending.WithLabelValues(category).Set(float64(n))
}

// SetActionable updates the actionable-operations gauge.
func (c *Collector) SetActionable(n int) {
	if c == nil {
		return
	}
	c.actionable.Set(float64(n))
}

// ObservePass records one drain pass duration.
func (c *Collector) ObservePass(d time.Duration) {
	if c == nil {
		return
	}
	c.passDuration.Observe(d.Seconds())
}

// SnapshotFunc produces the current connectivity and queue snapshot.
type SnapshotFunc func(ctx context.Context) (*models.ConnectivitySnapshot, error)

// Server serves /metrics and /status over HTTP.
type Server struct {
	srv *http.Server
}

// NewServer builds the metrics HTTP server. gatherer is the registry the
// Collector was registered with; snapshot backs the /status endpoint.
func NewServer(addr string, gatherer prometheus.Gatherer, snapshot SnapshotFunc) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snap, err := snapshot(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})

	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("metrics server stopped", err, logging.Fields{"addr": s.srv.Addr})
		}
	}()
	logging.Info("metrics server listening", logging.Fields{"addr": s.srv.Addr})
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
