// Package report assembles the connectivity and queue snapshot shown to
// operators and surfaced over the status endpoint.
package report

import (
	"context"
	"time"

	"github.com/gymdesk/gymsync/internal/config"
	"github.com/gymdesk/gymsync/internal/models"
	"github.com/gymdesk/gymsync/internal/probe"
	"github.com/gymdesk/gymsync/internal/queue"
)

// ConnectivityProbe reports resource reachability. Satisfied by
// *probe.Prober.
type ConnectivityProbe interface {
	Probe(ctx context.Context) probe.Status
}

// Reporter builds point-in-time snapshots of connectivity and queue depth.
type Reporter struct {
	cfg    *config.Config
	store  *queue.Store
	prober ConnectivityProbe
	now    func() time.Time
}

// New creates a Reporter.
func New(cfg *config.Config, store *queue.Store, prober ConnectivityProbe) *Reporter {
	return &Reporter{cfg: cfg, store: store, prober: prober, now: time.Now}
}

// Snapshot probes connectivity and counts the queue. PendingOps counts only
// pending operations whose category is currently actionable; PendingOpsTotal
// counts everything not yet done or dead.
func (r *Reporter) Snapshot(ctx context.Context) (*models.ConnectivitySnapshot, error) {
	status := r.prober.Probe(ctx)

	counts, err := r.store.Counts(ctx)
	if err != nil {
		return nil, err
	}

	snap := &models.ConnectivitySnapshot{
		InternetOK:       status.InternetOK,
		DBOK:             status.DBOK,
		ChannelOK:        status.ChannelOK,
		PendingBreakdown: counts,
		Timestamp:        r.now().UTC(),
	}

	for cat, byStatus := range counts {
		for st, n := range byStatus {
			if !models.Status(st).Terminal() {
				snap.PendingOpsTotal += n
			}
		}
		if r.actionable(status, cat) {
			snap.PendingOps += byStatus[string(models.StatusPending)]
		}
	}
	return snap, nil
}

func (r *Reporter) actionable(status probe.Status, category string) bool {
	reqs, ok := r.cfg.Categories[category]
	if !ok {
		return false
	}
	for _, req := range reqs {
		switch req {
		case config.RequireInternet:
			if !status.InternetOK {
				return false
			}
		case config.RequireDB:
			if !status.DBOK {
				return false
			}
		case config.RequireChannel:
			if !status.ChannelOK {
				return false
			}
		default:
			return false
		}
	}
	return true
}
