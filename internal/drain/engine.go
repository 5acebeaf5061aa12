// Package drain runs the background loop that replays queued operations once
// their connectivity requirements hold. Passes never overlap: a slow replay
// delays the next tick instead of stacking a second pass on top of it.
package drain

import (
	"context"
	"sync"
	"time"

	"github.com/gymdesk/gymsync/internal/config"
	apperrors "github.com/gymdesk/gymsync/internal/errors"
	"github.com/gymdesk/gymsync/internal/logging"
	"github.com/gymdesk/gymsync/internal/metrics"
	"github.com/gymdesk/gymsync/internal/models"
	"github.com/gymdesk/gymsync/internal/probe"
	"github.com/gymdesk/gymsync/internal/queue"
	"github.com/gymdesk/gymsync/internal/replay"
)

// PassResult summarizes one drain pass.
type PassResult struct {
	Requeued  int64
	Purged    int64
	Listed    int
	Completed int
	Failed    int
	Dead      int
	Skipped   int
}

// ConnectivityProbe reports resource reachability. Satisfied by
// *probe.Prober.
type ConnectivityProbe interface {
	Probe(ctx context.Context) probe.Status
}

// Engine drains the pending queue on a fixed interval.
type Engine struct {
	cfg       *config.Config
	store     *queue.Store
	prober    ConnectivityProbe
	registry  *replay.Registry
	collector *metrics.Collector

	mu      sync.Mutex
	running bool

	startMu sync.Mutex
	started bool
	stopCh  chan struct{}
	trigger chan struct{}
	wg      sync.WaitGroup
}

// New creates a drain engine. collector may be nil.
func New(cfg *config.Config, store *queue.Store, prober ConnectivityProbe,
	registry *replay.Registry, collector *metrics.Collector) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		prober:    prober,
		registry:  registry,
		collector: collector,
		trigger:   make(chan struct{}, 1),
	}
}

// Start launches the periodic loop. It is a no-op if already started.
func (e *Engine) Start(ctx context.Context) {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.stopCh = make(chan struct{})

	e.wg.Add(1)
	go e.loop(ctx)
	logging.Info("drain engine started", logging.Fields{
		"interval": e.cfg.Drain.Interval().String(),
		"batch":    e.cfg.Drain.BatchSize,
	})
}

// Stop halts the loop and waits for any in-flight pass to finish.
func (e *Engine) Stop() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if !e.started {
		return
	}
	close(e.stopCh)
	e.wg.Wait()
	e.started = false
	logging.Info("drain engine stopped", nil)
}

// TriggerNow requests an immediate pass without waiting for the next tick.
// Signals arriving while a pass is queued collapse into one.
func (e *Engine) TriggerNow() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.Drain.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.trigger:
		}

		if _, err := e.RunPass(ctx); err != nil {
			logging.Error("drain pass failed", err, nil)
		}
	}
}

// RunPass executes one drain pass. If a pass is already running it returns
// immediately with an empty result. A storage failure aborts the pass; any
// claimed operation is left in_progress for the stale requeue to recover.
func (e *Engine) RunPass(ctx context.Context) (PassResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		logging.Debug("drain pass already running, skipping", nil)
		return PassResult{}, nil
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	started := time.Now()
	defer func() { e.collector.ObservePass(time.Since(started)) }()

	var res PassResult
	var err error

	// Housekeeping first so recovered and expired rows are reflected in
	// this pass, not the next one.
	if res.Requeued, err = e.store.RequeueStale(ctx, e.cfg.Drain.StaleAfter()); err != nil {
		return res, err
	}
	if res.Requeued > 0 {
		logging.Warn("requeued abandoned operations", logging.Fields{"count": res.Requeued})
	}
	if res.Purged, err = e.store.PurgeExpired(ctx); err != nil {
		return res, err
	}
	if res.Purged > 0 {
		logging.Info("purged expired operations", logging.Fields{"count": res.Purged})
	}

	status := e.prober.Probe(ctx)
	actionable := e.actionableCategories(status)
	e.updateGauges(ctx, actionable)

	if len(actionable) == 0 {
		logging.Debug("no category actionable, queue untouched", logging.Fields{
			"internet_ok": status.InternetOK,
			"db_ok":       status.DBOK,
			"channel_ok":  status.ChannelOK,
		})
		return res, nil
	}

	ops, err := e.store.ListPending(ctx, e.cfg.Drain.BatchSize, actionable...)
	if err != nil {
		return res, err
	}
	res.Listed = len(ops)

	taken := make(map[string]int)
	for _, op := range ops {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		if quota := e.cfg.Drain.Quotas[op.Category]; quota > 0 && taken[op.Category] >= quota {
			res.Skipped++
			continue
		}
		taken[op.Category]++

		if err := e.processOne(ctx, op, &res); err != nil {
			return res, err
		}
	}

	if res.Listed > 0 {
		logging.Info("drain pass complete", logging.Fields{
			"listed":    res.Listed,
			"completed": res.Completed,
			"failed":    res.Failed,
			"dead":      res.Dead,
			"skipped":   res.Skipped,
			"elapsed":   time.Since(started).String(),
		})
	}
	return res, nil
}

// processOne claims, executes, and settles a single operation. Only storage
// errors propagate; execution failures are recorded on the row.
func (e *Engine) processOne(ctx context.Context, op models.PendingOperation, res *PassResult) error {
	if err := e.store.MarkInProgress(ctx, op.ID); err != nil {
		if apperrors.IsStorage(err) {
			return err
		}
		// Claimed or settled since listing.
		res.Skipped++
		return nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Drain.AttemptTimeout())
	execErr := e.registry.Execute(attemptCtx, op.Kind, op.Payload)
	cancel()

	if execErr == nil {
		if err := e.store.MarkDone(ctx, op.ID); err != nil {
			return err
		}
		res.Completed++
		e.collector.IncCompleted(op.Category)
		return nil
	}

	if attemptCtx.Err() == context.DeadlineExceeded {
		execErr = apperrors.Wrap(apperrors.ErrAttemptTimeout, "attempt timed out", execErr)
	}

	if err := e.store.MarkFailed(ctx, op.ID, execErr); err != nil {
		return err
	}

	settled, err := e.store.Get(ctx, op.ID)
	if err != nil {
		return err
	}
	if settled.Status == models.StatusDead {
		res.Dead++
		e.collector.IncDead(op.Category)
		logging.Error("operation escalated to dead", execErr, logging.Fields{
			"op_id":    op.ID,
			"category": op.Category,
			"kind":     op.Kind,
			"attempts": settled.Attempts,
		})
	} else {
		res.Failed++
		e.collector.IncFailed(op.Category)
		logging.Warn("operation attempt failed, will retry", logging.Fields{
			"op_id":    op.ID,
			"category": op.Category,
			"kind":     op.Kind,
			"attempts": settled.Attempts,
			"error":    execErr.Error(),
		})
	}
	return nil
}

// actionableCategories returns the categories whose every connectivity
// requirement currently holds.
func (e *Engine) actionableCategories(status probe.Status) []string {
	var cats []string
	for cat, reqs := range e.cfg.Categories {
		if satisfies(status, reqs) {
			cats = append(cats, cat)
		}
	}
	return cats
}

func satisfies(status probe.Status, reqs []string) bool {
	for _, r := range reqs {
		switch r {
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

// updateGauges refreshes pending and actionable gauges from queue counts.
// Gauge staleness is tolerable, so count failures are only logged.
func (e *Engine) updateGauges(ctx context.Context, actionable []string) {
	if e.collector == nil {
		return
	}
	counts, err := e.store.Counts(ctx)
	if err != nil {
		logging.Warn("queue counts unavailable for gauges", logging.Fields{"error": err.Error()})
		return
	}

	actionableSet := make(map[string]bool, len(actionable))
	for _, c := range actionable {
		actionableSet[c] = true
	}

	actionableTotal := 0
	for cat, byStatus := range counts {
		pending := byStatus[string(models.StatusPending)]
		e.collector.SetPending(cat, pending)
		if actionableSet[cat] {
			actionableTotal += pending
		}
	}
	e.collector.SetActionable(actionableTotal)
}
