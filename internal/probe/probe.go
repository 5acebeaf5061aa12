// Package probe determines whether the resources queued operations depend on
// are currently reachable: general internet egress, the remote database, and
// the outbound notification channel.
package probe

import (
	"context"
	"database/sql"
	"net"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/gymdesk/gymsync/internal/logging"
)

// Status is the result of one probe round. Absence of evidence is "not ok":
// every check defaults to false on error, timeout, or a missing collaborator.
type Status struct {
	InternetOK bool
	DBOK       bool
	ChannelOK  bool
}

// ChannelHealth is the notification channel's own readiness indicator. The
// probe treats the collaborator as opaque.
type ChannelHealth interface {
	Ready() bool
}

// Prober runs read-only reachability checks. It never returns an error and
// has no side effects beyond transient connections, which are closed before
// returning.
type Prober struct {
	internetEndpoint string
	internetTimeout  time.Duration

	remote        *sql.DB
	remoteTimeout time.Duration

	channel ChannelHealth

	// dial is swapped out by tests.
	dial func(network, address string, timeout time.Duration) (net.Conn, error)
}

// Config holds probe targets and timeouts.
type Config struct {
	InternetEndpoint string
	InternetTimeout  time.Duration
	RemoteDSN        string
	RemoteTimeout    time.Duration
}

// New creates a Prober. An empty remote DSN or nil channel simply probes
// false for that resource.
func New(cfg Config, channel ChannelHealth) (*Prober, error) {
	p := &Prober{
		internetEndpoint: cfg.InternetEndpoint,
		internetTimeout:  cfg.InternetTimeout,
		remoteTimeout:    cfg.RemoteTimeout,
		channel:          channel,
		dial:             net.DialTimeout,
	}
	if cfg.RemoteDSN != "" {
		remote, err := sql.Open("postgres", cfg.RemoteDSN)
		if err != nil {
			return nil, err
		}
		// Probe traffic only; keep the footprint on the remote minimal.
		remote.SetMaxOpenConns(1)
		remote.SetMaxIdleConns(1)
		remote.SetConnMaxLifetime(time.Minute)
		p.remote = remote
	}
	return p, nil
}

// Close releases the remote probe connection pool.
func (p *Prober) Close() error {
	if p.remote != nil {
		return p.remote.Close()
	}
	return nil
}

// Probe evaluates all three checks. The checks run independently; a failure
// or stall in one never prevents evaluating the rest.
func (p *Prober) Probe(ctx context.Context) Status {
	var st Status
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		st.InternetOK = p.checkInternet()
	}()
	go func() {
		defer wg.Done()
		st.DBOK = p.checkRemoteDB(ctx)
	}()
	go func() {
		defer wg.Done()
		st.ChannelOK = p.channel != nil && p.channel.Ready()
	}()

	wg.Wait()
	return st
}

// checkInternet dials a fixed external endpoint. The response content is
// irrelevant; only reachability matters.
func (p *Prober) checkInternet() bool {
	if p.internetEndpoint == "" {
		return false
	}
	conn, err := p.dial("tcp", p.internetEndpoint, p.internetTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// checkRemoteDB runs a trivial round-trip query against the remote database
// with a short timeout.
func (p *Prober) checkRemoteDB(ctx context.Context) bool {
	if p.remote == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, p.remoteTimeout)
	defer cancel()

	var one int
	if err := p.remote.QueryRowContext(probeCtx, "SELECT 1").Scan(&one); err != nil {
		logging.Debug("remote db probe failed", logging.Fields{"error": err.Error()})
		return false
	}
	return one == 1
}
