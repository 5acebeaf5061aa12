// Package remotedb replays deferred writes against the remote PostgreSQL
// counterpart once it is reachable again.
package remotedb

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/lib/pq"

	"github.com/gymdesk/gymsync/internal/config"
	apperrors "github.com/gymdesk/gymsync/internal/errors"
	"github.com/gymdesk/gymsync/internal/queue"
	"github.com/gymdesk/gymsync/internal/replay"
)

// KindExec identifies a deferred SQL statement replay.
const KindExec = "remote_exec"

// ExecPayload is the captured statement and its bind arguments, immutable
// from enqueue time.
type ExecPayload struct {
	Statement string        `json:"statement"`
	Args      []interface{} `json:"args,omitempty"`
}

// Replayer executes deferred statements on the remote database.
type Replayer struct {
	db *sql.DB
}

// New creates a Replayer for the remote DSN.
func New(dsn string) (*Replayer, error) {
	if dsn == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "remote dsn not configured")
	}
	remote, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "open remote database", err)
	}
	remote.SetMaxOpenConns(2)
	remote.SetConnMaxLifetime(5 * time.Minute)
	return &Replayer{db: remote}, nil
}

// NewWithDB creates a Replayer over an existing handle.
func NewWithDB(remote *sql.DB) *Replayer {
	return &Replayer{db: remote}
}

// Close releases the remote connection pool.
func (r *Replayer) Close() error {
	return r.db.Close()
}

// Kind implements replay.Handler.
func (r *Replayer) Kind() string { return KindExec }

// Execute implements replay.Handler.
func (r *Replayer) Execute(ctx context.Context, payload json.RawMessage) error {
	p, err := replay.Decode[ExecPayload](payload)
	if err != nil {
		return err
	}
	if p.Statement == "" {
		return apperrors.New(apperrors.ErrTerminalExecution, "empty statement")
	}

	if _, err := r.db.ExecContext(ctx, p.Statement, p.Args...); err != nil {
		return Classify(err)
	}
	return nil
}

// Classify maps a remote execution error onto the retry taxonomy. Failures
// the server reports as malformed SQL, bad data, or constraint violations
// will fail identically on every retry; everything else (connectivity,
// timeouts, shutdown) is transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42": // data exception, integrity violation, syntax/access
			return apperrors.Wrap(apperrors.ErrTerminalExecution, "remote rejected statement", err)
		}
	}
	return apperrors.Wrap(apperrors.ErrTransientExecution, "remote execution failed", err)
}

// Enqueue captures a remote write that could not complete synchronously.
func Enqueue(ctx context.Context, store *queue.Store, statement string, args ...interface{}) (int64, error) {
	payload, err := json.Marshal(ExecPayload{Statement: statement, Args: args})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInvalid, "marshal exec payload", err)
	}
	return store.Enqueue(ctx, config.CategoryRemoteDB, KindExec, payload, nil)
}
