// Package clock provides the logical clock used to version local writes: a
// stable per-installation node id and a monotonically increasing counter,
// both persisted in node_state so versions survive restarts.
package clock

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/gymdesk/gymsync/internal/db"
	apperrors "github.com/gymdesk/gymsync/internal/errors"
)

const (
	nodeIDKey  = "node_id"
	counterKey = "logical_ts_counter"
)

// Clock issues logical timestamps and operation ids for local writes.
type Clock struct {
	db     *db.DB
	nodeID string

	mu sync.Mutex
}

// New loads the node identity from node_state, creating it on first run.
func New(ctx context.Context, database *db.DB) (*Clock, error) {
	c := &Clock{db: database}

	var id string
	err := database.QueryRowContext(ctx,
		`SELECT value FROM node_state WHERE key = ?`, nodeIDKey).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		id = uuid.New().String()
		if _, err := database.ExecContext(ctx,
			`INSERT INTO node_state (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO NOTHING`, nodeIDKey, id); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "persist node id", err)
		}
	case err != nil:
		return nil, apperrors.Wrap(apperrors.ErrStorage, "load node id", err)
	}

	c.nodeID = id
	return c, nil
}

// NodeID returns the stable identity of this installation.
func (c *Clock) NodeID() string {
	return c.nodeID
}

// Next returns the next logical timestamp. Values strictly increase across
// calls and restarts.
func (c *Clock) Next(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "clock tick: begin", err)
	}
	defer tx.Rollback()

	current, err := readCounter(ctx, tx)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := writeCounter(ctx, tx, next); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "clock tick: commit", err)
	}
	return next, nil
}

// NextOpID returns the next operation id: node prefix plus a fixed-width
// counter, so ids from the same node compare lexicographically in issue
// order.
func (c *Clock) NextOpID(ctx context.Context) (string, error) {
	ts, err := c.Next(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%012d", c.nodeID[:8], ts), nil
}

// Observe advances the counter to at least ts. Called with timestamps seen
// on remote versions so subsequent local writes order after them.
func (c *Clock) Observe(ctx context.Context, ts int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "clock observe: begin", err)
	}
	defer tx.Rollback()

	current, err := readCounter(ctx, tx)
	if err != nil {
		return err
	}
	if ts <= current {
		return nil
	}
	if err := writeCounter(ctx, tx, ts); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "clock observe: commit", err)
	}
	return nil
}

func readCounter(ctx context.Context, tx *sql.Tx) (int64, error) {
	var raw string
	err := tx.QueryRowContext(ctx,
		`SELECT value FROM node_state WHERE key = ?`, counterKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "read clock counter", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternal, "corrupt clock counter", err)
	}
	return n, nil
}

func writeCounter(ctx context.Context, tx *sql.Tx, v int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO node_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		counterKey, strconv.FormatInt(v, 10))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "write clock counter", err)
	}
	return nil
}
