// Package queue provides the durable pending-operation store. It is the
// single source of truth for queue state: application code appends rows when
// a side-effecting call cannot complete synchronously, and the drain engine
// is the only writer of status transitions.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gymdesk/gymsync/internal/db"
	apperrors "github.com/gymdesk/gymsync/internal/errors"
	"github.com/gymdesk/gymsync/internal/models"
)

// timeLayout is fixed-width UTC so stored timestamps compare correctly as
// strings in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// StoreConfig controls retry escalation and enqueue-side dedup.
type StoreConfig struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	DedupEnabled bool
}

// Store is the SQLite-backed operation store.
type Store struct {
	db  *db.DB
	cfg StoreConfig

	// now is swapped out by tests.
	now func() time.Time
}

// NewStore creates a Store over an opened local database.
func NewStore(database *db.DB, cfg StoreConfig) *Store {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Store{
		db:  database,
		cfg: cfg,
		now: time.Now,
	}
}

// EnqueueOptions carries optional enqueue behavior.
type EnqueueOptions struct {
	// DedupKey collapses duplicate pending work: when set and a pending row
	// with the same key exists, Enqueue returns that row's id instead of
	// inserting.
	DedupKey string

	// TTL expires the operation if it is still pending after the duration.
	TTL time.Duration
}

// Enqueue durably appends an operation and returns its id. Enqueue failure is
// fatal (StorageError): it cannot itself be queued, callers must handle it
// synchronously.
func (s *Store) Enqueue(ctx context.Context, category, kind string, payload json.RawMessage, opts *EnqueueOptions) (int64, error) {
	if category == "" || kind == "" {
		return 0, apperrors.New(apperrors.ErrInvalid, "enqueue requires category and kind")
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	now := s.now().UTC()
	var dedupKey sql.NullString
	var expiresAt sql.NullString
	if opts != nil {
		if opts.DedupKey != "" && s.cfg.DedupEnabled {
			dedupKey = sql.NullString{String: opts.DedupKey, Valid: true}
		}
		if opts.TTL > 0 {
			expiresAt = sql.NullString{String: now.Add(opts.TTL).Format(timeLayout), Valid: true}
		}
	}

	if dedupKey.Valid {
		var existing int64
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM pending_ops WHERE status=? AND dedup_key=? ORDER BY id ASC LIMIT 1`,
			models.StatusPending, dedupKey.String,
		).Scan(&existing)
		switch {
		case err == nil:
			return existing, nil
		case err != sql.ErrNoRows:
			return 0, apperrors.Wrap(apperrors.ErrStorage, "dedup lookup failed", err)
		}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_ops (category, kind, payload, status, dedup_key, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		category, kind, string(payload), models.StatusPending,
		dedupKey, expiresAt, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "enqueue insert failed", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "enqueue id unavailable", err)
	}
	return id, nil
}

// ListPending returns pending operations whose backoff schedule is due,
// oldest id first, optionally filtered by category. A limit <= 0 means no
// limit.
func (s *Store) ListPending(ctx context.Context, limit int, categories ...string) ([]models.PendingOperation, error) {
	now := s.now().UTC().Format(timeLayout)

	query := `SELECT id, category, kind, payload, status, attempts, last_error, dedup_key,
		expires_at, next_attempt_at, first_attempt_at, completed_at, created_at, updated_at
		FROM pending_ops
		WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)`
	args := []interface{}{models.StatusPending, now}

	if len(categories) > 0 {
		query += ` AND category IN (?` + strings.Repeat(",?", len(categories)-1) + `)`
		for _, c := range categories {
			args = append(args, c)
		}
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "list pending failed", err)
	}
	defer rows.Close()

	var ops []models.PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "scan pending row failed", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "iterate pending rows failed", err)
	}
	return ops, nil
}

// Get returns a single operation by id.
func (s *Store) Get(ctx context.Context, id int64) (*models.PendingOperation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, category, kind, payload, status, attempts, last_error, dedup_key,
			expires_at, next_attempt_at, first_attempt_at, completed_at, created_at, updated_at
		 FROM pending_ops WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %d not found", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "get operation failed", err)
	}
	return &op, nil
}

// MarkInProgress claims a pending operation for execution, incrementing its
// attempt count. At most one drain pass holds a row in_progress at a time:
// the transition only succeeds from pending.
func (s *Store) MarkInProgress(ctx context.Context, id int64) error {
	now := s.now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_ops
		 SET status = ?, attempts = attempts + 1,
		     first_attempt_at = COALESCE(first_attempt_at, ?), updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.StatusInProgress, now, now, id, models.StatusPending,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "mark in_progress failed", err)
	}
	return requireOneRow(res, id, "in_progress")
}

// MarkDone completes an operation. Done rows are never mutated again.
func (s *Store) MarkDone(ctx context.Context, id int64) error {
	now := s.now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_ops
		 SET status = ?, last_error = NULL, next_attempt_at = NULL,
		     completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.StatusDone, now, now, id, models.StatusInProgress,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "mark done failed", err)
	}
	return requireOneRow(res, id, "done")
}

// MarkFailed records a failed attempt. Transient failures demote the row back
// to pending with an exponential-backoff schedule; reaching the attempts
// ceiling, or a terminal execution error, escalates to dead. Dead rows keep
// last_error populated for manual inspection and are excluded from further
// draining.
func (s *Store) MarkFailed(ctx context.Context, id int64, execErr error) error {
	nowT := s.now().UTC()
	now := nowT.Format(timeLayout)
	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "mark failed: begin", err)
	}
	defer tx.Rollback()

	var attempts int
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT attempts, status FROM pending_ops WHERE id = ?`, id,
	).Scan(&attempts, &status)
	if err == sql.ErrNoRows {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %d not found", id))
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "mark failed: read attempts", err)
	}
	if models.Status(status) != models.StatusInProgress {
		return apperrors.New(apperrors.ErrInvalid,
			fmt.Sprintf("operation %d is %s, cannot fail", id, status))
	}

	next := models.StatusPending
	var nextAttemptAt sql.NullString
	if apperrors.IsTerminal(execErr) || attempts >= s.cfg.MaxAttempts {
		next = models.StatusDead
	} else {
		due := nowT.Add(s.backoff(attempts))
		nextAttemptAt = sql.NullString{String: due.Format(timeLayout), Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pending_ops
		 SET status = ?, last_error = ?, next_attempt_at = ?, updated_at = ?
		 WHERE id = ?`,
		next, errMsg, nextAttemptAt, now, id,
	); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "mark failed: update", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "mark failed: commit", err)
	}
	return nil
}

// backoff returns the delay before the next attempt: base * 2^(attempt-1),
// capped.
func (s *Store) backoff(attempt int) time.Duration {
	if s.cfg.BaseBackoff <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := s.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if s.cfg.MaxBackoff > 0 && delay >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	if s.cfg.MaxBackoff > 0 && delay > s.cfg.MaxBackoff {
		delay = s.cfg.MaxBackoff
	}
	return delay
}

// Counts returns row counts grouped by category and status. Plain aggregate
// scan; takes no locks that would block concurrent enqueues or a drain pass.
func (s *Store) Counts(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, status, COUNT(*) FROM pending_ops GROUP BY category, status`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "counts query failed", err)
	}
	defer rows.Close()

	counts := make(map[string]map[string]int)
	for rows.Next() {
		var category, status string
		var n int
		if err := rows.Scan(&category, &status, &n); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "counts scan failed", err)
		}
		if counts[category] == nil {
			counts[category] = make(map[string]int)
		}
		counts[category][status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "counts iteration failed", err)
	}
	return counts, nil
}

// RequeueStale returns in_progress rows older than olderThan to pending.
// Crash recovery: a process that died mid-attempt must not leave rows stuck
// in_progress forever.
func (s *Store) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	nowT := s.now().UTC()
	cutoff := nowT.Add(-olderThan).Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_ops SET status = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		models.StatusPending, nowT.Format(timeLayout), models.StatusInProgress, cutoff,
	)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "requeue stale failed", err)
	}
	return res.RowsAffected()
}

// PurgeExpired deletes pending rows whose TTL has lapsed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_ops
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		models.StatusPending, now,
	)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "purge expired failed", err)
	}
	return res.RowsAffected()
}

// RetryDead resets dead rows to pending with a fresh retry budget. Manual
// escape hatch, surfaced through the CLI.
func (s *Store) RetryDead(ctx context.Context) (int64, error) {
	now := s.now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_ops
		 SET status = ?, attempts = 0, next_attempt_at = NULL, last_error = NULL, updated_at = ?
		 WHERE status = ?`,
		models.StatusPending, now, models.StatusDead,
	)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "retry dead failed", err)
	}
	return res.RowsAffected()
}

func requireOneRow(res sql.Result, id int64, transition string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "rows affected unavailable", err)
	}
	if n == 0 {
		return apperrors.New(apperrors.ErrInvalid,
			fmt.Sprintf("operation %d not eligible for %s transition", id, transition))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (models.PendingOperation, error) {
	var op models.PendingOperation
	var payload string
	var lastError, dedupKey sql.NullString
	var expiresAt, nextAttemptAt, firstAttemptAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&op.ID, &op.Category, &op.Kind, &payload, &op.Status, &op.Attempts,
		&lastError, &dedupKey, &expiresAt, &nextAttemptAt, &firstAttemptAt, &completedAt,
		&createdAt, &updatedAt)
	if err != nil {
		return op, err
	}

	op.Payload = json.RawMessage(payload)
	op.LastError = lastError.String
	op.DedupKey = dedupKey.String
	op.ExpiresAt = parseNullTime(expiresAt)
	op.NextAttemptAt = parseNullTime(nextAttemptAt)
	op.FirstAttemptAt = parseNullTime(firstAttemptAt)
	op.CompletedAt = parseNullTime(completedAt)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		op.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		op.UpdatedAt = t
	}
	return op, nil
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}
