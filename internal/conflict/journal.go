package conflict

import (
	"context"

	"github.com/gymdesk/gymsync/internal/db"
	apperrors "github.com/gymdesk/gymsync/internal/errors"
	"github.com/gymdesk/gymsync/internal/models"
)

// Journal persists conflict decisions in the local store so users can review
// what the resolver did on their behalf.
type Journal struct {
	db *db.DB
}

// NewJournal creates a Journal over the local database.
func NewJournal(database *db.DB) *Journal {
	return &Journal{db: database}
}

// Append records one decision.
func (j *Journal) Append(ctx context.Context, entry *models.ConflictLog) error {
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO conflict_log (record_ref, local_ts, remote_ts, local_op_id, remote_op_id, decision, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RecordRef, entry.LocalTS, entry.RemoteTS,
		entry.LocalOpID, entry.RemoteOpID, entry.Decision, entry.DetectedAt,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "append conflict log", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]models.ConflictLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, record_ref, local_ts, remote_ts, local_op_id, remote_op_id, decision, detected_at
		 FROM conflict_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "list conflict log", err)
	}
	defer rows.Close()

	var entries []models.ConflictLog
	for rows.Next() {
		var e models.ConflictLog
		if err := rows.Scan(&e.ID, &e.RecordRef, &e.LocalTS, &e.RemoteTS,
			&e.LocalOpID, &e.RemoteOpID, &e.Decision, &e.DetectedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "scan conflict log row", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "iterate conflict log", err)
	}
	return entries, nil
}
