package models

import "time"

// ConflictLog records a resolved divergence between local and remote versions
// of the same logical record, for later inspection.
type ConflictLog struct {
	ID         int64  `db:"id" json:"id"`
	RecordRef  string `db:"record_ref" json:"record_ref"`
	LocalTS    int64  `db:"local_ts" json:"local_ts"`
	RemoteTS   int64  `db:"remote_ts" json:"remote_ts"`
	LocalOpID  string `db:"local_op_id" json:"local_op_id,omitempty"`
	RemoteOpID string `db:"remote_op_id" json:"remote_op_id,omitempty"`
	Decision   string `db:"decision" json:"decision"`
	DetectedAt int64  `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
