// Package models provides data model definitions for the sync core.
package models

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a queued operation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"
)

// Terminal reports whether the status permits no further transitions. Rows in
// a terminal state are retained for audit and never mutated again.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusDead
}

// PendingOperation is a deferred side-effecting call captured at enqueue time
// and replayed once its category's connectivity dependency is satisfied.
type PendingOperation struct {
	ID       int64           `db:"id" json:"id"`
	Category string          `db:"category" json:"category"`
	Kind     string          `db:"kind" json:"kind"`
	Payload  json.RawMessage `db:"payload" json:"payload"`
	Status   Status          `db:"status" json:"status"`
	Attempts int             `db:"attempts" json:"attempts"`

	LastError string `db:"last_error" json:"last_error,omitempty"`
	DedupKey  string `db:"dedup_key" json:"dedup_key,omitempty"`

	ExpiresAt      *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	NextAttemptAt  *time.Time `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	FirstAttemptAt *time.Time `db:"first_attempt_at" json:"first_attempt_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for PendingOperation.
func (PendingOperation) TableName() string {
	return "pending_ops"
}

// Due reports whether the operation's backoff schedule allows an attempt at
// the given instant.
func (op *PendingOperation) Due(now time.Time) bool {
	return op.NextAttemptAt == nil || !op.NextAttemptAt.After(now)
}

// Expired reports whether the operation's TTL has lapsed.
func (op *PendingOperation) Expired(now time.Time) bool {
	return op.ExpiresAt != nil && op.ExpiresAt.Before(now)
}
