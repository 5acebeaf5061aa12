// Package conflict decides which side of a diverged record is authoritative.
// The replication engine calls Resolve per conflicting row; the decision uses
// version metadata only, never record content.
package conflict

import (
	"time"

	"github.com/gymdesk/gymsync/internal/logging"
	"github.com/gymdesk/gymsync/internal/models"
)

// Decision is the outcome of comparing two versioned record states.
type Decision string

const (
	DecisionLocal    Decision = "local"
	DecisionRemote   Decision = "remote"
	DecisionConflict Decision = "conflict"
)

// TieBreaker selects the fallback when version metadata alone cannot decide.
type TieBreaker string

const (
	// TieBreakerWebapp favors the remote web application's copy.
	TieBreakerWebapp TieBreaker = "webapp"
	TieBreakerLocal  TieBreaker = "local"
	TieBreakerRemote TieBreaker = "remote"
	// TieBreakerNone reports an unresolved conflict instead of picking a side.
	TieBreakerNone TieBreaker = "none"
)

// Version is one side's record state metadata: a per-write logical clock and
// the id of the writing operation.
type Version struct {
	LogicalTS int64
	OpID      string
}

// Resolve compares the two versions and returns the authoritative side.
//
// Ordering rules, applied in order:
//  1. missing logical timestamps count as 0;
//  2. the larger logical timestamp wins;
//  3. on a timestamp tie, the lexicographically larger op id wins, provided
//     both ids are non-empty;
//  4. otherwise the tie breaker decides; TieBreakerNone yields
//     DecisionConflict.
//
// Resolve is pure and total: identical inputs always yield the identical
// decision, and no input combination errors.
func Resolve(local, remote Version, tb TieBreaker) Decision {
	if local.LogicalTS > remote.LogicalTS {
		return DecisionLocal
	}
	if local.LogicalTS < remote.LogicalTS {
		return DecisionRemote
	}

	if local.OpID != "" && remote.OpID != "" {
		if local.OpID > remote.OpID {
			return DecisionLocal
		}
		if local.OpID < remote.OpID {
			return DecisionRemote
		}
	}

	switch tb {
	case TieBreakerWebapp:
		return DecisionRemote
	case TieBreakerLocal:
		return DecisionLocal
	case TieBreakerRemote:
		return DecisionRemote
	default:
		return DecisionConflict
	}
}

// Resolver carries a configured tie breaker and records decisions for audit.
type Resolver struct {
	tieBreaker TieBreaker
}

// NewResolver creates a Resolver with the given tie breaker.
func NewResolver(tb TieBreaker) *Resolver {
	return &Resolver{tieBreaker: tb}
}

// Resolve decides the given divergence and returns the decision together
// with a ConflictLog row for user awareness. Persisting the log entry is the
// caller's choice; Resolve itself performs no I/O.
func (r *Resolver) Resolve(recordRef string, local, remote Version) (Decision, *models.ConflictLog) {
	decision := Resolve(local, remote, r.tieBreaker)

	entry := &models.ConflictLog{
		RecordRef:  recordRef,
		LocalTS:    local.LogicalTS,
		RemoteTS:   remote.LogicalTS,
		LocalOpID:  local.OpID,
		RemoteOpID: remote.OpID,
		Decision:   string(decision),
		DetectedAt: time.Now().Unix(),
	}

	if decision == DecisionConflict {
		logging.Warn("unresolved record conflict", logging.Fields{
			"record_ref": recordRef,
			"local_ts":   local.LogicalTS,
			"remote_ts":  remote.LogicalTS,
		})
	} else {
		logging.Debug("record conflict resolved", logging.Fields{
			"record_ref": recordRef,
			"decision":   decision,
			"local_ts":   local.LogicalTS,
			"remote_ts":  remote.LogicalTS,
		})
	}

	return decision, entry
}
