package models

import "time"

// ConnectivitySnapshot is a derived, on-demand view of reachability and queue
// pressure. It has no stored identity.
type ConnectivitySnapshot struct {
	InternetOK bool `json:"internet_ok"`
	DBOK       bool `json:"db_ok"`
	ChannelOK  bool `json:"channel_ok"`

	// PendingOps counts pending operations whose connectivity dependency is
	// currently satisfied. PendingOpsTotal counts all non-terminal rows.
	PendingOps      int `json:"pending_ops"`
	PendingOpsTotal int `json:"pending_ops_total"`

	// PendingBreakdown maps category -> status -> count.
	PendingBreakdown map[string]map[string]int `json:"pending_breakdown"`

	Timestamp time.Time `json:"timestamp"`
}
