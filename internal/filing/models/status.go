package models

// Status is the externally visible lifecycle of a filing record.
//
// Transitions are monotonic forward-only: Pending → Submitted → Perfected,
// with Failed reachable from any non-terminal status. The store enforces
// this ordering; drivers merely request transitions.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusPerfected Status = "perfected"
	StatusFailed    Status = "failed"
)

// Rank orders statuses for the monotonic-write guard. Terminal statuses
// rank above everything so no write can follow them.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSubmitted:
		return 1
	case StatusPerfected:
		return 2
	case StatusFailed:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether the status ends the run.
func (s Status) IsTerminal() bool {
	return s == StatusPerfected || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// CanTransitionTo reports whether a record at s may move to next.
// Failed is reachable from any non-terminal status; otherwise only strictly
// forward moves are allowed.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return next.Valid() && next.Rank() > s.Rank()
}
