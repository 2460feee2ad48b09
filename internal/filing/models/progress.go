package models

import "time"

// Severity classifies a progress event for display.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ProgressEvent is one timestamped progress message from a driver run.
//
// Events are ephemeral: they exist only for the observing session and are
// never persisted. The audit trail is the FilingRecord plus its metadata;
// only milestone transitions cause record mutations.
//
// PercentComplete is monotonically non-decreasing within one run and reaches
// exactly 100 on success.
type ProgressEvent struct {
	At              time.Time `json:"at"`
	Stage           string    `json:"stage"`
	Message         string    `json:"message"`
	Severity        Severity  `json:"severity"`
	PercentComplete int       `json:"percent_complete"`
}
