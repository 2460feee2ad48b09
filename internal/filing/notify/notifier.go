// Package notify fires best-effort notifications when a filing reaches a
// terminal state. Notification failures never propagate into the pipeline.
package notify

import (
	"context"
	"log/slog"

	"chargegate/internal/filing/models"
)

// Notifier is the outbound notification collaborator. Implementations must
// be non-blocking from the pipeline's perspective.
type Notifier interface {
	FilingPerfected(ctx context.Context, rec *models.FilingRecord)
	FilingFailed(ctx context.Context, rec *models.FilingRecord, reason string)
}

// LogNotifier writes terminal events to the service log. It is the
// development default when no broker is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) FilingPerfected(ctx context.Context, rec *models.FilingRecord) {
	n.Logger.InfoContext(ctx, "filing perfected",
		"filing_id", rec.ID.String(),
		"reference", rec.Reference,
		"tenant_id", rec.TenantID.String(),
	)
}

func (n *LogNotifier) FilingFailed(ctx context.Context, rec *models.FilingRecord, reason string) {
	n.Logger.WarnContext(ctx, "filing failed",
		"filing_id", rec.ID.String(),
		"reference", rec.Reference,
		"tenant_id", rec.TenantID.String(),
		"reason", reason,
	)
}
