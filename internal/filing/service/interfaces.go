package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"chargegate/internal/filing/models"
	id "chargegate/pkg/domain"
)

// RecordStore is the persistence slice the orchestrator needs. The store
// package's memory and postgres implementations both satisfy it; the full
// change-notification surface lives behind realtime.Watcher instead.
type RecordStore interface {
	Create(ctx context.Context, rec *models.FilingRecord) error
	FindByID(ctx context.Context, filingID id.FilingID) (*models.FilingRecord, error)
	UpdateStatus(ctx context.Context, filingID id.FilingID, next models.Status, metadataPatch map[string]string) (*models.FilingRecord, error)
	NextSequence(ctx context.Context, tenantID id.TenantID, year int) (int, error)
}

// Notifier fires on terminal success or failure, best-effort.
type Notifier interface {
	FilingPerfected(ctx context.Context, rec *models.FilingRecord)
	FilingFailed(ctx context.Context, rec *models.FilingRecord, reason string)
}
