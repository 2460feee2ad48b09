// Package store persists filing records and exposes a change-notification
// primitive so the status synchronizer can push updates without polling the
// API layer.
package store

import (
	"context"

	"chargegate/internal/filing/models"
	id "chargegate/pkg/domain"
)

// RecordStore is the persistence collaborator for filing records.
//
// UpdateStatus applies status, metadata patch and updatedAt as one atomic
// write and rejects transitions that would move status backward
// (sentinel.ErrInvalidState). A write with the current status and a non-empty
// patch attaches metadata without a transition; with an empty patch it is a
// no-op returning the current record.
//
// Watch returns a stream of full record snapshots for every mutation in the
// tenant's scope (the zero TenantID watches all tenants). Delivery is
// at-least-once with no queued replay: a slow or disconnected watcher misses
// pushes and reconciles via FindByID. The returned cancel func releases the
// subscription.
type RecordStore interface {
	Create(ctx context.Context, rec *models.FilingRecord) error
	FindByID(ctx context.Context, filingID id.FilingID) (*models.FilingRecord, error)
	UpdateStatus(ctx context.Context, filingID id.FilingID, next models.Status, metadataPatch map[string]string) (*models.FilingRecord, error)
	NextSequence(ctx context.Context, tenantID id.TenantID, year int) (int, error)
	Watch(ctx context.Context, tenantID id.TenantID) (<-chan *models.FilingRecord, func(), error)
}
