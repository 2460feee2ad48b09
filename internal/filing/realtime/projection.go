package realtime

import (
	"sync"

	"chargegate/internal/filing/models"
	id "chargegate/pkg/domain"
)

// Projection is an observer-side view of filing records with the idempotent
// apply rule built in: pushes are keyed on UpdatedAt, so repeated delivery
// of an identical record version leaves the view unchanged and a stale push
// can never roll a newer record back.
type Projection struct {
	mu      sync.RWMutex
	records map[id.FilingID]*models.FilingRecord
}

// NewProjection creates an empty projection.
func NewProjection() *Projection {
	return &Projection{records: make(map[id.FilingID]*models.FilingRecord)}
}

// Apply merges a pushed record into the view. It reports whether the view
// changed; duplicates and stale versions return false.
func (p *Projection) ApplyRecord(rec *models.FilingRecord) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.records[rec.ID]
	if ok && !rec.UpdatedAt.After(current.UpdatedAt) {
		return false
	}
	p.records[rec.ID] = rec.Clone()
	return true
}

// Apply implements Observer.
func (p *Projection) Apply(rec *models.FilingRecord) {
	p.ApplyRecord(rec)
}

// Get returns the projected record, or nil if never pushed.
func (p *Projection) Get(filingID id.FilingID) *models.FilingRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.records[filingID]
	if !ok {
		return nil
	}
	return rec.Clone()
}

// Len returns the number of projected records.
func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}
