package store

import (
	"context"
	"fmt"
	"sync"

	"chargegate/internal/filing/models"
	id "chargegate/pkg/domain"
	"chargegate/pkg/platform/sentinel"
	"chargegate/pkg/requestcontext"
)

// watchBuffer bounds each watcher channel. A watcher that falls this far
// behind misses pushes and must reconcile via FindByID, matching the
// at-least-once contract.
const watchBuffer = 16

// InMemory implements RecordStore with mutex-guarded maps. It is the
// development and unit-test store; production deployments use Postgres.
type InMemory struct {
	mu        sync.RWMutex
	records   map[id.FilingID]*models.FilingRecord
	sequences map[string]int
	watchers  map[int]*watcher
	nextWatch int
}

type watcher struct {
	tenantID id.TenantID
	ch       chan *models.FilingRecord
}

// NewInMemory creates an empty in-memory record store.
func NewInMemory() *InMemory {
	return &InMemory{
		records:   make(map[id.FilingID]*models.FilingRecord),
		sequences: make(map[string]int),
		watchers:  make(map[int]*watcher),
	}
}

// Create persists a new record. The filing ID and reference must be unused.
func (s *InMemory) Create(ctx context.Context, rec *models.FilingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("create filing %s: %w", rec.ID, sentinel.ErrConflict)
	}
	for _, existing := range s.records {
		if existing.TenantID == rec.TenantID && existing.Reference == rec.Reference {
			return fmt.Errorf("reference %s already taken: %w", rec.Reference, sentinel.ErrConflict)
		}
	}

	s.records[rec.ID] = rec.Clone()
	s.notifyLocked(rec)
	return nil
}

// FindByID returns a copy of the record.
func (s *InMemory) FindByID(ctx context.Context, filingID id.FilingID) (*models.FilingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[filingID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

// UpdateStatus applies a milestone write atomically. Backward transitions
// are rejected with ErrInvalidState; the driver never sees a record move
// backward regardless of write ordering races.
func (s *InMemory) UpdateStatus(ctx context.Context, filingID id.FilingID, next models.Status, metadataPatch map[string]string) (*models.FilingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[filingID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	now := requestcontext.Now(ctx)

	if next == rec.Status {
		if len(metadataPatch) == 0 {
			return rec.Clone(), nil
		}
		rec.ApplyMetadata(metadataPatch, now)
		s.notifyLocked(rec)
		return rec.Clone(), nil
	}

	if err := rec.CanApplyStatus(next); err != nil {
		return nil, fmt.Errorf("filing %s: %s -> %s: %w", filingID, rec.Status, next, sentinel.ErrInvalidState)
	}

	rec.ApplyStatus(next, now)
	rec.ApplyMetadata(metadataPatch, now)
	s.notifyLocked(rec)
	return rec.Clone(), nil
}

// NextSequence increments and returns the per-tenant reference counter for
// the given year.
func (s *InMemory) NextSequence(ctx context.Context, tenantID id.TenantID, year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s:%d", tenantID, year)
	s.sequences[key]++
	return s.sequences[key], nil
}

// Watch registers a mutation watcher scoped to tenantID (zero = all tenants).
func (s *InMemory) Watch(ctx context.Context, tenantID id.TenantID) (<-chan *models.FilingRecord, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := &watcher{tenantID: tenantID, ch: make(chan *models.FilingRecord, watchBuffer)}
	key := s.nextWatch
	s.nextWatch++
	s.watchers[key] = w

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers, key)
			close(w.ch)
		})
	}

	// Release the watcher when the caller's context ends.
	go func() {
		<-ctx.Done()
		cancel()
	}()

	return w.ch, cancel, nil
}

// notifyLocked pushes a snapshot to every matching watcher. Sends are
// non-blocking: a full watcher channel means that watcher misses the push.
func (s *InMemory) notifyLocked(rec *models.FilingRecord) {
	for _, w := range s.watchers {
		if !w.tenantID.IsZero() && w.tenantID != rec.TenantID {
			continue
		}
		select {
		case w.ch <- rec.Clone():
		default:
		}
	}
}
