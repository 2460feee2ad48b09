// Package realtime keeps every observer of a tenant's filings synchronized
// with the record store without polling.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"chargegate/internal/filing/models"
	id "chargegate/pkg/domain"
)

// Watcher is the slice of the record store the synchronizer consumes: a
// change-notification primitive any persistence backend can implement
// (poll-based, log-based or native pub/sub).
type Watcher interface {
	Watch(ctx context.Context, tenantID id.TenantID) (<-chan *models.FilingRecord, func(), error)
}

// Observer receives full updated records (not diffs). Delivery is
// at-least-once: implementations must treat repeated delivery of an
// identical record version as a no-op (see Projection). Apply must be fast
// and non-blocking; a slow observer misses pushes and reconciles by
// re-fetching.
type Observer interface {
	Apply(rec *models.FilingRecord)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(rec *models.FilingRecord)

func (f ObserverFunc) Apply(rec *models.FilingRecord) { f(rec) }

// Synchronizer subscribes to store mutations per tenant scope and fans the
// latest record out to every live observer in that scope. Tenant watch loops
// start when the first observer registers and stop when the last leaves.
type Synchronizer struct {
	watcher Watcher
	logger  *slog.Logger

	mu     sync.Mutex
	scopes map[id.TenantID]*scope
	ctx    context.Context
	cancel context.CancelFunc
}

type scope struct {
	observers map[int]Observer
	nextID    int
	stop      func()
}

// NewSynchronizer creates a synchronizer reading from the given watcher.
func NewSynchronizer(watcher Watcher, logger *slog.Logger) *Synchronizer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		watcher: watcher,
		logger:  logger,
		scopes:  make(map[id.TenantID]*scope),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds an observer for a tenant scope and returns a cancel func.
// Observers that join while mutations are in flight simply see later pushes;
// they reconcile the current state via an explicit fetch.
func (s *Synchronizer) Register(tenantID id.TenantID, obs Observer) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scopes[tenantID]
	if !ok {
		ch, stop, err := s.watcher.Watch(s.ctx, tenantID)
		if err != nil {
			return nil, err
		}
		sc = &scope{observers: make(map[int]Observer), stop: stop}
		s.scopes[tenantID] = sc
		go s.pump(tenantID, ch)
	}

	key := sc.nextID
	sc.nextID++
	sc.observers[key] = obs

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(sc.observers, key)
			if len(sc.observers) == 0 {
				sc.stop()
				delete(s.scopes, tenantID)
			}
		})
	}
	return cancel, nil
}

// Close stops all watch loops and drops all observers.
func (s *Synchronizer) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for tenantID, sc := range s.scopes {
		sc.stop()
		delete(s.scopes, tenantID)
	}
}

func (s *Synchronizer) pump(tenantID id.TenantID, ch <-chan *models.FilingRecord) {
	for rec := range ch {
		s.mu.Lock()
		sc, ok := s.scopes[tenantID]
		if !ok {
			s.mu.Unlock()
			return
		}
		observers := make([]Observer, 0, len(sc.observers))
		for _, obs := range sc.observers {
			observers = append(observers, obs)
		}
		s.mu.Unlock()

		for _, obs := range observers {
			obs.Apply(rec)
		}
	}
	s.logger.Debug("record watch stream closed", "tenant_id", tenantID.String())
}
