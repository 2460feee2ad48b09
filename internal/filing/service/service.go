// Package service wires the filing pipeline together: it validates submit
// requests, creates records, selects a driver variant and binds driver
// events to the record store and the per-run progress channel.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chargegate/internal/filing/driver"
	filingmetrics "chargegate/internal/filing/metrics"
	"chargegate/internal/filing/models"
	"chargegate/internal/filing/progress"
	id "chargegate/pkg/domain"
	dErrors "chargegate/pkg/domain-errors"
	"chargegate/pkg/platform/sentinel"
	"chargegate/pkg/requestcontext"
)

// DefaultRunTimeout is the supervising bound on one automation run. A run
// that has not reached a terminal state by then is failed rather than left
// pending indefinitely.
const DefaultRunTimeout = 5 * time.Minute

// Orchestrator is the public entry point of the filing pipeline.
//
// Every SubmitFiling call creates exactly one record and starts exactly one
// run. Concurrent calls for the same legal entity are independent runs with
// independent records; the source system has no dedup safeguard and this
// port deliberately preserves that behavior.
type Orchestrator struct {
	store      RecordStore
	notifier   Notifier
	metrics    *filingmetrics.Metrics
	logger     *slog.Logger
	session    driver.PortalSession
	capturer   driver.EvidenceCapturer
	runTimeout time.Duration

	mu   sync.Mutex
	runs map[id.FilingID]*progress.Broker

	// rootCtx bounds fallback runs: the fallback driver has no separate
	// host, so its runs are cancelled when the orchestrator shuts down.
	// Native runs are detached and end only via the supervising timeout.
	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

type serviceConfig struct {
	notifier   Notifier
	metrics    *filingmetrics.Metrics
	logger     *slog.Logger
	session    driver.PortalSession
	capturer   driver.EvidenceCapturer
	runTimeout time.Duration
}

// Option customizes the orchestrator.
type Option func(*serviceConfig)

// WithNotifier sets the terminal-event notification collaborator.
func WithNotifier(n Notifier) Option {
	return func(cfg *serviceConfig) { cfg.notifier = n }
}

// WithMetrics sets the pipeline metrics.
func WithMetrics(m *filingmetrics.Metrics) Option {
	return func(cfg *serviceConfig) { cfg.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *serviceConfig) { cfg.logger = l }
}

// WithPortalSession sets the portal action implementation for driver runs.
func WithPortalSession(s driver.PortalSession) Option {
	return func(cfg *serviceConfig) { cfg.session = s }
}

// WithEvidenceCapturer provides the host evidence capability. When present
// the orchestrator selects the native driver; otherwise the fallback.
func WithEvidenceCapturer(c driver.EvidenceCapturer) Option {
	return func(cfg *serviceConfig) { cfg.capturer = c }
}

// WithRunTimeout overrides the supervising run timeout.
func WithRunTimeout(d time.Duration) Option {
	return func(cfg *serviceConfig) { cfg.runTimeout = d }
}

// NewOrchestrator creates the pipeline entry point.
func NewOrchestrator(store RecordStore, opts ...Option) *Orchestrator {
	cfg := &serviceConfig{
		logger:     slog.Default(),
		session:    &driver.SimulatedSession{StepDelay: 2 * time.Second},
		runTimeout: DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:      store,
		notifier:   cfg.notifier,
		metrics:    cfg.metrics,
		logger:     cfg.logger,
		session:    cfg.session,
		capturer:   cfg.capturer,
		runTimeout: cfg.runTimeout,
		runs:       make(map[id.FilingID]*progress.Broker),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
}

// FilingHandle is returned from SubmitFiling: the record identity plus a
// live subscription to the run's progress stream.
type FilingHandle struct {
	FilingID  id.FilingID
	Reference string

	events <-chan models.ProgressEvent
	cancel func()
}

// Events returns the run's progress stream. The channel closes when the run
// reaches a terminal state.
func (h *FilingHandle) Events() <-chan models.ProgressEvent {
	return h.events
}

// Unsubscribe releases the handle's progress subscription.
func (h *FilingHandle) Unsubscribe() {
	h.cancel()
}

// SubmitFiling validates the request, creates the filing record and starts
// exactly one driver run bound to it.
//
// Validation failures are returned synchronously before any state is
// created. Faults after this point never surface as errors to the caller;
// they become progress events and record status writes.
func (o *Orchestrator) SubmitFiling(ctx context.Context, req models.SubmitFilingRequest) (*FilingHandle, error) {
	tracer := otel.Tracer("chargegate/internal/filing/service")
	ctx, span := tracer.Start(ctx, "filing.submit")
	defer span.End()

	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "tenant scope is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	seq, err := o.store.NextSequence(ctx, tenantID, now.Year())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate filing reference")
	}

	rec, err := models.NewFilingRecord(id.NewFilingID(), tenantID, id.FormatReference(now.Year(), seq), req, now)
	if err != nil {
		return nil, err
	}
	if err := o.store.Create(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "filing reference already taken")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create filing record")
	}
	span.SetAttributes(attribute.String("filing.id", rec.ID.String()))

	broker := progress.NewBroker()
	events, cancelSub := broker.Subscribe()

	o.mu.Lock()
	o.runs[rec.ID] = broker
	o.mu.Unlock()

	drv := o.selectDriver()
	o.logger.InfoContext(ctx, "filing run starting",
		"filing_id", rec.ID.String(),
		"reference", rec.Reference,
		"driver", drv.Name(),
	)
	if o.metrics != nil {
		o.metrics.FilingsSubmitted.Inc()
	}

	o.wg.Add(1)
	go o.runFiling(drv, rec, broker)

	return &FilingHandle{
		FilingID:  rec.ID,
		Reference: rec.Reference,
		events:    events,
		cancel:    cancelSub,
	}, nil
}

// GetFiling returns the record snapshot for the caller's tenant scope.
// Records outside the scope are indistinguishable from missing ones.
func (o *Orchestrator) GetFiling(ctx context.Context, filingID id.FilingID) (*models.FilingRecord, error) {
	rec, err := o.store.FindByID(ctx, filingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "filing not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load filing")
	}
	if rec.TenantID != requestcontext.TenantID(ctx) {
		return nil, dErrors.New(dErrors.CodeNotFound, "filing not found")
	}
	return rec, nil
}

// SubscribeProgress attaches a late observer to a live run. It reports
// ok=false when no run is active for the filing, which observers must treat
// as "run finished" (they already hold the record snapshot; this tolerates
// join-after-completion races). Late joiners receive only events emitted
// after they joined.
func (o *Orchestrator) SubscribeProgress(filingID id.FilingID) (<-chan models.ProgressEvent, func(), bool) {
	o.mu.Lock()
	broker, ok := o.runs[filingID]
	o.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	events, cancel := broker.Subscribe()
	return events, cancel, true
}

// Close cancels fallback runs and waits for all in-flight runs to settle.
func (o *Orchestrator) Close() {
	o.rootCancel()
	o.wg.Wait()
}

// selectDriver is polymorphism over the capability set: the evidence
// capability being configured is what makes a host "native", not any
// environment detection.
func (o *Orchestrator) selectDriver() driver.Driver {
	if o.capturer != nil {
		return driver.NewNative(o.session, o.capturer, o.logger)
	}
	return driver.NewFallback(o.session, o.logger)
}

func (o *Orchestrator) runFiling(drv driver.Driver, rec *models.FilingRecord, broker *progress.Broker) {
	defer o.wg.Done()

	base := context.Background()
	if _, isFallback := drv.(*driver.Fallback); isFallback {
		base = o.rootCtx
	}
	runCtx, cancel := context.WithTimeout(base, o.runTimeout)
	defer cancel()

	if o.metrics != nil {
		o.metrics.ActiveRuns.Inc()
	}
	start := time.Now()

	err := drv.Run(runCtx, rec.ID, broker, o.store)

	broker.Close()
	o.mu.Lock()
	delete(o.runs, rec.ID)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.ActiveRuns.Dec()
		o.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}

	// The run context may already be dead; terminal reporting uses a
	// fresh one.
	reportCtx, reportCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer reportCancel()

	switch {
	case err == nil:
		if o.metrics != nil {
			o.metrics.FilingsPerfected.Inc()
		}
		o.notifyPerfected(reportCtx, rec.ID)
	case errors.Is(err, context.Canceled):
		// Session ended before completion; the record keeps its last
		// durably written status and no terminal notification fires.
		o.logger.InfoContext(reportCtx, "filing run cancelled before completion",
			"filing_id", rec.ID.String(),
		)
	default:
		if o.metrics != nil {
			o.metrics.FilingsFailed.Inc()
		}
		o.notifyFailed(reportCtx, rec.ID, err)
	}
}

func (o *Orchestrator) notifyPerfected(ctx context.Context, filingID id.FilingID) {
	if o.notifier == nil {
		return
	}
	rec, err := o.store.FindByID(ctx, filingID)
	if err != nil {
		o.logger.WarnContext(ctx, "terminal notification skipped",
			"filing_id", filingID.String(),
			"error", err,
		)
		return
	}
	o.notifier.FilingPerfected(ctx, rec)
}

func (o *Orchestrator) notifyFailed(ctx context.Context, filingID id.FilingID, cause error) {
	if o.notifier == nil {
		return
	}
	rec, err := o.store.FindByID(ctx, filingID)
	if err != nil {
		o.logger.WarnContext(ctx, "terminal notification skipped",
			"filing_id", filingID.String(),
			"error", err,
		)
		return
	}
	reason := rec.FailureReason()
	if reason == "" {
		reason = cause.Error()
	}
	o.notifier.FilingFailed(ctx, rec, reason)
}
