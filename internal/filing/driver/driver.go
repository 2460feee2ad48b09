// Package driver executes the automated filing state machine.
//
// Two variants share one runner: the native driver holds the evidence
// capture capability of a privileged host, the fallback driver runs without
// it. Both emit the same event shape through the same script, so given a
// fixed variant and no injected faults the ordered sequence of
// (stage, percent, severity) tuples is reproducible.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chargegate/internal/filing/models"
	id "chargegate/pkg/domain"
	"chargegate/pkg/requestcontext"
)

// Stage is an internal driver state. Stages collapse externally to the
// coarser FilingRecord status via the milestone mapping below.
type Stage string

const (
	StageInit            Stage = "init"
	StageAuthenticating  Stage = "authenticating"
	StageMapping         Stage = "mapping"
	StageSubmitting      Stage = "submitting"
	StageAwaitingReceipt Stage = "awaiting_receipt"
	StageCompleted       Stage = "completed"
)

// EventSink receives progress events in emission order. The per-run
// progress broker satisfies this directly.
type EventSink interface {
	Publish(ev models.ProgressEvent)
}

// MilestoneRecorder applies milestone status writes. The record store
// satisfies this directly; it owns the monotonic-status guard.
type MilestoneRecorder interface {
	UpdateStatus(ctx context.Context, filingID id.FilingID, next models.Status, metadataPatch map[string]string) (*models.FilingRecord, error)
}

// Driver runs the filing state machine for one record.
//
// Run converts faults into an error event plus a Failed record write and
// returns the fault; it never panics across the channel boundary. A
// context.Canceled run stops without touching the record, leaving it at the
// last durably written status.
type Driver interface {
	Name() string
	Run(ctx context.Context, filingID id.FilingID, sink EventSink, rec MilestoneRecorder) error
}

// step is one scripted transition: entering the stage emits the event and
// milestone write, then the portal op for that stage executes.
type step struct {
	stage     Stage
	percent   int
	message   string
	severity  models.Severity
	milestone models.Status
	op        func(PortalSession) func(context.Context) error
	evidence  bool
}

// script is the fixed transition sequence. Exactly three steps carry a
// milestone status: the 3-point mapping bounds store writes to a small,
// auditable set regardless of how many cosmetic events are emitted.
var script = []step{
	{stage: StageInit, percent: 5, message: "Initializing registry filing robot", severity: models.SeverityInfo},
	{stage: StageAuthenticating, percent: 15, message: "Authenticating with collateral registry portal", severity: models.SeverityInfo,
		milestone: models.StatusPending, op: func(s PortalSession) func(context.Context) error { return s.Authenticate }},
	{stage: StageMapping, percent: 40, message: "Mapping charge details onto registry forms", severity: models.SeverityInfo,
		op: func(s PortalSession) func(context.Context) error { return s.MapCollateral }},
	{stage: StageSubmitting, percent: 65, message: "Submitting charge registration", severity: models.SeverityInfo,
		milestone: models.StatusSubmitted, op: func(s PortalSession) func(context.Context) error { return s.SubmitCharge }},
	{stage: StageAwaitingReceipt, percent: 85, message: "Awaiting registry acknowledgement", severity: models.SeverityInfo,
		op: func(s PortalSession) func(context.Context) error { return s.AwaitReceipt }, evidence: true},
	{stage: StageCompleted, percent: 100, message: "Filing perfected", severity: models.SeveritySuccess,
		milestone: models.StatusPerfected},
}

// evidencePercent slots the capture event between AwaitingReceipt and
// Completed so percent stays non-decreasing.
const evidencePercent = 90

// runner drives the shared state machine for both variants.
type runner struct {
	name     string
	session  PortalSession
	capturer EvidenceCapturer
	logger   *slog.Logger
}

func (r *runner) Name() string { return r.name }

func (r *runner) Run(ctx context.Context, filingID id.FilingID, sink EventSink, rec MilestoneRecorder) error {
	tracer := otel.Tracer("chargegate/internal/filing/driver")
	ctx, span := tracer.Start(ctx, "driver.run", trace.WithAttributes(
		attribute.String("filing.id", filingID.String()),
		attribute.String("driver.variant", r.name),
	))
	defer span.End()

	for _, st := range script {
		r.emit(ctx, sink, st.stage, st.percent, st.message, st.severity)

		if st.milestone != "" {
			if _, err := rec.UpdateStatus(ctx, filingID, st.milestone, nil); err != nil {
				return r.fail(ctx, filingID, sink, rec, st, fmt.Errorf("record milestone: %w", err))
			}
		}

		if st.op != nil {
			if err := st.op(r.session)(ctx); err != nil {
				return r.fail(ctx, filingID, sink, rec, st, err)
			}
		}

		if st.evidence && r.capturer != nil {
			r.captureEvidence(ctx, filingID, sink, rec)
		}
	}

	return nil
}

// captureEvidence runs the host capability at the receipt stage. Failure
// degrades to a warning event; the run continues either way.
func (r *runner) captureEvidence(ctx context.Context, filingID id.FilingID, sink EventSink, rec MilestoneRecorder) {
	ref, err := r.capturer.Capture(ctx, filingID)
	if err != nil {
		r.logger.WarnContext(ctx, "evidence capture failed",
			"filing_id", filingID.String(),
			"error", err,
		)
		r.emit(ctx, sink, StageAwaitingReceipt, evidencePercent,
			"Evidence capture failed, continuing without snapshot", models.SeverityWarning)
		return
	}

	patch := map[string]string{models.MetadataEvidenceRef: ref}
	if _, err := rec.UpdateStatus(ctx, filingID, models.StatusSubmitted, patch); err != nil {
		r.logger.WarnContext(ctx, "evidence pointer not stored",
			"filing_id", filingID.String(),
			"error", err,
		)
		r.emit(ctx, sink, StageAwaitingReceipt, evidencePercent,
			"Evidence capture failed, continuing without snapshot", models.SeverityWarning)
		return
	}
	r.emit(ctx, sink, StageAwaitingReceipt, evidencePercent,
		"Receipt evidence captured", models.SeverityInfo)
}

// fail terminates the run. Session cancellation stops silently: the record
// stays at the last durably written status and is never advanced past it.
// Every other fault emits an error event and marks the record Failed.
func (r *runner) fail(ctx context.Context, filingID id.FilingID, sink EventSink, rec MilestoneRecorder, st step, cause error) error {
	if errors.Is(cause, context.Canceled) {
		r.logger.InfoContext(ctx, "filing run cancelled",
			"filing_id", filingID.String(),
			"stage", string(st.stage),
		)
		return cause
	}

	message := fmt.Sprintf("Filing failed during %s: %v", st.stage, cause)
	if errors.Is(cause, context.DeadlineExceeded) {
		message = "Filing run timed out before completion"
	}

	r.emit(ctx, sink, st.stage, st.percent, message, models.SeverityError)

	// The terminal write must land even when the fault was the deadline.
	writeCtx := context.WithoutCancel(ctx)
	patch := map[string]string{models.MetadataFailureReason: message}
	if _, err := rec.UpdateStatus(writeCtx, filingID, models.StatusFailed, patch); err != nil {
		r.logger.ErrorContext(ctx, "failed to mark filing as failed",
			"filing_id", filingID.String(),
			"error", err,
		)
	}

	return fmt.Errorf("%s: %w", message, cause)
}

func (r *runner) emit(ctx context.Context, sink EventSink, stage Stage, percent int, message string, severity models.Severity) {
	sink.Publish(models.ProgressEvent{
		At:              requestcontext.Now(ctx),
		Stage:           string(stage),
		Message:         message,
		Severity:        severity,
		PercentComplete: percent,
	})
}

// Native is the driver variant for hosts that can capture visual evidence
// at the receipt stage.
type Native struct {
	runner
}

// NewNative constructs the native driver. The capturer is required; without
// it the orchestrator selects the fallback instead.
func NewNative(session PortalSession, capturer EvidenceCapturer, logger *slog.Logger) *Native {
	return &Native{runner{name: "native", session: session, capturer: capturer, logger: logger}}
}

// Fallback is the driver variant for unprivileged hosts. It skips evidence
// capture entirely; sequencing and timing semantics are otherwise identical.
type Fallback struct {
	runner
}

// NewFallback constructs the fallback driver.
func NewFallback(session PortalSession, logger *slog.Logger) *Fallback {
	return &Fallback{runner{name: "fallback", session: session, logger: logger}}
}
