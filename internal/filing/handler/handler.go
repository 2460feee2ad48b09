package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chargegate/internal/filing/models"
	"chargegate/internal/filing/realtime"
	"chargegate/internal/filing/service"
	"chargegate/internal/platform/middleware"
	"chargegate/internal/transport/http/shared"
	id "chargegate/pkg/domain"
	dErrors "chargegate/pkg/domain-errors"
	"chargegate/pkg/requestcontext"
)

// Service defines the orchestrator surface the handler needs.
type Service interface {
	SubmitFiling(ctx context.Context, req models.SubmitFilingRequest) (*service.FilingHandle, error)
	GetFiling(ctx context.Context, filingID id.FilingID) (*models.FilingRecord, error)
	SubscribeProgress(filingID id.FilingID) (<-chan models.ProgressEvent, func(), bool)
}

// Synchronizer registers observers for tenant-scoped record pushes.
type Synchronizer interface {
	Register(tenantID id.TenantID, obs realtime.Observer) (func(), error)
}

// Handler exposes the filing pipeline over HTTP.
type Handler struct {
	logger    *slog.Logger
	filings   Service
	sync      Synchronizer
	validator middleware.TokenValidator
}

// New creates a filing Handler.
func New(filings Service, sync Synchronizer, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{
		logger:    logger,
		filings:   filings,
		sync:      sync,
		validator: validator,
	}
}

// Register mounts the filing routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	filingRouter := chi.NewRouter()
	filingRouter.Use(middleware.Recovery(h.logger))
	filingRouter.Use(middleware.RequestID)
	filingRouter.Use(middleware.RequestTime)
	filingRouter.Use(middleware.Logger(h.logger))
	filingRouter.Use(middleware.RequireAuth(h.validator, h.logger))
	filingRouter.Post("/filings", h.handleSubmit)
	filingRouter.Get("/filings/updates", h.handleRecordUpdates)
	filingRouter.Get("/filings/{filingID}", h.handleGet)
	filingRouter.Get("/filings/{filingID}/events", h.handleProgressStream)

	r.Mount("/", filingRouter)
}

type submitResponse struct {
	ID        id.FilingID `json:"id"`
	Reference string      `json:"reference"`
	Status    string      `json:"status"`
}

// handleSubmit starts a filing run for the caller's tenant.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.SubmitFilingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid submit filing request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	handle, err := h.filings.SubmitFiling(ctx, req)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeInvalidInput) {
			shared.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "failed to submit filing",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	// The POST response does not consume the stream; progress is served
	// on the events endpoint.
	handle.Unsubscribe()

	shared.WriteJSON(w, http.StatusCreated, submitResponse{
		ID:        handle.FilingID,
		Reference: handle.Reference,
		Status:    string(models.StatusPending),
	})
}

// handleGet returns the current record snapshot. This is also the reconcile
// path for observers that missed pushes while offline.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filingID, err := id.ParseFilingID(chi.URLParam(r, "filingID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	rec, err := h.filings.GetFiling(ctx, filingID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, rec)
}

// handleProgressStream serves one run's progress over SSE. A late joiner
// receives the current record snapshot first and then only live events;
// history is never replayed. Stream closure means "run finished" whether or
// not the terminal event was observed.
func (h *Handler) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filingID, err := id.ParseFilingID(chi.URLParam(r, "filingID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	rec, err := h.filings.GetFiling(ctx, filingID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	events, cancel, live := h.filings.SubscribeProgress(filingID)
	if live {
		defer cancel()
	}

	sseHeaders(w)
	writeSSE(w, flusher, "record", rec)

	if !live {
		// Join-after-completion race: the snapshot already carries the
		// terminal status, closing tells the client the run finished.
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, flusher, "progress", ev)
		}
	}
}

// handleRecordUpdates streams every record mutation in the caller's tenant
// scope, pushed by the status synchronizer.
func (h *Handler) handleRecordUpdates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := requestcontext.TenantID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	updates := make(chan *models.FilingRecord, 16)
	cancel, err := h.sync.Register(tenantID, realtime.ObserverFunc(func(rec *models.FilingRecord) {
		// Non-blocking: a slow stream misses the push and reconciles
		// via the snapshot endpoint.
		select {
		case updates <- rec:
		default:
		}
	}))
	if err != nil {
		h.logger.ErrorContext(ctx, "record update subscription failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "record updates unavailable"))
		return
	}
	defer cancel()

	sseHeaders(w)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-updates:
			writeSSE(w, flusher, "record", rec)
		}
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
