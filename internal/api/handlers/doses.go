package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pillwise/dose-engine/internal/api/middleware"
	"github.com/pillwise/dose-engine/internal/domain/schedule"
	"github.com/pillwise/dose-engine/internal/observability/metrics"
)

// DoseHandler serves the reconciled dose feed and the per-dose operations.
type DoseHandler struct {
	store   schedule.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewDoseHandler creates a new handler.
func NewDoseHandler(store schedule.Store, m *metrics.Metrics, logger *zap.Logger) *DoseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DoseHandler{
		store:   store,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("dose-handler"),
	}
}

// Feed handles GET /profiles/{profileKey}/doses?from=YYYY-MM-DD&to=YYYY-MM-DD.
// It merges the virtual schedules of every routine of the profile with the
// persisted exceptions for the range.
func (h *DoseHandler) Feed(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "dose_feed")
	defer span.End()

	profileKey := chi.URLParam(r, "profileKey")

	fromDay, err := parseDay(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, "from: "+err.Error(), http.StatusBadRequest)
		return
	}
	toDay, err := parseDay(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, "to: "+err.Error(), http.StatusBadRequest)
		return
	}

	routines, err := h.store.RoutinesByProfile(ctx, profileKey)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	// The exception window mirrors the merge window: inclusive days.
	windowEnd := schedule.DayOf(toDay).AddDate(0, 0, 1).Add(-time.Minute)
	exceptions, err := h.store.ExceptionsInRange(ctx, profileKey, schedule.DayOf(fromDay), windowEnd)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	start := time.Now()
	merged, err := schedule.MergeRange(routines, exceptions, fromDay, toDay)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.metrics.MergeDuration.Observe(time.Since(start).Seconds())
	h.metrics.MergeOccurrences.Observe(float64(len(merged)))
	span.SetAttributes(attribute.Int("occurrences", len(merged)))

	writeJSON(w, http.StatusOK, dosesToDTO(merged))
}

// StatusRequest is the body for a plain dose status update.
type StatusRequest struct {
	DoseAt string `json:"dose_at"`
	Status string `json:"status"`
}

// UpdateStatus handles PATCH /profiles/{profileKey}/routines/{routineKey}/doses.
// The exception is materialized lazily on first divergence from pending.
func (h *DoseHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "update_dose_status")
	defer span.End()

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	at, err := parseInstant(req.DoseAt)
	if err != nil {
		writeError(w, "dose_at: "+err.Error(), http.StatusBadRequest)
		return
	}

	routine, err := h.store.RoutineByKey(ctx, chi.URLParam(r, "profileKey"), chi.URLParam(r, "routineKey"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	existing, err := h.store.ExceptionAt(ctx, routine.ID, at)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	occ, err := schedule.SetStatus(routine, existing, at, schedule.DoseStatus(req.Status), schedule.AtMinute(time.Now()))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.store.SaveException(ctx, occ); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.metrics.DoseStatusUpdates.WithLabelValues(req.Status).Inc()

	h.logger.Info("dose status updated",
		zap.String("routine_key", routine.Key),
		zap.Time("dose_at", at),
		zap.String("status", req.Status),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusOK, doseToDTO(*occ))
}

// RescheduleRequest is the body for moving a pending dose.
type RescheduleRequest struct {
	SourceAt string `json:"source_at"`
	TargetAt string `json:"target_at"`
}

// RescheduleResponse carries both sides of the move.
type RescheduleResponse struct {
	Source doseDTO `json:"source"`
	Moved  doseDTO `json:"moved"`
}

// CreateReschedule handles POST /profiles/{profileKey}/routines/{routineKey}/doses/reschedule.
func (h *DoseHandler) CreateReschedule(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "reschedule_dose")
	defer span.End()

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sourceAt, err := parseInstant(req.SourceAt)
	if err != nil {
		writeError(w, "source_at: "+err.Error(), http.StatusBadRequest)
		return
	}
	targetAt, err := parseInstant(req.TargetAt)
	if err != nil {
		writeError(w, "target_at: "+err.Error(), http.StatusBadRequest)
		return
	}

	routine, err := h.store.RoutineByKey(ctx, chi.URLParam(r, "profileKey"), chi.URLParam(r, "routineKey"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	source, err := h.store.ExceptionAt(ctx, routine.ID, sourceAt)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	target, err := h.store.ExceptionAt(ctx, routine.ID, targetAt)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	rs, err := schedule.NewReschedule(routine, source, target != nil, sourceAt, targetAt, schedule.AtMinute(time.Now()))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.store.SaveReschedule(ctx, rs); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.metrics.DosesRescheduled.Inc()

	h.logger.Info("dose rescheduled",
		zap.String("routine_key", routine.Key),
		zap.Time("source_at", sourceAt),
		zap.Time("target_at", targetAt),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusCreated, RescheduleResponse{
		Source: doseToDTO(rs.Source),
		Moved:  doseToDTO(rs.Moved),
	})
}

// GetReschedule handles GET /profiles/{profileKey}/routines/{routineKey}/doses/reschedule?dose_at=...
// where dose_at names the source instant.
func (h *DoseHandler) GetReschedule(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "get_reschedule")
	defer span.End()

	at, err := parseInstant(r.URL.Query().Get("dose_at"))
	if err != nil {
		writeError(w, "dose_at: "+err.Error(), http.StatusBadRequest)
		return
	}

	routine, err := h.store.RoutineByKey(ctx, chi.URLParam(r, "profileKey"), chi.URLParam(r, "routineKey"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	source, err := h.store.ExceptionAt(ctx, routine.ID, at)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if source == nil {
		writeError(w, "no dose exception at that instant", http.StatusNotFound)
		return
	}

	rs, err := h.store.RescheduleBySource(ctx, source.ID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, RescheduleResponse{
		Source: doseToDTO(rs.Source),
		Moved:  doseToDTO(rs.Moved),
	})
}

// Exceptions handles GET /profiles/{profileKey}/routines/{routineKey}/exceptions,
// listing every materialized occurrence of the routine.
func (h *DoseHandler) Exceptions(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "list_exceptions")
	defer span.End()

	routine, err := h.store.RoutineByKey(ctx, chi.URLParam(r, "profileKey"), chi.URLParam(r, "routineKey"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	occs, err := h.store.ExceptionsByRoutine(ctx, routine.ID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dosesToDTO(occs))
}
