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

// RoutineHandler serves the routine lifecycle endpoints.
type RoutineHandler struct {
	store   schedule.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewRoutineHandler creates a new handler.
func NewRoutineHandler(store schedule.Store, m *metrics.Metrics, logger *zap.Logger) *RoutineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoutineHandler{
		store:   store,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("routine-handler"),
	}
}

// RoutineRequest is the body for creating or updating a routine.
type RoutineRequest struct {
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	RuleData   json.RawMessage `json:"rule_data"`
	Start      string          `json:"start"`
	Expiration string          `json:"expiration,omitempty"`
}

func (req *RoutineRequest) window() (time.Time, *time.Time, error) {
	start, err := parseInstant(req.Start)
	if err != nil {
		return time.Time{}, nil, err
	}
	var expiration *time.Time
	if req.Expiration != "" {
		e, err := parseInstant(req.Expiration)
		if err != nil {
			return time.Time{}, nil, err
		}
		expiration = &e
	}
	return start, expiration, nil
}

// Create handles POST /profiles/{profileKey}/routines.
func (h *RoutineHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "create_routine")
	defer span.End()

	profileKey := chi.URLParam(r, "profileKey")

	var req RoutineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start, expiration, err := req.window()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	routine, err := schedule.NewRoutine(profileKey, req.Name, schedule.Kind(req.Kind), req.RuleData,
		start, expiration, time.Now())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	span.SetAttributes(attribute.String("routine_key", routine.Key))

	if err := h.store.CreateRoutine(ctx, routine); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.metrics.RoutinesCreated.Inc()

	h.logger.Info("routine created",
		zap.String("routine_key", routine.Key),
		zap.String("profile_key", profileKey),
		zap.String("kind", req.Kind),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusCreated, routineToDTO(routine))
}

// List handles GET /profiles/{profileKey}/routines.
func (h *RoutineHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "list_routines")
	defer span.End()

	routines, err := h.store.RoutinesByProfile(ctx, chi.URLParam(r, "profileKey"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	out := make([]routineDTO, 0, len(routines))
	for _, rt := range routines {
		out = append(out, routineToDTO(rt))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /profiles/{profileKey}/routines/{routineKey}.
func (h *RoutineHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "get_routine")
	defer span.End()

	routine, err := h.store.RoutineByKey(ctx, chi.URLParam(r, "profileKey"), chi.URLParam(r, "routineKey"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, routineToDTO(routine))
}

// Update handles PUT /profiles/{profileKey}/routines/{routineKey}. The old
// version is kept and marked updated; the body describes the replacement.
func (h *RoutineHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "update_routine")
	defer span.End()

	profileKey := chi.URLParam(r, "profileKey")
	routineKey := chi.URLParam(r, "routineKey")

	var req RoutineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start, expiration, err := req.window()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	routine, err := h.store.RoutineByKey(ctx, profileKey, routineKey)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	old, replacement, link, err := routine.NewVersion(req.Name, schedule.Kind(req.Kind), req.RuleData,
		start, expiration, time.Now())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	if err := h.store.ReplaceRoutine(ctx, old, replacement, link); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.metrics.RoutinesVersioned.Inc()

	h.logger.Info("routine versioned",
		zap.String("old_key", old.Key),
		zap.String("new_key", replacement.Key),
		zap.String("profile_key", profileKey),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusOK, routineToDTO(replacement))
}

// Cancel handles DELETE /profiles/{profileKey}/routines/{routineKey}. The
// routine is marked canceled, not removed; confirmed history stays intact.
func (h *RoutineHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "cancel_routine")
	defer span.End()

	routine, err := h.store.RoutineByKey(ctx, chi.URLParam(r, "profileKey"), chi.URLParam(r, "routineKey"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	canceled, err := routine.Cancel(time.Now())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.store.UpdateRoutineStatus(ctx, canceled); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.metrics.RoutinesCanceled.Inc()

	h.logger.Info("routine canceled",
		zap.String("routine_key", canceled.Key),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)
	writeJSON(w, http.StatusOK, routineToDTO(canceled))
}
