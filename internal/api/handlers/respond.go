// Package handlers provides HTTP handlers for the scheduler API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pillwise/dose-engine/internal/domain/schedule"
)

// routineDTO is the wire shape of a routine version.
type routineDTO struct {
	Key          string            `json:"key"`
	ProfileKey   string            `json:"profile_key"`
	Name         string            `json:"name"`
	Kind         string            `json:"kind"`
	RuleData     json.RawMessage   `json:"rule_data"`
	Start        time.Time         `json:"start"`
	Expiration   *time.Time        `json:"expiration,omitempty"`
	Status       string            `json:"status"`
	StatusEvents []statusEventDTO  `json:"status_events,omitempty"`
}

// doseDTO is the wire shape of one occurrence, virtual or materialized.
type doseDTO struct {
	RoutineKey   string           `json:"routine_key"`
	DoseAt       time.Time        `json:"dose_at"`
	Quantity     int              `json:"quantity"`
	Status       string           `json:"status"`
	ConfirmedAt  *time.Time       `json:"confirmed_at,omitempty"`
	StatusEvents []statusEventDTO `json:"status_events,omitempty"`
}

type statusEventDTO struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

func routineToDTO(r *schedule.Routine) routineDTO {
	dto := routineDTO{
		Key:        r.Key,
		ProfileKey: r.ProfileKey,
		Name:       r.Name,
		Kind:       string(r.Kind),
		RuleData:   r.RuleData,
		Start:      r.Start,
		Expiration: r.Expiration,
		Status:     string(r.Status),
	}
	for _, ev := range r.StatusEvents {
		dto.StatusEvents = append(dto.StatusEvents, statusEventDTO{Status: string(ev.Status), At: ev.At})
	}
	return dto
}

func doseToDTO(o schedule.Occurrence) doseDTO {
	dto := doseDTO{
		RoutineKey:  o.RoutineKey,
		DoseAt:      o.At,
		Quantity:    o.Quantity,
		Status:      string(o.Status),
		ConfirmedAt: o.ConfirmedAt,
	}
	for _, ev := range o.StatusEvents {
		dto.StatusEvents = append(dto.StatusEvents, statusEventDTO{Status: string(ev.Status), At: ev.At})
	}
	return dto
}

func dosesToDTO(occs []schedule.Occurrence) []doseDTO {
	out := make([]doseDTO, 0, len(occs))
	for _, o := range occs {
		out = append(out, doseToDTO(o))
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeDomainError maps engine errors onto HTTP statuses. Conflicts get 409,
// other client errors 400, missing entities 404, the rest 500.
func writeDomainError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case schedule.IsNotFound(err):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, schedule.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)
	case schedule.IsClientError(err):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// parseInstant parses an RFC 3339 instant and enforces minute precision.
func parseInstant(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errInstantFormat
	}
	if !schedule.IsMinutePrecise(t) {
		return time.Time{}, errInstantPrecision
	}
	return t.UTC(), nil
}

// parseDay parses a "YYYY-MM-DD" calendar day.
func parseDay(raw string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errDayFormat
	}
	return t.UTC(), nil
}

var (
	errInstantFormat    = errors.New("instant must be RFC 3339")
	errInstantPrecision = errors.New("instant must have zero seconds")
	errDayFormat        = errors.New("date must be YYYY-MM-DD")
)
