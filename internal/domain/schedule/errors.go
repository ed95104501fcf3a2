package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Use with errors.Is; the structured types below unwrap to
// these so transport code can classify without knowing the concrete type.
var (
	// ErrSchema is returned when rule data fails shape validation.
	ErrSchema = errors.New("rule data failed schema validation")

	// ErrRoutineConfig is returned when rule data is shape-valid but
	// semantically empty (e.g. a weekday routine with zero days).
	ErrRoutineConfig = errors.New("routine configuration is empty")

	// ErrNoScheduledDose is returned when an operation names an instant whose
	// computed quantity for the routine is zero.
	ErrNoScheduledDose = errors.New("no scheduled dose at that instant")

	// ErrConflict is returned when a reschedule target collides with a natural
	// dose or an existing exception.
	ErrConflict = errors.New("instant already has a dose")

	// ErrIllegalTransition is returned for a disallowed status transition.
	ErrIllegalTransition = errors.New("illegal dose status transition")

	// ErrNotFound is returned when a referenced routine or occurrence does not
	// exist in the scope the caller asked about.
	ErrNotFound = errors.New("not found")
)

// SchemaError carries the field that failed shape validation.
type SchemaError struct {
	Kind   Kind
	Field  string
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid %s rule data: %s: %s", e.Kind, e.Field, e.Detail)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// RoutineConfigError marks shape-valid but semantically empty rule data.
type RoutineConfigError struct {
	Kind   Kind
	Detail string
}

func (e *RoutineConfigError) Error() string {
	return fmt.Sprintf("invalid %s routine: %s", e.Kind, e.Detail)
}

func (e *RoutineConfigError) Unwrap() error { return ErrRoutineConfig }

// NoScheduledDoseError names the instant that has no dose for the routine.
type NoScheduledDoseError struct {
	RoutineKey string
	At         time.Time
}

func (e *NoScheduledDoseError) Error() string {
	return fmt.Sprintf("routine %s has no dose at %s", e.RoutineKey, e.At.Format(time.RFC3339))
}

func (e *NoScheduledDoseError) Unwrap() error { return ErrNoScheduledDose }

// ConflictError names the instant a reschedule target collided on.
type ConflictError struct {
	RoutineKey string
	At         time.Time
	Reason     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("routine %s already has a dose at %s (%s)", e.RoutineKey, e.At.Format(time.RFC3339), e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// IllegalTransitionError carries the attempted transition. From and To are
// plain strings so the same type covers dose and routine statuses.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot transition dose from %s to %s", e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// IsClientError reports whether the error is a recoverable validation outcome
// caused by caller input, as opposed to an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrSchema) ||
		errors.Is(err, ErrRoutineConfig) ||
		errors.Is(err, ErrNoScheduledDose) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrIllegalTransition)
}

// IsNotFound reports whether the error indicates a missing routine or dose.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
