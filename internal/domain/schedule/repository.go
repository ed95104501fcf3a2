package schedule

import (
	"context"
	"time"
)

// The engine never touches storage; these interfaces are the boundary it
// assumes. The postgres package implements them. Atomicity of the composite
// writes (a reschedule's three entities, a routine update's three entities)
// is the store's responsibility: the engine treats "a reschedule always has
// both sides" as a data-integrity precondition, not something it enforces at
// runtime.

// RoutineStore provides routine lookups scoped to a profile.
type RoutineStore interface {
	// RoutineByKey returns the routine or an ErrNotFound-classified error.
	RoutineByKey(ctx context.Context, profileKey, routineKey string) (*Routine, error)
	RoutinesByProfile(ctx context.Context, profileKey string) ([]*Routine, error)
}

// ExceptionStore provides persisted occurrence lookups.
type ExceptionStore interface {
	// ExceptionsInRange returns all exceptions of the profile's routines with
	// instants in [from, to], sorted ascending by (routineID, instant) as
	// MergeRange requires.
	ExceptionsInRange(ctx context.Context, profileKey string, from, to time.Time) ([]Occurrence, error)

	// ExceptionAt returns the exception at an exact instant, nil when the
	// dose was never materialized.
	ExceptionAt(ctx context.Context, routineID int64, at time.Time) (*Occurrence, error)

	ExceptionsByRoutine(ctx context.Context, routineID int64) ([]Occurrence, error)

	// RescheduleBySource returns the reschedule whose source is the given
	// exception, or an ErrNotFound-classified error.
	RescheduleBySource(ctx context.Context, sourceID int64) (*Reschedule, error)
}

// Writer persists engine outputs. Each method is one atomic unit.
type Writer interface {
	CreateRoutine(ctx context.Context, r *Routine) error

	// ReplaceRoutine applies a non-destructive version bump: the superseded
	// routine with its new status event, the replacement routine and the
	// version link, all or nothing.
	ReplaceRoutine(ctx context.Context, old, replacement *Routine, link *RoutineVersion) error

	UpdateRoutineStatus(ctx context.Context, r *Routine) error

	// SaveException persists a materialized occurrence and its status events.
	SaveException(ctx context.Context, occ *Occurrence) error

	// SaveReschedule persists the source, the moved occurrence and the link
	// as one transaction.
	SaveReschedule(ctx context.Context, rs *Reschedule) error
}

// Store is the full persistence surface the API layer composes with the
// engine's pure functions.
type Store interface {
	RoutineStore
	ExceptionStore
	Writer
}
