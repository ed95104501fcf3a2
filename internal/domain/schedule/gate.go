package schedule

import "time"

// effective is the range gate: it decides whether a candidate instant falls
// inside the routine's currently-effective validity window. Applied to every
// virtual occurrence before it is emitted, for point queries and enumeration
// alike.
//
// An updated or canceled routine stops producing doses at instants on or
// after its own status event: the edit retroactively truncates the virtual
// future without deleting history. Exceptions materialized before the edit
// stay visible because they come from storage, not from this gate.
func effective(r *Routine, at time.Time) bool {
	if at.Before(r.Start) {
		return false
	}
	if r.Expiration != nil && at.After(*r.Expiration) {
		return false
	}
	if r.Status == RoutineUpdated || r.Status == RoutineCanceled {
		// Instants at or after the stopping event are suppressed.
		if stopped, ok := r.statusEventAt(r.Status); ok && !at.Before(stopped) {
			return false
		}
	}
	return true
}
