package schedule

import "time"

// settableStatuses are the only targets of a plain status update. Pending and
// rescheduled are never set directly; rescheduled is reachable only through
// Reschedule.
var settableStatuses = map[DoseStatus]bool{
	DoseCanceled:  true,
	DoseConfirmed: true,
}

// confirmedStatuses stamp ConfirmedAt when applied.
var confirmedStatuses = map[DoseStatus]bool{
	DoseConfirmed:       true,
	DoseDeviceConfirmed: true,
}

// materialize resolves the exception occurrence for an instant: the existing
// persisted exception when there is one, otherwise a fresh pending occurrence
// built from the virtual schedule. An instant whose computed quantity is zero
// is not a dose and fails.
func materialize(r *Routine, existing *Occurrence, at time.Time) (Occurrence, error) {
	if existing != nil {
		return *existing, nil
	}
	rule, err := RuleFor(r.Kind, r.RuleData)
	if err != nil {
		return Occurrence{}, err
	}
	quantity := rule.QuantityAt(r, at)
	if quantity == 0 {
		return Occurrence{}, &NoScheduledDoseError{RoutineKey: r.Key, At: at}
	}
	return Occurrence{
		RoutineID:  r.ID,
		RoutineKey: r.Key,
		At:         at,
		Quantity:   quantity,
		Status:     DosePending,
	}, nil
}

// SetStatus applies a plain status update to the dose at the given instant,
// lazily materializing the exception when none exists. existing is the
// persisted exception at that instant, nil when there is none. The returned
// occurrence is the exception to persist; nothing is mutated on failure.
func SetStatus(r *Routine, existing *Occurrence, at time.Time, status DoseStatus, now time.Time) (*Occurrence, error) {
	if !settableStatuses[status] {
		current := DosePending
		if existing != nil {
			current = existing.Status
		}
		return nil, &IllegalTransitionError{From: string(current), To: string(status)}
	}

	occ, err := materialize(r, existing, at)
	if err != nil {
		return nil, err
	}
	if occ.Status != DosePending {
		return nil, &IllegalTransitionError{From: string(occ.Status), To: string(status)}
	}

	occ = occ.withEvent(status, now)
	if confirmedStatuses[status] {
		stamped := now
		occ.ConfirmedAt = &stamped
	}
	return &occ, nil
}

// ConfirmDevice applies a dispenser-reported intake. Device confirmations
// come through the messaging pathway, not the plain update surface, so
// DoseDeviceConfirmed is reachable only here. confirmedAt is the intake
// instant the device reported, which stamps ConfirmedAt; now orders the
// status event.
func ConfirmDevice(r *Routine, existing *Occurrence, at time.Time, confirmedAt, now time.Time) (*Occurrence, error) {
	occ, err := materialize(r, existing, at)
	if err != nil {
		return nil, err
	}
	if occ.Status != DosePending {
		return nil, &IllegalTransitionError{From: string(occ.Status), To: string(DoseDeviceConfirmed)}
	}

	occ = occ.withEvent(DoseDeviceConfirmed, now)
	stamped := confirmedAt
	occ.ConfirmedAt = &stamped
	return &occ, nil
}

// Reschedule links a source occurrence, transitioned to DoseRescheduled, to
// the pending occurrence that replaces it at another instant. Both sides are
// created together and must be persisted as one atomic unit; a reschedule
// never exists with only one side materialized.
type Reschedule struct {
	ID     int64
	Source Occurrence
	Moved  Occurrence
}

// NewReschedule moves the pending dose at sourceAt to targetAt.
//
// source is the persisted exception at sourceAt (nil to materialize from the
// virtual schedule); targetTaken reports whether an exception already exists
// at targetAt. The target must not coincide with a naturally scheduled dose,
// and only a pending source may move. On any failure nothing is emitted for
// persistence.
func NewReschedule(r *Routine, source *Occurrence, targetTaken bool, sourceAt, targetAt, now time.Time) (*Reschedule, error) {
	rule, err := RuleFor(r.Kind, r.RuleData)
	if err != nil {
		return nil, err
	}
	if rule.QuantityAt(r, targetAt) != 0 {
		return nil, &ConflictError{RoutineKey: r.Key, At: targetAt, Reason: "naturally scheduled dose"}
	}
	if targetTaken {
		return nil, &ConflictError{RoutineKey: r.Key, At: targetAt, Reason: "existing exception"}
	}

	src, err := materialize(r, source, sourceAt)
	if err != nil {
		return nil, err
	}
	if src.Status != DosePending {
		return nil, &IllegalTransitionError{From: string(src.Status), To: string(DoseRescheduled)}
	}

	src = src.withEvent(DoseRescheduled, now)

	moved := Occurrence{
		RoutineID:  r.ID,
		RoutineKey: r.Key,
		At:         targetAt,
		Quantity:   src.Quantity,
		Status:     DosePending,
		StatusEvents: []DoseStatusEvent{
			{Status: DosePending, At: now},
		},
	}

	return &Reschedule{Source: src, Moved: moved}, nil
}
