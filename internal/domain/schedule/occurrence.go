package schedule

import "time"

// DoseStatus is the status of a single dose occurrence.
type DoseStatus string

const (
	DosePending         DoseStatus = "pending"
	DoseCanceled        DoseStatus = "canceled"
	DoseConfirmed       DoseStatus = "manuallyConfirmed"
	DoseDeviceConfirmed DoseStatus = "deviceConfirmed"
	DoseRescheduled     DoseStatus = "rescheduled"
)

// DoseStatusEvent records one status transition of an occurrence.
type DoseStatusEvent struct {
	Status DoseStatus
	At     time.Time
}

// Occurrence is one scheduled dose at a specific instant. Virtual occurrences
// are generated from a rule on the fly: always DosePending, no events, no
// storage identity. A materialized occurrence (an exception) has been
// persisted because its status diverged from the implicit default; it carries
// a nonzero ID once stored.
type Occurrence struct {
	ID           int64
	RoutineID    int64
	RoutineKey   string
	At           time.Time
	Quantity     int
	Status       DoseStatus
	StatusEvents []DoseStatusEvent
	ConfirmedAt  *time.Time
}

// SameDose reports whether two occurrences denote the same dose, i.e. share
// the (routine, instant) identity key.
func (o Occurrence) SameDose(other Occurrence) bool {
	return o.RoutineID == other.RoutineID && o.At.Equal(other.At)
}

// after orders occurrences by (routineID, instant), the drain order of the
// merge in merge.go.
func (o Occurrence) after(other Occurrence) bool {
	if o.RoutineID != other.RoutineID {
		return o.RoutineID > other.RoutineID
	}
	return o.At.After(other.At)
}

// withEvent returns a copy with the status applied and the event list rebuilt.
// Rebuilding instead of appending in place keeps persisted snapshots from
// aliasing the caller's slice.
func (o Occurrence) withEvent(status DoseStatus, at time.Time) Occurrence {
	out := o
	out.Status = status
	out.StatusEvents = make([]DoseStatusEvent, len(o.StatusEvents), len(o.StatusEvents)+1)
	copy(out.StatusEvents, o.StatusEvents)
	out.StatusEvents = append(out.StatusEvents, DoseStatusEvent{Status: status, At: at})
	return out
}
