package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoutineStatus is the lifecycle status of a routine definition.
type RoutineStatus string

const (
	RoutineActive   RoutineStatus = "active"
	RoutineUpdated  RoutineStatus = "updated"
	RoutineCanceled RoutineStatus = "canceled"
)

// RoutineStatusEvent records one lifecycle transition. The event list is
// append-only and its insertion order is significant.
type RoutineStatusEvent struct {
	Status RoutineStatus
	At     time.Time
}

// Routine is one version of a recurring medication schedule. Versions are
// never mutated in place: an update marks the old version RoutineUpdated and
// creates a brand-new Routine linked through a RoutineVersion record.
type Routine struct {
	ID         int64  // internal ordering key, assigned by storage
	Key        string // stable external id
	ProfileKey string
	Name       string
	Kind       Kind
	RuleData   json.RawMessage
	Start      time.Time
	Expiration *time.Time
	Status     RoutineStatus
	StatusEvents []RoutineStatusEvent
}

// RoutineVersion links a superseded routine version to its replacement.
type RoutineVersion struct {
	OldKey string
	NewKey string
}

// NewRoutine builds an active routine with validated rule data and an initial
// status event. The returned routine has no storage identity yet.
func NewRoutine(profileKey, name string, kind Kind, data json.RawMessage, start time.Time, expiration *time.Time, now time.Time) (*Routine, error) {
	if err := ValidateRuleData(kind, data); err != nil {
		return nil, err
	}
	start = AtMinute(start)
	if expiration != nil {
		e := AtMinute(*expiration)
		if e.Before(start) {
			return nil, fmt.Errorf("%w: expiration precedes start", ErrSchema)
		}
		expiration = &e
	}

	return &Routine{
		Key:        uuid.New().String(),
		ProfileKey: profileKey,
		Name:       name,
		Kind:       kind,
		RuleData:   data,
		Start:      start,
		Expiration: expiration,
		Status:     RoutineActive,
		StatusEvents: []RoutineStatusEvent{
			{Status: RoutineActive, At: AtMinute(now)},
		},
	}, nil
}

// NewVersion supersedes the routine with fresh rule data. It returns the old
// version carrying its RoutineUpdated event, the replacement routine and the
// version link. The three must be persisted as one atomic unit.
func (r *Routine) NewVersion(name string, kind Kind, data json.RawMessage, start time.Time, expiration *time.Time, now time.Time) (*Routine, *Routine, *RoutineVersion, error) {
	if r.Status != RoutineActive {
		return nil, nil, nil, &IllegalTransitionError{From: string(r.Status), To: string(RoutineUpdated)}
	}
	replacement, err := NewRoutine(r.ProfileKey, name, kind, data, start, expiration, now)
	if err != nil {
		return nil, nil, nil, err
	}

	old := r.withStatus(RoutineUpdated, AtMinute(now))
	link := &RoutineVersion{OldKey: old.Key, NewKey: replacement.Key}
	return old, replacement, link, nil
}

// Cancel marks the routine canceled, appending the status event that the
// range gate uses to truncate future virtual occurrences.
func (r *Routine) Cancel(now time.Time) (*Routine, error) {
	if r.Status != RoutineActive {
		return nil, &IllegalTransitionError{From: string(r.Status), To: string(RoutineCanceled)}
	}
	return r.withStatus(RoutineCanceled, AtMinute(now)), nil
}

// withStatus returns a copy with the new status and a rebuilt event list.
// Events are copied, not aliased, so persisted snapshots never share slices
// with the in-memory routine.
func (r *Routine) withStatus(status RoutineStatus, at time.Time) *Routine {
	out := *r
	out.Status = status
	out.StatusEvents = make([]RoutineStatusEvent, len(r.StatusEvents), len(r.StatusEvents)+1)
	copy(out.StatusEvents, r.StatusEvents)
	out.StatusEvents = append(out.StatusEvents, RoutineStatusEvent{Status: status, At: at})
	return &out
}

// statusEventAt returns the instant of the first status event matching the
// routine's current status, if any.
func (r *Routine) statusEventAt(status RoutineStatus) (time.Time, bool) {
	for _, ev := range r.StatusEvents {
		if ev.Status == status {
			return ev.At, true
		}
	}
	return time.Time{}, false
}
