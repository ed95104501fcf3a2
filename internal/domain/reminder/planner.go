// Package reminder plans dose reminders over the reconciled occurrence
// stream. A reminder is emitted for every dose that is still pending inside
// the look-ahead window; doses already confirmed, canceled or rescheduled
// produce nothing.
package reminder

import (
	"sort"
	"time"

	"github.com/pillwise/dose-engine/internal/domain/schedule"
)

// Reminder is one dose-due notification to dispatch.
type Reminder struct {
	ProfileKey  string    `json:"profile_key"`
	RoutineKey  string    `json:"routine_key"`
	RoutineName string    `json:"routine_name"`
	DoseAt      time.Time `json:"dose_at"`
	Quantity    int       `json:"quantity"`
}

// Plan merges the routines against their exceptions and selects the pending
// doses with instants in [from, until]. Routines and exceptions carry the
// same contracts as schedule.MergeRange; output is ascending by instant.
func Plan(routines []*schedule.Routine, exceptions []schedule.Occurrence, from, until time.Time) ([]Reminder, error) {
	merged, err := schedule.MergeRange(routines, exceptions, schedule.DayOf(from), schedule.DayOf(until))
	if err != nil {
		return nil, err
	}

	names := make(map[int64]*schedule.Routine, len(routines))
	for _, r := range routines {
		names[r.ID] = r
	}

	var out []Reminder
	for _, occ := range merged {
		if occ.Status != schedule.DosePending {
			continue
		}
		if occ.At.Before(from) || occ.At.After(until) {
			continue
		}
		r := names[occ.RoutineID]
		if r == nil {
			continue
		}
		out = append(out, Reminder{
			ProfileKey:  r.ProfileKey,
			RoutineKey:  occ.RoutineKey,
			RoutineName: r.Name,
			DoseAt:      occ.At,
			Quantity:    occ.Quantity,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DoseAt.Before(out[j].DoseAt) })
	return out, nil
}
