package schedule

import (
	"sort"
	"time"
)

// MergeRange reconciles "what should happen" with "what actually happened":
// it merges the rule-generated virtual occurrences of the given routines with
// the persisted exceptions for the same range into one de-duplicated,
// status-resolved result.
//
// fromDate and toDate are inclusive calendar days; the effective instant
// range is [fromDate 00:00, toDate+1d 00:00). Exceptions must be pre-sorted
// ascending by (routineID, instant), the order the exception store returns.
// Output is ordered descending by (routineID, instant); callers must not rely
// on more than "every instant appears exactly once per routine".
//
// The merge is a two-stack drain: repeatedly pop the largest remaining
// element of either stack. On an identity-key tie the exception replaces the
// virtual occurrence, its status, quantity and events untouched.
func MergeRange(routines []*Routine, exceptions []Occurrence, fromDate, toDate time.Time) ([]Occurrence, error) {
	from := DayOf(fromDate)
	to := DayOf(toDate).AddDate(0, 0, 1).Add(-time.Minute)
	if to.Before(from) {
		return nil, nil
	}

	ordered := make([]*Routine, len(routines))
	copy(ordered, routines)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var virtual []Occurrence
	for _, r := range ordered {
		rule, err := RuleFor(r.Kind, r.RuleData)
		if err != nil {
			return nil, err
		}
		virtual = append(virtual, rule.OccurrencesBetween(r, from, to)...)
	}

	out := make([]Occurrence, 0, len(virtual)+len(exceptions))
	v, e := len(virtual)-1, len(exceptions)-1
	for v >= 0 || e >= 0 {
		switch {
		case e < 0:
			out = append(out, virtual[v])
			v--
		case v < 0:
			out = append(out, exceptions[e])
			e--
		case virtual[v].SameDose(exceptions[e]):
			// The persisted truth wins over the computed pending shape.
			out = append(out, exceptions[e])
			v--
			e--
		case virtual[v].after(exceptions[e]):
			out = append(out, virtual[v])
			v--
		default:
			out = append(out, exceptions[e])
			e--
		}
	}
	return out, nil
}
