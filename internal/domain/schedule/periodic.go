package schedule

import (
	"encoding/json"
	"time"
)

// periodicTimes is the wire shape of a dayPeriod rule payload.
type periodicTimes struct {
	PeriodInDays *int     `json:"periodInDays"`
	PillsTimes   []string `json:"pillsTimes"`
}

// PeriodicRule schedules doses every periodInDays days counted from the
// routine's start date. A period of zero degenerates to the start date only.
type PeriodicRule struct {
	periodInDays int
	pillsTimes   []string
}

func parsePeriodicRule(data json.RawMessage) (*PeriodicRule, error) {
	var p periodicTimes
	if err := decodeStrict(data, &p); err != nil {
		return nil, &SchemaError{Kind: KindDayPeriod, Field: "routineData", Detail: err.Error()}
	}
	if p.PeriodInDays == nil {
		return nil, &SchemaError{Kind: KindDayPeriod, Field: "periodInDays", Detail: "required"}
	}
	if *p.PeriodInDays < 0 {
		return nil, &SchemaError{Kind: KindDayPeriod, Field: "periodInDays", Detail: "must not be negative"}
	}
	if len(p.PillsTimes) == 0 {
		return nil, &SchemaError{Kind: KindDayPeriod, Field: "pillsTimes", Detail: "time list must not be empty"}
	}
	for _, t := range p.PillsTimes {
		if !timePattern.MatchString(t) {
			return nil, &SchemaError{Kind: KindDayPeriod, Field: "pillsTimes", Detail: "time " + t + " does not match HH:MM"}
		}
	}
	return &PeriodicRule{periodInDays: *p.PeriodInDays, pillsTimes: p.PillsTimes}, nil
}

// Kind implements Rule.
func (p *PeriodicRule) Kind() Kind { return KindDayPeriod }

// onCycle reports whether the day offset from the routine start lands on the
// period. Offsets before the start day never do.
func (p *PeriodicRule) onCycle(r *Routine, at time.Time) bool {
	d := DaysBetween(r.Start, at)
	if d < 0 {
		return false
	}
	if p.periodInDays == 0 {
		return d == 0
	}
	return d%p.periodInDays == 0
}

// QuantityAt implements Rule.
func (p *PeriodicRule) QuantityAt(r *Routine, at time.Time) int {
	if !p.onCycle(r, at) {
		return 0
	}
	return countMatches(p.pillsTimes, at)
}

// OccurrencesBetween implements Rule. The first candidate day is the earliest
// day on or after max(from, start) congruent to the start day modulo the
// period; candidates then step by the period until past the range end.
func (p *PeriodicRule) OccurrencesBetween(r *Routine, from, to time.Time) []Occurrence {
	start := DayOf(r.Start)
	first := DayOf(from)
	if first.Before(start) {
		first = start
	}

	var step int
	switch {
	case p.periodInDays == 0:
		// Single candidate: the start day itself.
		if start.Before(DayOf(from)) || start.After(DayOf(to)) {
			return nil
		}
		first, step = start, 0
	default:
		step = p.periodInDays
		if rem := DaysBetween(start, first) % step; rem != 0 {
			first = first.AddDate(0, 0, step-rem)
		}
	}

	var out []Occurrence
	for day := first; !day.After(DayOf(to)); day = day.AddDate(0, 0, step) {
		out = append(out, dayOccurrences(r, day, p.pillsTimes, from, to)...)
		if step == 0 {
			break
		}
	}
	return out
}
