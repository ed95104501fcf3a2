package schedule

import (
	"encoding/json"
	"time"
)

// weekdayTimes is the wire shape of a weekdays rule payload: a mapping from
// weekday name to "HH:MM" dose times. The field set is closed; unknown keys
// fail decoding.
type weekdayTimes struct {
	Monday    []string `json:"monday,omitempty"`
	Tuesday   []string `json:"tuesday,omitempty"`
	Wednesday []string `json:"wednesday,omitempty"`
	Thursday  []string `json:"thursday,omitempty"`
	Friday    []string `json:"friday,omitempty"`
	Saturday  []string `json:"saturday,omitempty"`
	Sunday    []string `json:"sunday,omitempty"`
}

// WeekdayRule schedules doses at fixed times on named weekdays.
type WeekdayRule struct {
	days weekdayTimes
}

func parseWeekdayRule(data json.RawMessage) (*WeekdayRule, error) {
	var days weekdayTimes
	if err := decodeStrict(data, &days); err != nil {
		return nil, &SchemaError{Kind: KindWeekdays, Field: "routineData", Detail: err.Error()}
	}

	present := 0
	for _, d := range []struct {
		name  string
		times []string
	}{
		{"monday", days.Monday},
		{"tuesday", days.Tuesday},
		{"wednesday", days.Wednesday},
		{"thursday", days.Thursday},
		{"friday", days.Friday},
		{"saturday", days.Saturday},
		{"sunday", days.Sunday},
	} {
		if d.times == nil {
			continue
		}
		present++
		if len(d.times) == 0 {
			return nil, &SchemaError{Kind: KindWeekdays, Field: d.name, Detail: "time list must not be empty"}
		}
		for _, t := range d.times {
			if !timePattern.MatchString(t) {
				return nil, &SchemaError{Kind: KindWeekdays, Field: d.name, Detail: "time " + t + " does not match HH:MM"}
			}
		}
	}
	// Distinct from a schema failure: the shape is fine, there is just
	// nothing scheduled.
	if present == 0 {
		return nil, &RoutineConfigError{Kind: KindWeekdays, Detail: "needs at least one day"}
	}

	return &WeekdayRule{days: days}, nil
}

// Kind implements Rule.
func (w *WeekdayRule) Kind() Kind { return KindWeekdays }

// timesFor returns the configured dose times for a weekday name, nil if the
// day is not scheduled.
func (w *WeekdayRule) timesFor(weekday string) []string {
	switch weekday {
	case "monday":
		return w.days.Monday
	case "tuesday":
		return w.days.Tuesday
	case "wednesday":
		return w.days.Wednesday
	case "thursday":
		return w.days.Thursday
	case "friday":
		return w.days.Friday
	case "saturday":
		return w.days.Saturday
	case "sunday":
		return w.days.Sunday
	default:
		return nil
	}
}

// QuantityAt implements Rule.
func (w *WeekdayRule) QuantityAt(r *Routine, at time.Time) int {
	return countMatches(w.timesFor(WeekdayName(at)), at)
}

// OccurrencesBetween implements Rule. Every calendar day in the range is
// visited; days without a configured weekday entry are skipped.
func (w *WeekdayRule) OccurrencesBetween(r *Routine, from, to time.Time) []Occurrence {
	var out []Occurrence
	for day := DayOf(from); !day.After(DayOf(to)); day = day.AddDate(0, 0, 1) {
		times := w.timesFor(WeekdayName(day))
		if len(times) == 0 {
			continue
		}
		out = append(out, dayOccurrences(r, day, times, from, to)...)
	}
	return out
}
