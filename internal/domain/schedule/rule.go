package schedule

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"time"
)

// Kind discriminates the closed set of recurrence rule variants.
type Kind string

const (
	KindWeekdays  Kind = "weekdays"
	KindDayPeriod Kind = "dayPeriod"
)

// timePattern matches 24-hour "HH:MM" strings.
var timePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Rule is the capability set shared by all recurrence variants.
//
// QuantityAt counts how many doses the routine schedules at an exact instant;
// zero means the instant is not a scheduled dose. OccurrencesBetween
// enumerates virtual occurrences in [from, to] inclusive, strictly ascending,
// never zero-quantity, with the range gate applied per pre-collapse instant.
type Rule interface {
	Kind() Kind
	QuantityAt(r *Routine, at time.Time) int
	OccurrencesBetween(r *Routine, from, to time.Time) []Occurrence
}

// RuleFor decodes and validates the rule payload for the given kind.
func RuleFor(kind Kind, data json.RawMessage) (Rule, error) {
	switch kind {
	case KindWeekdays:
		return parseWeekdayRule(data)
	case KindDayPeriod:
		return parsePeriodicRule(data)
	default:
		return nil, &SchemaError{Kind: kind, Field: "kind", Detail: "unknown routine kind"}
	}
}

// ValidateRuleData checks a rule payload without building anything else.
func ValidateRuleData(kind Kind, data json.RawMessage) error {
	_, err := RuleFor(kind, data)
	return err
}

// decodeStrict unmarshals into v rejecting unknown fields, so a disallowed
// extra key surfaces as a schema error rather than silently dropping.
func decodeStrict(data json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// countMatches counts entries equal to the instant's "HH:MM". Duplicate
// entries deliberately increment the count: listing "12:00" twice means two
// pills at noon.
func countMatches(times []string, at time.Time) int {
	hm := HourMinute(at)
	n := 0
	for _, t := range times {
		if t == hm {
			n++
		}
	}
	return n
}

// dayOccurrences builds the gated, collapsed occurrences for one calendar day
// of a routine. Instants excluded by the gate or outside [from, to] are
// dropped before collapsing, so they never contribute to quantity. Identical
// consecutive instants collapse into a single occurrence whose quantity is
// the run length.
func dayOccurrences(r *Routine, day time.Time, times []string, from, to time.Time) []Occurrence {
	instants := make([]time.Time, 0, len(times))
	for _, hhmm := range times {
		at := atTime(day, hhmm)
		if at.Before(from) || at.After(to) {
			continue
		}
		if !effective(r, at) {
			continue
		}
		instants = append(instants, at)
	}
	if len(instants) == 0 {
		return nil
	}
	sort.Slice(instants, func(i, j int) bool { return instants[i].Before(instants[j]) })

	var out []Occurrence
	for _, at := range instants {
		if n := len(out); n > 0 && out[n-1].At.Equal(at) {
			out[n-1].Quantity++
			continue
		}
		out = append(out, Occurrence{
			RoutineID:  r.ID,
			RoutineKey: r.Key,
			At:         at,
			Quantity:   1,
			Status:     DosePending,
		})
	}
	return out
}
