package schedule

import (
	"encoding/json"
	"time"
)

// Shared fixtures for the engine tests.

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func periodicRoutine(id int64, start string, periodInDays int, times ...string) *Routine {
	data, _ := json.Marshal(map[string]any{
		"periodInDays": periodInDays,
		"pillsTimes":   times,
	})
	return &Routine{
		ID:         id,
		Key:        "routine-" + string(rune('a'+id)),
		ProfileKey: "profile-1",
		Name:       "vitamin d",
		Kind:       KindDayPeriod,
		RuleData:   data,
		Start:      mustTime(start),
		Status:     RoutineActive,
		StatusEvents: []RoutineStatusEvent{
			{Status: RoutineActive, At: mustTime(start)},
		},
	}
}

func weekdayRoutine(id int64, start string, days map[string][]string) *Routine {
	data, _ := json.Marshal(days)
	return &Routine{
		ID:         id,
		Key:        "routine-" + string(rune('a'+id)),
		ProfileKey: "profile-1",
		Name:       "ibuprofen",
		Kind:       KindWeekdays,
		RuleData:   data,
		Start:      mustTime(start),
		Status:     RoutineActive,
		StatusEvents: []RoutineStatusEvent{
			{Status: RoutineActive, At: mustTime(start)},
		},
	}
}

func mustRule(r *Routine) Rule {
	rule, err := RuleFor(r.Kind, r.RuleData)
	if err != nil {
		panic(err)
	}
	return rule
}
