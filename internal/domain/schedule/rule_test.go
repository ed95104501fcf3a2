package schedule

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWeekdayRuleData(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"valid single day", `{"monday":["08:00","20:00"]}`, nil},
		{"valid all days", `{"monday":["08:00"],"tuesday":["08:00"],"wednesday":["08:00"],"thursday":["08:00"],"friday":["08:00"],"saturday":["08:00"],"sunday":["08:00"]}`, nil},
		{"zero days is a config error", `{}`, ErrRoutineConfig},
		{"malformed time is a schema error", `{"monday":["25:00"]}`, ErrSchema},
		{"bad minutes", `{"monday":["08:61"]}`, ErrSchema},
		{"missing zero padding", `{"monday":["8:00"]}`, ErrSchema},
		{"empty day list", `{"monday":[]}`, ErrSchema},
		{"unknown key", `{"funday":["08:00"]}`, ErrSchema},
		{"wrong value type", `{"monday":"08:00"}`, ErrSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRuleData(KindWeekdays, json.RawMessage(tt.data))
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsClientError(err))
		})
	}
}

func TestValidatePeriodicRuleData(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"valid", `{"periodInDays":2,"pillsTimes":["12:00"]}`, nil},
		{"zero period allowed", `{"periodInDays":0,"pillsTimes":["12:00"]}`, nil},
		{"duplicate times allowed", `{"periodInDays":1,"pillsTimes":["12:00","12:00"]}`, nil},
		{"negative period", `{"periodInDays":-1,"pillsTimes":["12:00"]}`, ErrSchema},
		{"missing period", `{"pillsTimes":["12:00"]}`, ErrSchema},
		{"empty times", `{"periodInDays":2,"pillsTimes":[]}`, ErrSchema},
		{"malformed time", `{"periodInDays":2,"pillsTimes":["noon"]}`, ErrSchema},
		{"unknown key", `{"periodInDays":2,"pillsTimes":["12:00"],"extra":1}`, ErrSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRuleData(KindDayPeriod, json.RawMessage(tt.data))
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateUnknownKind(t *testing.T) {
	err := ValidateRuleData(Kind("lunar"), json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrSchema)
}

func TestWeekdayZeroDaysDistinctFromSchemaError(t *testing.T) {
	configErr := ValidateRuleData(KindWeekdays, json.RawMessage(`{}`))
	schemaErr := ValidateRuleData(KindWeekdays, json.RawMessage(`{"monday":["25:00"]}`))

	require.ErrorIs(t, configErr, ErrRoutineConfig)
	assert.NotErrorIs(t, configErr, ErrSchema)
	require.ErrorIs(t, schemaErr, ErrSchema)
	assert.NotErrorIs(t, schemaErr, ErrRoutineConfig)
}

func TestPeriodicQuantityAt(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00", "13:30", "12:00")
	rule := mustRule(r)

	// Duplicate entries deliberately increment the count.
	assert.Equal(t, 2, rule.QuantityAt(r, mustTime("2023-03-01T12:00:00Z")))
	assert.Equal(t, 1, rule.QuantityAt(r, mustTime("2023-03-01T13:30:00Z")))
	assert.Equal(t, 2, rule.QuantityAt(r, mustTime("2023-03-03T12:00:00Z")))

	// Off-cycle day, wrong time, pre-start day.
	assert.Equal(t, 0, rule.QuantityAt(r, mustTime("2023-03-02T12:00:00Z")))
	assert.Equal(t, 0, rule.QuantityAt(r, mustTime("2023-03-03T12:01:00Z")))
	assert.Equal(t, 0, rule.QuantityAt(r, mustTime("2023-02-27T12:00:00Z")))
}

func TestPeriodicZeroPeriodQuantity(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 0, "09:00")
	rule := mustRule(r)

	assert.Equal(t, 1, rule.QuantityAt(r, mustTime("2023-03-01T09:00:00Z")))
	assert.Equal(t, 0, rule.QuantityAt(r, mustTime("2023-03-02T09:00:00Z")))
}

func TestWeekdayQuantityAt(t *testing.T) {
	// 2023-03-06 is a Monday.
	r := weekdayRoutine(1, "2023-03-01T00:00:00Z", map[string][]string{
		"monday": {"08:00", "08:00", "20:00"},
		"friday": {"12:00"},
	})
	rule := mustRule(r)

	assert.Equal(t, 2, rule.QuantityAt(r, mustTime("2023-03-06T08:00:00Z")))
	assert.Equal(t, 1, rule.QuantityAt(r, mustTime("2023-03-06T20:00:00Z")))
	assert.Equal(t, 1, rule.QuantityAt(r, mustTime("2023-03-10T12:00:00Z")))

	// Tuesday is not configured.
	assert.Equal(t, 0, rule.QuantityAt(r, mustTime("2023-03-07T08:00:00Z")))
}

func TestPeriodicEnumerationCollapsesQuantity(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00", "13:30", "12:00")
	rule := mustRule(r)

	got := rule.OccurrencesBetween(r, day("2023-03-01"), mustTime("2023-03-03T23:59:00Z"))
	require.Len(t, got, 4)

	assert.Equal(t, mustTime("2023-03-01T12:00:00Z"), got[0].At)
	assert.Equal(t, 2, got[0].Quantity)
	assert.Equal(t, mustTime("2023-03-01T13:30:00Z"), got[1].At)
	assert.Equal(t, 1, got[1].Quantity)
	assert.Equal(t, mustTime("2023-03-03T12:00:00Z"), got[2].At)
	assert.Equal(t, 2, got[2].Quantity)
	assert.Equal(t, mustTime("2023-03-03T13:30:00Z"), got[3].At)
	assert.Equal(t, 1, got[3].Quantity)

	for _, occ := range got {
		assert.Equal(t, DosePending, occ.Status)
		assert.Empty(t, occ.StatusEvents)
		assert.Zero(t, occ.ID)
	}
}

func TestEnumerationStrictlyAscending(t *testing.T) {
	r := weekdayRoutine(1, "2023-03-01T00:00:00Z", map[string][]string{
		"monday":    {"20:00", "08:00"},
		"wednesday": {"08:00"},
		"friday":    {"08:00", "08:00"},
	})
	rule := mustRule(r)

	got := rule.OccurrencesBetween(r, day("2023-03-01"), mustTime("2023-03-31T23:59:00Z"))
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].At.Before(got[i].At), "occurrences must be strictly ascending")
	}
	for _, occ := range got {
		assert.Greater(t, occ.Quantity, 0)
	}
}

func TestPeriodicFirstCandidateAlignment(t *testing.T) {
	// Start on 2023-03-01, period 3: cycle days are 01, 04, 07, 10...
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 3, "10:00")
	rule := mustRule(r)

	got := rule.OccurrencesBetween(r, day("2023-03-05"), mustTime("2023-03-11T23:59:00Z"))
	require.Len(t, got, 2)
	assert.Equal(t, mustTime("2023-03-07T10:00:00Z"), got[0].At)
	assert.Equal(t, mustTime("2023-03-10T10:00:00Z"), got[1].At)
}

func TestPeriodicZeroPeriodEnumeration(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 0, "09:00")
	rule := mustRule(r)

	got := rule.OccurrencesBetween(r, day("2023-02-25"), mustTime("2023-03-20T23:59:00Z"))
	require.Len(t, got, 1)
	assert.Equal(t, mustTime("2023-03-01T09:00:00Z"), got[0].At)

	assert.Empty(t, rule.OccurrencesBetween(r, day("2023-03-02"), mustTime("2023-03-20T23:59:00Z")))
}

func TestEnumerationRespectsInstantBounds(t *testing.T) {
	r := weekdayRoutine(1, "2023-03-01T00:00:00Z", map[string][]string{
		"monday": {"08:00", "20:00"},
	})
	rule := mustRule(r)

	// Range starts mid-Monday: the 08:00 dose is outside.
	got := rule.OccurrencesBetween(r, mustTime("2023-03-06T12:00:00Z"), mustTime("2023-03-06T23:59:00Z"))
	require.Len(t, got, 1)
	assert.Equal(t, mustTime("2023-03-06T20:00:00Z"), got[0].At)
}
