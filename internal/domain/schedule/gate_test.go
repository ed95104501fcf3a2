package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateStartBound(t *testing.T) {
	r := periodicRoutine(1, "2023-03-10T08:00:00Z", 1, "06:00", "12:00")
	rule := mustRule(r)

	got := rule.OccurrencesBetween(r, day("2023-03-08"), mustTime("2023-03-11T23:59:00Z"))
	for _, occ := range got {
		assert.False(t, occ.At.Before(r.Start), "no occurrence before start, got %s", occ.At)
	}
	// The 06:00 dose on the start day precedes the 08:00 start instant.
	require.Len(t, got, 3)
	assert.Equal(t, mustTime("2023-03-10T12:00:00Z"), got[0].At)
}

func TestGateExpirationBound(t *testing.T) {
	exp := mustTime("2023-03-05T12:00:00Z")
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 1, "09:00", "18:00")
	r.Expiration = &exp
	rule := mustRule(r)

	got := rule.OccurrencesBetween(r, day("2023-03-01"), mustTime("2023-03-10T23:59:00Z"))
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, mustTime("2023-03-05T09:00:00Z"), last.At)
	for _, occ := range got {
		assert.False(t, occ.At.After(exp))
	}
}

func TestGateRetroactiveTruncation(t *testing.T) {
	stop := mustTime("2023-03-04T10:00:00Z")
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 1, "09:00", "18:00")
	canceled, err := r.Cancel(stop)
	require.NoError(t, err)
	rule := mustRule(canceled)

	got := rule.OccurrencesBetween(canceled, day("2023-03-01"), mustTime("2023-03-10T23:59:00Z"))
	require.NotEmpty(t, got)
	for _, occ := range got {
		assert.True(t, occ.At.Before(stop), "instants at or after the stop event must be suppressed, got %s", occ.At)
	}
	// 03-04 09:00 survives, 03-04 18:00 does not.
	last := got[len(got)-1]
	assert.Equal(t, mustTime("2023-03-04T09:00:00Z"), last.At)
}

func TestGateUpdatedRoutineTruncates(t *testing.T) {
	r := weekdayRoutine(1, "2023-03-01T00:00:00Z", map[string][]string{"monday": {"08:00"}})
	stop := mustTime("2023-03-10T00:00:00Z")
	old, replacement, link, err := r.NewVersion("ibuprofen 2x", KindWeekdays,
		[]byte(`{"monday":["08:00","20:00"]}`), mustTime("2023-03-10T00:00:00Z"), nil, stop)
	require.NoError(t, err)
	require.Equal(t, RoutineUpdated, old.Status)
	require.Equal(t, RoutineActive, replacement.Status)
	require.Equal(t, old.Key, link.OldKey)
	require.Equal(t, replacement.Key, link.NewKey)

	rule := mustRule(old)
	got := rule.OccurrencesBetween(old, day("2023-03-01"), mustTime("2023-03-31T23:59:00Z"))
	for _, occ := range got {
		assert.True(t, occ.At.Before(stop))
	}
}

func TestCancelRequiresActive(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 1, "09:00")
	canceled, err := r.Cancel(mustTime("2023-03-02T00:00:00Z"))
	require.NoError(t, err)

	_, err = canceled.Cancel(mustTime("2023-03-03T00:00:00Z"))
	require.ErrorIs(t, err, ErrIllegalTransition)

	_, _, _, err = canceled.NewVersion("x", KindDayPeriod,
		[]byte(`{"periodInDays":1,"pillsTimes":["09:00"]}`), mustTime("2023-03-03T00:00:00Z"), nil, mustTime("2023-03-03T00:00:00Z"))
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestStatusEventListsDoNotAlias(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 1, "09:00")
	before := len(r.StatusEvents)

	canceled, err := r.Cancel(mustTime("2023-03-02T00:00:00Z"))
	require.NoError(t, err)

	assert.Len(t, r.StatusEvents, before, "original event list must be untouched")
	assert.Len(t, canceled.StatusEvents, before+1)
	assert.Equal(t, RoutineActive, r.Status)
}
