package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetStatusMaterializesLazily(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00", "12:00")
	now := mustTime("2023-03-01T12:30:00Z")

	occ, err := SetStatus(r, nil, mustTime("2023-03-01T12:00:00Z"), DoseConfirmed, now)
	require.NoError(t, err)

	assert.Equal(t, 2, occ.Quantity)
	assert.Equal(t, DoseConfirmed, occ.Status)
	require.Len(t, occ.StatusEvents, 1)
	assert.Equal(t, DoseConfirmed, occ.StatusEvents[0].Status)
	assert.Equal(t, now, occ.StatusEvents[0].At)
	require.NotNil(t, occ.ConfirmedAt)
	assert.Equal(t, now, *occ.ConfirmedAt)
}

func TestSetStatusCancelDoesNotStampConfirmedAt(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00")
	occ, err := SetStatus(r, nil, mustTime("2023-03-01T12:00:00Z"), DoseCanceled, mustTime("2023-03-01T13:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, DoseCanceled, occ.Status)
	assert.Nil(t, occ.ConfirmedAt)
}

func TestSetStatusRejectsUnscheduledInstant(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00")
	_, err := SetStatus(r, nil, mustTime("2023-03-02T12:00:00Z"), DoseCanceled, mustTime("2023-03-02T12:00:00Z"))
	require.ErrorIs(t, err, ErrNoScheduledDose)
}

func TestSetStatusDisallowedTargets(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00")
	at := mustTime("2023-03-01T12:00:00Z")
	now := mustTime("2023-03-01T12:30:00Z")

	for _, status := range []DoseStatus{DosePending, DoseRescheduled, DoseDeviceConfirmed, DoseStatus("loaded")} {
		_, err := SetStatus(r, nil, at, status, now)
		require.ErrorIs(t, err, ErrIllegalTransition, "status %s must not be settable directly", status)
	}
}

func TestSetStatusRejectsNonPendingSource(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00")
	at := mustTime("2023-03-01T12:00:00Z")
	now := mustTime("2023-03-01T12:30:00Z")

	confirmed, err := SetStatus(r, nil, at, DoseConfirmed, now)
	require.NoError(t, err)

	_, err = SetStatus(r, confirmed, at, DoseCanceled, now.Add(time.Minute))
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSetStatusDoesNotMutateExisting(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00")
	at := mustTime("2023-03-01T12:00:00Z")
	existing := Occurrence{
		ID: 4, RoutineID: 1, RoutineKey: r.Key, At: at, Quantity: 1,
		Status:       DosePending,
		StatusEvents: []DoseStatusEvent{{Status: DosePending, At: at}},
	}

	updated, err := SetStatus(r, &existing, at, DoseCanceled, mustTime("2023-03-01T13:00:00Z"))
	require.NoError(t, err)

	assert.Equal(t, DosePending, existing.Status)
	assert.Len(t, existing.StatusEvents, 1)
	assert.Equal(t, DoseCanceled, updated.Status)
	assert.Len(t, updated.StatusEvents, 2)
}

func TestRescheduleHappyPath(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00", "12:00")
	sourceAt := mustTime("2023-03-01T12:00:00Z")
	targetAt := mustTime("2023-03-02T15:00:00Z") // off-cycle day, quantity 0
	now := mustTime("2023-03-01T11:00:00Z")

	rs, err := NewReschedule(r, nil, false, sourceAt, targetAt, now)
	require.NoError(t, err)

	assert.Equal(t, DoseRescheduled, rs.Source.Status)
	assert.Equal(t, sourceAt, rs.Source.At)
	require.Len(t, rs.Source.StatusEvents, 1)
	assert.Equal(t, DoseRescheduled, rs.Source.StatusEvents[0].Status)

	assert.Equal(t, DosePending, rs.Moved.Status)
	assert.Equal(t, targetAt, rs.Moved.At)
	assert.Equal(t, rs.Source.Quantity, rs.Moved.Quantity)
	require.Len(t, rs.Moved.StatusEvents, 1)
	assert.Equal(t, DosePending, rs.Moved.StatusEvents[0].Status)
}

func TestRescheduleTargetOnNaturalDoseConflicts(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00")
	_, err := NewReschedule(r, nil, false,
		mustTime("2023-03-01T12:00:00Z"), mustTime("2023-03-03T12:00:00Z"), mustTime("2023-03-01T11:00:00Z"))
	require.ErrorIs(t, err, ErrConflict)
}

func TestRescheduleTargetWithExistingExceptionConflicts(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00")
	_, err := NewReschedule(r, nil, true,
		mustTime("2023-03-01T12:00:00Z"), mustTime("2023-03-02T15:00:00Z"), mustTime("2023-03-01T11:00:00Z"))
	require.ErrorIs(t, err, ErrConflict)
}

func TestRescheduleUnscheduledSourceFails(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00")
	_, err := NewReschedule(r, nil, false,
		mustTime("2023-03-02T12:00:00Z"), mustTime("2023-03-02T15:00:00Z"), mustTime("2023-03-01T11:00:00Z"))
	require.ErrorIs(t, err, ErrNoScheduledDose)
}

func TestRescheduleNonPendingSourceFails(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00")
	sourceAt := mustTime("2023-03-01T12:00:00Z")
	now := mustTime("2023-03-01T11:00:00Z")

	first, err := NewReschedule(r, nil, false, sourceAt, mustTime("2023-03-02T15:00:00Z"), now)
	require.NoError(t, err)

	// A second reschedule of the now-rescheduled source must fail.
	_, err = NewReschedule(r, &first.Source, false, sourceAt, mustTime("2023-03-02T16:00:00Z"), now)
	require.ErrorIs(t, err, ErrIllegalTransition)

	for _, status := range []DoseStatus{DoseCanceled, DoseConfirmed, DoseDeviceConfirmed} {
		src := first.Source
		src.Status = status
		_, err := NewReschedule(r, &src, false, sourceAt, mustTime("2023-03-02T16:00:00Z"), now)
		require.ErrorIs(t, err, ErrIllegalTransition, "source status %s", status)
	}
}

func TestConfirmDeviceStampsReportedInstant(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00")
	at := mustTime("2023-03-01T12:00:00Z")
	reported := mustTime("2023-03-01T12:03:00Z")
	now := mustTime("2023-03-01T12:05:00Z")

	occ, err := ConfirmDevice(r, nil, at, reported, now)
	require.NoError(t, err)

	assert.Equal(t, DoseDeviceConfirmed, occ.Status)
	require.NotNil(t, occ.ConfirmedAt)
	assert.Equal(t, reported, *occ.ConfirmedAt)
	require.Len(t, occ.StatusEvents, 1)
	assert.Equal(t, now, occ.StatusEvents[0].At)
}

func TestConfirmDeviceRejectsNonPending(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00")
	at := mustTime("2023-03-01T12:00:00Z")
	now := mustTime("2023-03-01T12:05:00Z")

	canceled, err := SetStatus(r, nil, at, DoseCanceled, now)
	require.NoError(t, err)

	_, err = ConfirmDevice(r, canceled, at, now, now)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestConfirmDeviceRejectsUnscheduledInstant(t *testing.T) {
	r := periodicRoutine(1, "2023-03-01T00:00:00Z", 2, "12:00")
	now := mustTime("2023-03-01T12:05:00Z")

	_, err := ConfirmDevice(r, nil, mustTime("2023-03-01T13:00:00Z"), now, now)
	require.ErrorIs(t, err, ErrNoScheduledDose)
}
