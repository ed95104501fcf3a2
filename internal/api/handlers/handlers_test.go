package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pillwise/dose-engine/internal/domain/schedule"
	"github.com/pillwise/dose-engine/internal/observability/metrics"
)

// sharedMetrics is registered once per test binary; prometheus panics on
// duplicate registration.
var sharedMetrics = metrics.New()

// fakeStore is an in-memory schedule.Store.
type fakeStore struct {
	nextID      int64
	routines    []*schedule.Routine
	exceptions  []schedule.Occurrence
	reschedules []*schedule.Reschedule
}

func newFakeStore() *fakeStore { return &fakeStore{nextID: 1} }

func (s *fakeStore) RoutineByKey(_ context.Context, profileKey, routineKey string) (*schedule.Routine, error) {
	for _, r := range s.routines {
		if r.ProfileKey == profileKey && r.Key == routineKey {
			return r, nil
		}
	}
	return nil, fmt.Errorf("routine %s: %w", routineKey, schedule.ErrNotFound)
}

func (s *fakeStore) RoutinesByProfile(_ context.Context, profileKey string) ([]*schedule.Routine, error) {
	var out []*schedule.Routine
	for _, r := range s.routines {
		if r.ProfileKey == profileKey {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) ExceptionsInRange(_ context.Context, profileKey string, from, to time.Time) ([]schedule.Occurrence, error) {
	byRoutine := map[int64]bool{}
	for _, r := range s.routines {
		if r.ProfileKey == profileKey {
			byRoutine[r.ID] = true
		}
	}
	var out []schedule.Occurrence
	for _, o := range s.exceptions {
		if byRoutine[o.RoutineID] && !o.At.Before(from) && !o.At.After(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeStore) ExceptionAt(_ context.Context, routineID int64, at time.Time) (*schedule.Occurrence, error) {
	for i := range s.exceptions {
		if s.exceptions[i].RoutineID == routineID && s.exceptions[i].At.Equal(at) {
			occ := s.exceptions[i]
			return &occ, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ExceptionsByRoutine(_ context.Context, routineID int64) ([]schedule.Occurrence, error) {
	var out []schedule.Occurrence
	for _, o := range s.exceptions {
		if o.RoutineID == routineID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeStore) RescheduleBySource(_ context.Context, sourceID int64) (*schedule.Reschedule, error) {
	for _, rs := range s.reschedules {
		if rs.Source.ID == sourceID {
			return rs, nil
		}
	}
	return nil, fmt.Errorf("reschedule for exception %d: %w", sourceID, schedule.ErrNotFound)
}

func (s *fakeStore) CreateRoutine(_ context.Context, r *schedule.Routine) error {
	r.ID = s.nextID
	s.nextID++
	s.routines = append(s.routines, r)
	return nil
}

func (s *fakeStore) ReplaceRoutine(_ context.Context, old, replacement *schedule.Routine, _ *schedule.RoutineVersion) error {
	for i, r := range s.routines {
		if r.Key == old.Key {
			s.routines[i] = old
		}
	}
	replacement.ID = s.nextID
	s.nextID++
	s.routines = append(s.routines, replacement)
	return nil
}

func (s *fakeStore) UpdateRoutineStatus(_ context.Context, r *schedule.Routine) error {
	for i, existing := range s.routines {
		if existing.Key == r.Key {
			s.routines[i] = r
		}
	}
	return nil
}

func (s *fakeStore) SaveException(_ context.Context, occ *schedule.Occurrence) error {
	for i := range s.exceptions {
		if s.exceptions[i].RoutineID == occ.RoutineID && s.exceptions[i].At.Equal(occ.At) {
			s.exceptions[i] = *occ
			return nil
		}
	}
	occ.ID = s.nextID
	s.nextID++
	s.exceptions = append(s.exceptions, *occ)
	return nil
}

func (s *fakeStore) SaveReschedule(_ context.Context, rs *schedule.Reschedule) error {
	if err := s.SaveException(context.Background(), &rs.Source); err != nil {
		return err
	}
	if err := s.SaveException(context.Background(), &rs.Moved); err != nil {
		return err
	}
	s.reschedules = append(s.reschedules, rs)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	logger := zap.NewNop()
	router := Router(
		NewRoutineHandler(store, sharedMetrics, logger),
		NewDoseHandler(store, sharedMetrics, logger),
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createPeriodicRoutine(t *testing.T, srv *httptest.Server) routineDTO {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/profiles/p1/routines", RoutineRequest{
		Name:     "vitamin d",
		Kind:     "dayPeriod",
		RuleData: json.RawMessage(`{"periodInDays":1,"pillsTimes":["08:00","20:00"]}`),
		Start:    "2023-03-01T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[routineDTO](t, resp)
}

func TestCreateRoutineAndFeed(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createPeriodicRoutine(t, srv)
	assert.NotEmpty(t, created.Key)
	assert.Equal(t, "active", created.Status)

	resp := doJSON(t, http.MethodGet, srv.URL+"/profiles/p1/doses?from=2023-03-01&to=2023-03-02", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	feed := decode[[]doseDTO](t, resp)

	// Two doses per day over two inclusive days.
	require.Len(t, feed, 4)
	for _, d := range feed {
		assert.Equal(t, "pending", d.Status)
		assert.Equal(t, 1, d.Quantity)
	}
}

func TestCreateRoutineRejectsBadRuleData(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/profiles/p1/routines", RoutineRequest{
		Name:     "bad",
		Kind:     "dayPeriod",
		RuleData: json.RawMessage(`{"pillsTimes":["8:00"]}`),
		Start:    "2023-03-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateStatusMaterializesException(t *testing.T) {
	srv, store := newTestServer(t)
	created := createPeriodicRoutine(t, srv)

	resp := doJSON(t, http.MethodPatch,
		srv.URL+"/profiles/p1/routines/"+created.Key+"/doses",
		StatusRequest{DoseAt: "2023-03-01T08:00:00Z", Status: "manuallyConfirmed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dose := decode[doseDTO](t, resp)
	assert.Equal(t, "manuallyConfirmed", dose.Status)
	require.NotNil(t, dose.ConfirmedAt)
	require.Len(t, store.exceptions, 1)

	// The feed now reports the persisted status for that instant.
	feedResp := doJSON(t, http.MethodGet, srv.URL+"/profiles/p1/doses?from=2023-03-01&to=2023-03-01", nil)
	feed := decode[[]doseDTO](t, feedResp)
	require.Len(t, feed, 2)
	statuses := map[string]string{}
	for _, d := range feed {
		statuses[d.DoseAt.UTC().Format(time.RFC3339)] = d.Status
	}
	assert.Equal(t, "manuallyConfirmed", statuses["2023-03-01T08:00:00Z"])
	assert.Equal(t, "pending", statuses["2023-03-01T20:00:00Z"])
}

func TestUpdateStatusRejectsSeconds(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createPeriodicRoutine(t, srv)

	resp := doJSON(t, http.MethodPatch,
		srv.URL+"/profiles/p1/routines/"+created.Key+"/doses",
		StatusRequest{DoseAt: "2023-03-01T08:00:30Z", Status: "canceled"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateStatusUnscheduledInstant(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createPeriodicRoutine(t, srv)

	resp := doJSON(t, http.MethodPatch,
		srv.URL+"/profiles/p1/routines/"+created.Key+"/doses",
		StatusRequest{DoseAt: "2023-03-01T09:00:00Z", Status: "canceled"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateStatusUnknownRoutine(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPatch,
		srv.URL+"/profiles/p1/routines/nope/doses",
		StatusRequest{DoseAt: "2023-03-01T08:00:00Z", Status: "canceled"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRescheduleRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createPeriodicRoutine(t, srv)

	resp := doJSON(t, http.MethodPost,
		srv.URL+"/profiles/p1/routines/"+created.Key+"/doses/reschedule",
		RescheduleRequest{SourceAt: "2023-03-01T08:00:00Z", TargetAt: "2023-03-01T10:00:00Z"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rs := decode[RescheduleResponse](t, resp)
	assert.Equal(t, "rescheduled", rs.Source.Status)
	assert.Equal(t, "pending", rs.Moved.Status)
	assert.Equal(t, rs.Source.Quantity, rs.Moved.Quantity)

	lookup := doJSON(t, http.MethodGet,
		srv.URL+"/profiles/p1/routines/"+created.Key+"/doses/reschedule?dose_at=2023-03-01T08:00:00Z", nil)
	require.Equal(t, http.StatusOK, lookup.StatusCode)
	got := decode[RescheduleResponse](t, lookup)
	assert.True(t, got.Moved.DoseAt.Equal(rs.Moved.DoseAt))
}

func TestRescheduleTargetConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createPeriodicRoutine(t, srv)

	// 20:00 is a naturally scheduled dose.
	resp := doJSON(t, http.MethodPost,
		srv.URL+"/profiles/p1/routines/"+created.Key+"/doses/reschedule",
		RescheduleRequest{SourceAt: "2023-03-01T08:00:00Z", TargetAt: "2023-03-01T20:00:00Z"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestVersionUpdateKeepsOldRoutine(t *testing.T) {
	srv, store := newTestServer(t)
	created := createPeriodicRoutine(t, srv)

	resp := doJSON(t, http.MethodPut, srv.URL+"/profiles/p1/routines/"+created.Key, RoutineRequest{
		Name:     "vitamin d high",
		Kind:     "dayPeriod",
		RuleData: json.RawMessage(`{"periodInDays":2,"pillsTimes":["09:00"]}`),
		Start:    "2023-03-10T00:00:00Z",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	replacement := decode[routineDTO](t, resp)
	assert.NotEqual(t, created.Key, replacement.Key)
	assert.Equal(t, "active", replacement.Status)

	require.Len(t, store.routines, 2)
	old, err := store.RoutineByKey(context.Background(), "p1", created.Key)
	require.NoError(t, err)
	assert.Equal(t, schedule.RoutineUpdated, old.Status)
}

func TestCancelRoutineStopsFutureDoses(t *testing.T) {
	srv, _ := newTestServer(t)
	created := createPeriodicRoutine(t, srv)

	resp := doJSON(t, http.MethodDelete, srv.URL+"/profiles/p1/routines/"+created.Key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	canceled := decode[routineDTO](t, resp)
	assert.Equal(t, "canceled", canceled.Status)

	// A second cancel is an illegal transition.
	again := doJSON(t, http.MethodDelete, srv.URL+"/profiles/p1/routines/"+created.Key, nil)
	assert.Equal(t, http.StatusBadRequest, again.StatusCode)
}

func TestFeedRejectsBadDates(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/profiles/p1/doses?from=garbage&to=2023-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
