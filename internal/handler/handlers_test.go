package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsline/platform/internal/domain"
	"github.com/oddsline/platform/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeScheduler struct {
	report  *service.SyncReport
	syncErr error

	startCalls int
	stopCalls  int
	syncCalls  int
	running    bool
	nextRun    *time.Time
}

func (f *fakeScheduler) Start() { f.startCalls++ }
func (f *fakeScheduler) Stop()  { f.stopCalls++ }

func (f *fakeScheduler) ForceSync(context.Context) (*service.SyncReport, error) {
	f.syncCalls++
	return f.report, f.syncErr
}

func (f *fakeScheduler) Status() (bool, *time.Time) { return f.running, f.nextRun }

type fakeMatchStore struct {
	matches []domain.Fixture
	byID    map[string]*domain.Fixture
	err     error
}

func (f *fakeMatchStore) ListMatches(_ context.Context, onlyLive bool) ([]domain.Fixture, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !onlyLive {
		return f.matches, nil
	}
	var live []domain.Fixture
	for _, m := range f.matches {
		if m.IsLive {
			live = append(live, m)
		}
	}
	return live, nil
}

func (f *fakeMatchStore) GetMatch(_ context.Context, id string) (*domain.Fixture, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrValidation("invalid match id")
	}
	return f.byID[id], nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSyncHandler_Success(t *testing.T) {
	sched := &fakeScheduler{report: &service.SyncReport{TotalFixtures: 12, SavedMatches: 11, Failed: 1}}
	h := NewSyncHandler(sched, testLogger())

	rec := httptest.NewRecorder()
	h.HandleSync(rec, httptest.NewRequest(http.MethodPost, "/api/matches/sync", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(12), body["totalFixtures"])
	assert.Equal(t, float64(11), body["savedMatches"])
	assert.Equal(t, 1, sched.syncCalls)
}

func TestSyncHandler_FeedFailure(t *testing.T) {
	sched := &fakeScheduler{syncErr: domain.ErrFeedUnavailable(errors.New("connect refused"))}
	h := NewSyncHandler(sched, testLogger())

	rec := httptest.NewRecorder()
	h.HandleSync(rec, httptest.NewRequest(http.MethodPost, "/api/matches/sync", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "fixture feed unavailable", body["error"])
	assert.Equal(t, "connect refused", body["details"])
}

func TestSyncHandler_InFlightConflict(t *testing.T) {
	sched := &fakeScheduler{syncErr: domain.ErrSyncInFlight()}
	h := NewSyncHandler(sched, testLogger())

	rec := httptest.NewRecorder()
	h.HandleSync(rec, httptest.NewRequest(http.MethodPost, "/api/matches/sync", nil))

	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
}

func TestCronHandler_StatusStopped(t *testing.T) {
	h := NewCronHandler(&fakeScheduler{}, testLogger())

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/cron/control", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	status := body["status"].(map[string]interface{})
	assert.Equal(t, false, status["isRunning"])
	_, hasNext := status["nextRun"]
	assert.False(t, hasNext)
}

func TestCronHandler_StatusRunning(t *testing.T) {
	next := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewCronHandler(&fakeScheduler{running: true, nextRun: &next}, testLogger())

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/cron/control", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	status := body["status"].(map[string]interface{})
	assert.Equal(t, true, status["isRunning"])
	assert.Equal(t, "2026-03-01T12:00:00Z", status["nextRun"])
}

func TestCronHandler_Actions(t *testing.T) {
	sched := &fakeScheduler{report: &service.SyncReport{TotalFixtures: 3, SavedMatches: 3}}
	h := NewCronHandler(sched, testLogger())

	for _, action := range []string{"start", "stop", "sync"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/cron/control", strings.NewReader(`{"action":"`+action+`"}`))
		h.HandleControl(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "action %s", action)
	}

	assert.Equal(t, 1, sched.startCalls)
	assert.Equal(t, 1, sched.stopCalls)
	assert.Equal(t, 1, sched.syncCalls)
}

func TestCronHandler_InvalidAction(t *testing.T) {
	h := NewCronHandler(&fakeScheduler{}, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/cron/control", strings.NewReader(`{"action":"restart"}`))
	h.HandleControl(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
}

func TestCronHandler_MalformedBody(t *testing.T) {
	h := NewCronHandler(&fakeScheduler{}, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/cron/control", strings.NewReader(`{`))
	h.HandleControl(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchHandler_ListAndInplay(t *testing.T) {
	live := domain.Fixture{ID: uuid.New(), DisplayName: "A vs B", Status: domain.StatusLive, IsLive: true}
	upcoming := domain.Fixture{ID: uuid.New(), DisplayName: "C vs D", Status: domain.StatusUpcoming}
	h := NewMatchHandler(&fakeMatchStore{matches: []domain.Fixture{live, upcoming}}, testLogger())

	rec := httptest.NewRecorder()
	h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/api/matches", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	rec = httptest.NewRecorder()
	h.HandleInplay(rec, httptest.NewRequest(http.MethodGet, "/api/matches/inplay", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}

func TestMatchHandler_ListEmptyIsArray(t *testing.T) {
	h := NewMatchHandler(&fakeMatchStore{}, testLogger())

	rec := httptest.NewRecorder()
	h.HandleInplay(rec, httptest.NewRequest(http.MethodGet, "/api/matches/inplay", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"matches":[]`)
}

func TestMatchHandler_Get(t *testing.T) {
	fx := domain.Fixture{ID: uuid.New(), DisplayName: "A vs B", Status: domain.StatusUpcoming}
	store := &fakeMatchStore{byID: map[string]*domain.Fixture{fx.ID.String(): &fx}}
	h := NewMatchHandler(store, testLogger())

	router := chi.NewRouter()
	router.Get("/api/matches/{id}", h.HandleGet)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/matches/"+fx.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	match, ok := body["match"].(map[string]interface{})
	require.True(t, ok, "single-match response wraps the fixture in a match field")
	assert.Equal(t, "A vs B", match["display_name"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/matches/"+uuid.New().String(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/matches/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
