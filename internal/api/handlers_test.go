package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tacoreservice/internal/metrics"
	"github.com/aristath/tacoreservice/internal/scheduler"
	"github.com/aristath/tacoreservice/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	coll := metrics.New(st, zerolog.Nop())

	s := New(Config{
		Store:     st,
		Collector: coll,
		Log:       zerolog.Nop(),
		DevMode:   true,
	})
	return s, st
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func TestHandleHealthReturnsIdentityFields(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "TACoreService", body["module"])
	assert.Equal(t, Version, body["version"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHandleLiveAliasesHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/live")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleStatusReportsWorkerCount(t *testing.T) {
	s, st := newTestServer(t)
	require.NoError(t, st.UpsertWorker(context.Background(), store.WorkerRecord{WorkerID: "w1", State: "idle"}))

	rec := doRequest(s, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["worker_count"])
	assert.Equal(t, "TACoreService", body["service"])
	assert.NotNil(t, body["uptime_seconds"])
}

func TestHandleStatusReportsScheduledJobs(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sched := scheduler.New(zerolog.Nop())
	require.NoError(t, sched.AddJob("@every 1h", noopJob{}))

	s := New(Config{
		Store:     st,
		Collector: metrics.New(st, zerolog.Nop()),
		Log:       zerolog.Nop(),
		Jobs:      sched,
		DevMode:   true,
	})

	rec := doRequest(s, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	jobs, ok := body["jobs"].([]any)
	require.True(t, ok, "status body should carry a jobs list")
	require.Len(t, jobs, 1)
	job := jobs[0].(map[string]any)
	assert.Equal(t, "store_cleanup", job["name"])
	assert.Equal(t, "@every 1h", job["schedule"])
}

type noopJob struct{}

func (noopJob) Name() string { return "store_cleanup" }
func (noopJob) Run() error   { return nil }

func TestHandleWorkersListsUpserted(t *testing.T) {
	s, st := newTestServer(t)
	require.NoError(t, st.UpsertWorker(context.Background(), store.WorkerRecord{WorkerID: "w1", State: "idle"}))

	rec := doRequest(s, http.MethodGet, "/api/workers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "w1")
}

func TestHandleGetRequestMissingReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/requests/missing-id")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetRequestFound(t *testing.T) {
	s, st := newTestServer(t)
	require.NoError(t, st.LogRequest(context.Background(), "r1", "health.check", "c1", map[string]any{}))

	rec := doRequest(s, http.MethodGet, "/api/requests/r1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "health.check")
}

func TestHandleCleanupRejectsNonPositiveDays(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/cleanup?days=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCleanupRejectsDaysAboveUpperBound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/cleanup?days=366")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_range", body["error"].Name)
	assert.NotEmpty(t, body["error"].Timestamp)
}

func TestHandleCleanupStoreErrorReturns500(t *testing.T) {
	s, st := newTestServer(t)
	require.NoError(t, st.Close())

	rec := doRequest(s, http.MethodPost, "/api/cleanup?days=30")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "store_error", body["error"].Name)
}

func TestHandleListRequestsRejectsLimitOutOfRange(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/requests?limit=5000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListRequestsRejectsNegativeOffset(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/requests?offset=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleConfigRoundTrips(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/api/config/stale_factor", jsonBody(t, map[string]string{
		"value":       "3",
		"description": "heartbeat staleness multiplier",
	}))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/config")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stale_factor")
}
