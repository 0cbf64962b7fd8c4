package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "tacoreservice.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Dir(path))
	require.NoError(t, err)
}

func TestLogRequestThenLogResponse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogRequest(ctx, "req-1", "health.check", "client-1", map[string]any{"detailed": true}))
	require.NoError(t, s.LogResponse(ctx, "req-1", "worker-1", "success", map[string]any{"ok": true}, 12.5))

	log, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, "success", log.Status)
	assert.Equal(t, "worker-1", log.WorkerID)
	assert.NotNil(t, log.CompletedAt)
}

func TestLogResponseWithoutPriorRequestInsertsFallbackRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogResponse(ctx, "req-orphan", "worker-2", "error", map[string]any{"err": "boom"}, 3.0))

	log, err := s.GetRequest(ctx, "req-orphan")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, "error", log.Status)
}

func TestGetRequestMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	log, err := s.GetRequest(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, log)
}

func TestListRequestsFiltersByMethodAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogRequest(ctx, "r1", "scan.market", "c1", nil))
	require.NoError(t, s.LogResponse(ctx, "r1", "w1", "success", nil, 1))
	require.NoError(t, s.LogRequest(ctx, "r2", "scan.market", "c1", nil))
	require.NoError(t, s.LogResponse(ctx, "r2", "w1", "error", nil, 1))
	require.NoError(t, s.LogRequest(ctx, "r3", "execute.order", "c1", nil))
	require.NoError(t, s.LogResponse(ctx, "r3", "w1", "success", nil, 1))

	scanSuccess, err := s.ListRequests(ctx, RequestFilter{Method: "scan.market", Status: "success"})
	require.NoError(t, err)
	require.Len(t, scanSuccess, 1)
	assert.Equal(t, "r1", scanSuccess[0].RequestID)
}

func TestUpsertWorkerThenWorkerStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertWorker(ctx, WorkerRecord{WorkerID: "w1", State: "available", ProcessedRequests: 1}))
	require.NoError(t, s.UpsertWorker(ctx, WorkerRecord{WorkerID: "w1", State: "busy", ProcessedRequests: 2}))

	workers, err := s.WorkerStatus(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "busy", workers[0].State)
	assert.EqualValues(t, 2, workers[0].ProcessedRequests)
}

func TestRecordMetricAndServiceStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordMetric(ctx, "queue_depth", 4, nil))

	require.NoError(t, s.LogRequest(ctx, "r1", "health.check", "c1", nil))
	require.NoError(t, s.LogResponse(ctx, "r1", "w1", "success", nil, 5))

	require.NoError(t, s.UpsertWorker(ctx, WorkerRecord{WorkerID: "w1", State: "idle"}))
	require.NoError(t, s.UpsertWorker(ctx, WorkerRecord{WorkerID: "w2", State: "unhealthy"}))

	stats, err := s.ServiceStats(ctx, 24)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalRequests)
	assert.EqualValues(t, 1, stats.SuccessfulRequests)
	assert.EqualValues(t, 1, stats.ActiveWorkers, "only idle/busy workers count as active")
}

func TestMethodStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogRequest(ctx, "r1", "scan.market", "c1", nil))
	require.NoError(t, s.LogResponse(ctx, "r1", "w1", "success", nil, 10))
	require.NoError(t, s.LogRequest(ctx, "r2", "scan.market", "c1", nil))
	require.NoError(t, s.LogResponse(ctx, "r2", "w1", "error", nil, 20))

	stats, err := s.MethodStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "scan.market", stats[0].Method)
	assert.EqualValues(t, 2, stats[0].Count)
	assert.EqualValues(t, 1, stats[0].ErrorCount)
}

func TestCleanupRemovesOldRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogRequest(ctx, "r1", "health.check", "c1", nil))
	_, err := s.conn.db.ExecContext(ctx, `
		INSERT INTO request_logs (request_id, method, status, created_at)
		VALUES (?, ?, 'processing', ?)`,
		"r-old", "health.check", time.Now().UTC().AddDate(0, 0, -60))
	require.NoError(t, err)

	err = s.Cleanup(ctx, 0)
	assert.Error(t, err)

	require.NoError(t, s.Cleanup(ctx, 30))
	log, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.NotNil(t, log)

	old, err := s.GetRequest(ctx, "r-old")
	require.NoError(t, err)
	assert.Nil(t, old, "a row older than the retention window is removed")
}

func TestSetConfigAndAllConfig(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetConfig(ctx, "heartbeat_interval_seconds", "5", "worker heartbeat interval"))
	require.NoError(t, s.SetConfig(ctx, "heartbeat_interval_seconds", "10", "worker heartbeat interval"))

	entries, err := s.AllConfig(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10", entries[0].Value)
}
