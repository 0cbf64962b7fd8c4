package metrics

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	metrics map[string]float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{metrics: make(map[string]float64)}
}

func (f *fakeStore) RecordMetric(_ context.Context, name string, value float64, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics[name] = value
	return nil
}

func TestRecordRequestUpdatesCounters(t *testing.T) {
	c := New(newFakeStore(), zerolog.Nop())

	c.RecordRequest("scan.market", "w1", true, 10, "")
	c.RecordRequest("scan.market", "w1", false, 20, "execution")
	c.RecordRequest("execute.order", "w2", true, 5, "")

	snap := c.Snapshot()
	assert.EqualValues(t, 3, snap.TotalRequests)
	assert.EqualValues(t, 2, snap.SuccessCount)
	assert.EqualValues(t, 1, snap.ErrorCount)
	assert.EqualValues(t, 2, snap.MethodCounts["scan.market"])
	assert.EqualValues(t, 1, snap.ErrorTypeCounts["execution"])
	assert.EqualValues(t, 2, snap.WorkerCounts["w1"])
}

func TestSnapshotPercentiles(t *testing.T) {
	c := New(newFakeStore(), zerolog.Nop())

	for i := 1; i <= 100; i++ {
		c.RecordRequest("health.check", "w1", true, float64(i), "")
	}

	snap := c.Snapshot()
	assert.InDelta(t, 50, snap.P50, 5)
	assert.InDelta(t, 95, snap.P95, 5)
	assert.InDelta(t, 99, snap.P99, 5)
}

func TestSnapshotEmptyHasZeroPercentiles(t *testing.T) {
	c := New(newFakeStore(), zerolog.Nop())
	snap := c.Snapshot()
	assert.Zero(t, snap.P50)
	assert.Zero(t, snap.P95)
	assert.Zero(t, snap.P99)
}

func TestFlushWritesSnapshotToStore(t *testing.T) {
	store := newFakeStore()
	c := New(store, zerolog.Nop())
	c.RecordRequest("scan.market", "w1", true, 15, "")

	require.NoError(t, c.Flush(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, float64(1), store.metrics["total_requests"])
}

func TestRingBufferWrapsWithoutPanicking(t *testing.T) {
	c := New(newFakeStore(), zerolog.Nop())
	for i := 0; i < ringSize+10; i++ {
		c.RecordRequest("health.check", "w1", true, float64(i), "")
	}
	snap := c.Snapshot()
	assert.EqualValues(t, ringSize+10, snap.TotalRequests)
}

func TestResetClearsCountersAndPercentiles(t *testing.T) {
	c := New(newFakeStore(), zerolog.Nop())
	c.RecordRequest("scan.market", "w1", false, 42, "execution")

	c.Reset()

	snap := c.Snapshot()
	assert.Zero(t, snap.TotalRequests)
	assert.Zero(t, snap.ErrorCount)
	assert.Empty(t, snap.MethodCounts)
	assert.Empty(t, snap.ErrorTypeCounts)
	assert.Empty(t, snap.WorkerCounts)
	assert.Zero(t, snap.P95)
}
