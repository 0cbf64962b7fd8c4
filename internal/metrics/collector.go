// Package metrics implements the in-memory Collector that tracks request
// counters, per-method/error-type breakdowns, worker throughput, and
// response-time percentiles, periodically flushed to the store.
package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ringSize bounds the response-time sample window used for percentiles.
const ringSize = 1000

// storer is the subset of store.Store the collector flushes into.
type storer interface {
	RecordMetric(ctx context.Context, name string, value float64, data any) error
}

// Collector accumulates counters in memory and periodically flushes
// summaries to the store. All public methods are safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	totalRequests   int64
	successCount    int64
	errorCount      int64
	methodCounts    map[string]int64
	errorTypeCounts map[string]int64
	workerCounts    map[string]int64

	ring     [ringSize]float64
	ringLen  int
	ringHead int

	store storer
	log   zerolog.Logger
}

// New creates a Collector that flushes into store.
func New(store storer, log zerolog.Logger) *Collector {
	return &Collector{
		methodCounts:    make(map[string]int64),
		errorTypeCounts: make(map[string]int64),
		workerCounts:    make(map[string]int64),
		store:           store,
		log:             log,
	}
}

// RecordRequest records the completion of a single request: its method,
// the worker that handled it (empty if none), whether it succeeded, its
// processing time, and an error type tag when it failed.
func (c *Collector) RecordRequest(method, workerID string, success bool, processingTimeMS float64, errType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	c.methodCounts[method]++

	if success {
		c.successCount++
	} else {
		c.errorCount++
		if errType != "" {
			c.errorTypeCounts[errType]++
		}
	}

	if workerID != "" {
		c.workerCounts[workerID]++
	}

	c.ring[c.ringHead] = processingTimeMS
	c.ringHead = (c.ringHead + 1) % ringSize
	if c.ringLen < ringSize {
		c.ringLen++
	}
}

// Snapshot is a point-in-time read of the collector's counters.
type Snapshot struct {
	TotalRequests   int64
	SuccessCount    int64
	ErrorCount      int64
	MethodCounts    map[string]int64
	ErrorTypeCounts map[string]int64
	WorkerCounts    map[string]int64
	P50             float64
	P95             float64
	P99             float64
}

// Snapshot returns a copy of the current counters and latency percentiles.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		TotalRequests:   c.totalRequests,
		SuccessCount:    c.successCount,
		ErrorCount:      c.errorCount,
		MethodCounts:    cloneCounts(c.methodCounts),
		ErrorTypeCounts: cloneCounts(c.errorTypeCounts),
		WorkerCounts:    cloneCounts(c.workerCounts),
	}

	samples := c.sortedSamplesLocked()
	snap.P50 = percentile(samples, 50)
	snap.P95 = percentile(samples, 95)
	snap.P99 = percentile(samples, 99)

	return snap
}

func (c *Collector) sortedSamplesLocked() []float64 {
	samples := make([]float64, c.ringLen)
	copy(samples, c.ring[:c.ringLen])
	sort.Float64s(samples)
	return samples
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) * p) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func cloneCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Reset clears all counters and the response-time ring back to zero
// values. It exists for test isolation — the Collector is otherwise a
// long-lived, process-wide singleton with no reset in normal operation.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests = 0
	c.successCount = 0
	c.errorCount = 0
	c.methodCounts = make(map[string]int64)
	c.errorTypeCounts = make(map[string]int64)
	c.workerCounts = make(map[string]int64)
	c.ring = [ringSize]float64{}
	c.ringLen = 0
	c.ringHead = 0
}

// Flush writes the current snapshot's headline numbers to the store as
// named metric samples. StartFlushLoop calls it on its interval.
func (c *Collector) Flush(ctx context.Context) error {
	snap := c.Snapshot()

	if err := c.store.RecordMetric(ctx, "total_requests", float64(snap.TotalRequests), nil); err != nil {
		return err
	}
	if err := c.store.RecordMetric(ctx, "error_count", float64(snap.ErrorCount), nil); err != nil {
		return err
	}
	if err := c.store.RecordMetric(ctx, "response_time_p50_ms", snap.P50, nil); err != nil {
		return err
	}
	if err := c.store.RecordMetric(ctx, "response_time_p95_ms", snap.P95, nil); err != nil {
		return err
	}
	if err := c.store.RecordMetric(ctx, "response_time_p99_ms", snap.P99, nil); err != nil {
		return err
	}

	c.log.Debug().
		Int64("total_requests", snap.TotalRequests).
		Float64("p95_ms", snap.P95).
		Msg("metrics flushed")

	return nil
}

// StartFlushLoop runs Flush on interval until ctx is cancelled.
func (c *Collector) StartFlushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.log.Warn().Err(err).Msg("metrics flush failed")
			}
		}
	}
}
