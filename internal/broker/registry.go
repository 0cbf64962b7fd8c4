package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry holds all broker-owned state: the worker table, the
// available FIFO, and the pending request/assignment maps. It is safe
// for concurrent use: in production the broker's polling loop (Run in
// loop.go) drives registration and routing, while the health monitor
// goroutine calls CheckLiveness and shutdown calls FlushStatuses, all
// under the same mutex. This file is kept independent of ZMQ so the
// transitions can be exercised directly in tests without a live socket.
type Registry struct {
	mu sync.Mutex

	workers            map[string]*WorkerInfo
	available          []string
	pendingRequests    map[string]pendingRequest
	pendingAssignments map[string]string // request_id -> worker_id

	heartbeatInterval time.Duration
	staleFactor       int

	store storer
	coll  collector
	log   zerolog.Logger
}

// NewRegistry builds an empty Registry.
func NewRegistry(heartbeatInterval time.Duration, staleFactor int, store storer, coll collector, log zerolog.Logger) *Registry {
	return &Registry{
		workers:            make(map[string]*WorkerInfo),
		pendingRequests:    make(map[string]pendingRequest),
		pendingAssignments: make(map[string]string),
		heartbeatInterval:  heartbeatInterval,
		staleFactor:        staleFactor,
		store:              store,
		coll:               coll,
		log:                log,
	}
}

// RegisterWorker adds workerID to the available pool if it isn't already
// present. Two simultaneous REGISTERs from the same worker are
// idempotent.
func (r *Registry) RegisterWorker(ctx context.Context, workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.workers[workerID]
	if !exists {
		w = &WorkerInfo{WorkerID: workerID}
		r.workers[workerID] = w
	}
	w.State = StateIdle
	w.LastHeartbeat = time.Now()

	if !r.inAvailableLocked(workerID) {
		r.available = append(r.available, workerID)
	}

	r.upsertStoreLocked(ctx, w)
}

func (r *Registry) inAvailableLocked(workerID string) bool {
	for _, id := range r.available {
		if id == workerID {
			return true
		}
	}
	return false
}

func (r *Registry) upsertStoreLocked(ctx context.Context, w *WorkerInfo) {
	if r.store == nil {
		return
	}
	rec := storeWorkerRecord{
		WorkerID:          w.WorkerID,
		State:             w.State,
		LastHeartbeat:     w.LastHeartbeat,
		ProcessedRequests: w.ProcessedRequests,
	}
	if err := r.store.UpsertWorker(ctx, rec); err != nil {
		r.log.Warn().Err(err).Str("worker_id", w.WorkerID).Msg("broker: upsert worker status failed")
	}
}

// Heartbeat refreshes a worker's liveness. Unknown workers are logged
// and ignored.
func (r *Registry) Heartbeat(ctx context.Context, workerID string, processedRequests int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.workers[workerID]
	if !exists {
		r.log.Warn().Str("worker_id", workerID).Msg("broker: heartbeat from unknown worker")
		return
	}

	w.LastHeartbeat = time.Now()
	if processedRequests > w.ProcessedRequests {
		w.ProcessedRequests = processedRequests
	}

	r.upsertStoreLocked(ctx, w)
}

// AssignWorker pops the head of the available FIFO queue and marks it
// busy, or returns ok == false when no worker is available.
func (r *Registry) AssignWorker() (workerID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.available) == 0 {
		return "", false
	}

	workerID = r.available[0]
	r.available = r.available[1:]

	w := r.workers[workerID]
	w.State = StateBusy
	w.ProcessedRequests++

	return workerID, true
}

// TrackRequest records the pending request/assignment pair created by a
// successful dispatch.
func (r *Registry) TrackRequest(requestID string, clientID []byte, f framing, method, workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pendingRequests[requestID] = pendingRequest{
		clientID:    clientID,
		framing:     f,
		method:      method,
		submittedAt: time.Now(),
	}
	r.pendingAssignments[requestID] = workerID
}

// CompleteRequest resolves a response for requestID: it removes the
// pending entries, returns the original client_id/framing/method (when
// known), and returns the worker to the available pool. ok reports
// whether a pending entry existed; when it doesn't, the caller falls
// back to the client_id carried on the wire.
func (r *Registry) CompleteRequest(requestID string) (clientID []byte, f framing, method string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	workerID, hadAssignment := r.pendingAssignments[requestID]
	if hadAssignment {
		delete(r.pendingAssignments, requestID)
		if w, exists := r.workers[workerID]; exists && w.State != StateUnhealthy {
			w.State = StateIdle
			if !r.inAvailableLocked(workerID) {
				r.available = append(r.available, workerID)
			}
		}
	}

	pending, hadRequest := r.pendingRequests[requestID]
	if !hadRequest {
		return nil, framingDealer, "", false
	}
	delete(r.pendingRequests, requestID)

	return pending.clientID, pending.framing, pending.method, true
}

// CheckLiveness marks unhealthy any worker whose last heartbeat is older
// than staleFactor*heartbeatInterval, removing it from the available
// pool. It returns the ids it just marked unhealthy.
func (r *Registry) CheckLiveness(ctx context.Context) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(r.staleFactor) * r.heartbeatInterval)

	var newlyUnhealthy []string
	for id, w := range r.workers {
		if w.State == StateUnhealthy {
			continue
		}
		if w.LastHeartbeat.Before(cutoff) {
			w.State = StateUnhealthy
			newlyUnhealthy = append(newlyUnhealthy, id)
			r.upsertStoreLocked(ctx, w)
		}
	}

	if len(newlyUnhealthy) == 0 {
		return nil
	}

	unhealthy := make(map[string]bool, len(newlyUnhealthy))
	for _, id := range newlyUnhealthy {
		unhealthy[id] = true
	}

	filtered := r.available[:0]
	for _, id := range r.available {
		if !unhealthy[id] {
			filtered = append(filtered, id)
		}
	}
	r.available = filtered

	return newlyUnhealthy
}

// Snapshot is a point-in-time, detached copy of worker state for callers
// outside the broker loop (the HTTP API, tests).
type Snapshot struct {
	Workers   []WorkerInfo
	Available []string
}

// FlushStatuses writes every known worker's current status through to
// the store. Called once at shutdown so the last observed states
// survive the process.
func (r *Registry) FlushStatuses(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.workers {
		r.upsertStoreLocked(ctx, w)
	}
}

// Snapshot returns a detached copy of the current worker registry.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	workers := make([]WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, *w)
	}

	available := make([]string, len(r.available))
	copy(available, r.available)

	return Snapshot{Workers: workers, Available: available}
}
