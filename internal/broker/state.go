// Package broker implements the frontend/backend ROUTER load balancer:
// worker registration and liveness, request routing, and the single
// polling loop that owns all broker state.
package broker

import (
	"context"
	"time"
)

// Worker states.
const (
	StateIdle      = "idle"
	StateBusy      = "busy"
	StateUnhealthy = "unhealthy"
)

// Control message tags carried as the first payload frame on the backend
// socket.
const (
	tagRegister  = "REGISTER"
	tagHeartbeat = "HEARTBEAT"
)

// WorkerInfo is the broker's ephemeral view of a connected worker. It is
// held by the Registry and changed only under the Registry's lock;
// callers outside the Registry read copies through Registry.Snapshot,
// never a pointer.
type WorkerInfo struct {
	WorkerID          string
	State             string
	LastHeartbeat     time.Time
	ProcessedRequests int64
}

// pendingRequest records what's needed to route a worker's eventual
// response back to the client that submitted it.
type pendingRequest struct {
	clientID    []byte
	framing     framing
	method      string
	submittedAt time.Time
}

// framing captures whether a client used the 3-frame DEALER-style
// envelope (with an empty delimiter) or the 2-frame REQ-style one, so
// the broker can reply in kind.
type framing int

const (
	framingDealer framing = iota // [client_id, empty, payload]
	framingREQ                   // [client_id, payload]
)

// storer is the subset of store.Store the broker writes through.
type storer interface {
	LogRequest(ctx context.Context, requestID, method, clientID string, requestData any) error
	LogResponse(ctx context.Context, requestID, workerID, status string, responseData any, processingTimeMS float64) error
	UpsertWorker(ctx context.Context, w storeWorkerRecord) error
}

// storeWorkerRecord mirrors store.WorkerRecord without importing the
// store package into broker's core types (kept decoupled for testing).
type storeWorkerRecord struct {
	WorkerID          string
	State             string
	LastHeartbeat     time.Time
	ProcessedRequests int64
	CPUUsage          float64
	MemoryUsage       float64
}

// collector is the subset of metrics.Collector the broker updates.
type collector interface {
	RecordRequest(method, workerID string, success bool, processingTimeMS float64, errType string)
}
