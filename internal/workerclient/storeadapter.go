package workerclient

import (
	"context"

	"github.com/aristath/tacoreservice/internal/store"
)

// StoreAdapter bridges *store.Store to the worker's decoupled storer
// interface (see worker.go's storer), keeping process() and its tests
// free of a store.Store import.
type StoreAdapter struct {
	Store *store.Store
}

func (a StoreAdapter) LogRequest(ctx context.Context, requestID, method, clientID string, requestData any) error {
	return a.Store.LogRequest(ctx, requestID, method, clientID, requestData)
}

func (a StoreAdapter) LogResponse(ctx context.Context, requestID, workerID, status string, responseData any, processingTimeMS float64) error {
	return a.Store.LogResponse(ctx, requestID, workerID, status, responseData, processingTimeMS)
}

func (a StoreAdapter) UpsertWorker(ctx context.Context, w WorkerStatus) error {
	return a.Store.UpsertWorker(ctx, store.WorkerRecord{
		WorkerID:          w.WorkerID,
		State:             w.State,
		LastHeartbeat:     w.LastHeartbeat,
		ProcessedRequests: w.ProcessedRequests,
		CPUUsage:          w.CPUUsage,
		MemoryUsage:       w.MemoryUsage,
	})
}
