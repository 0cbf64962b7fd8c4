package broker

import "time"

// controlMessage is the JSON body following a REGISTER or HEARTBEAT
// tag. Every control message carries at least worker_id and timestamp;
// heartbeats add throughput and resource usage.
type controlMessage struct {
	WorkerID          string    `json:"worker_id"`
	Timestamp         time.Time `json:"timestamp"`
	ProcessedRequests int64     `json:"processed_requests,omitempty"`
	CPUUsage          float64   `json:"cpu_usage,omitempty"`
	MemoryUsage       float64   `json:"memory_usage,omitempty"`
}
