package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tacoreservice/internal/utils"
)

// Store is the embedded persistence layer backing request logs, worker
// status, and service metrics.
type Store struct {
	conn *conn
	log  zerolog.Logger
}

// Open opens (and migrates) the store database at path.
func Open(path string) (*Store, error) {
	c, err := openConn(path)
	if err != nil {
		return nil, err
	}

	if _, err := c.db.Exec(schema); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}

	return &Store{conn: c, log: zerolog.Nop()}, nil
}

// SetLogger attaches a logger used for slow-query diagnostics.
func (s *Store) SetLogger(log zerolog.Logger) {
	s.log = log.With().Str("component", "store").Logger()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.conn.Close()
}

// RequestLog is a single row of request_logs.
type RequestLog struct {
	RequestID        string
	Method           string
	WorkerID         string
	ClientID         string
	RequestData      string
	ResponseData     string
	ProcessingTimeMS float64
	Status           string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// LogRequest inserts the initial row for an inbound request, before a
// worker has produced a response.
func (s *Store) LogRequest(ctx context.Context, requestID, method, clientID string, requestData any) error {
	data, err := json.Marshal(requestData)
	if err != nil {
		return fmt.Errorf("marshal request data: %w", err)
	}

	_, err = s.conn.db.ExecContext(ctx, `
		INSERT INTO request_logs (request_id, method, client_id, request_data, status, created_at)
		VALUES (?, ?, ?, ?, 'processing', ?)
		ON CONFLICT(request_id) DO NOTHING`,
		requestID, method, clientID, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("log request: %w", err)
	}
	return nil
}

// LogResponse records the outcome of a previously logged request.
func (s *Store) LogResponse(ctx context.Context, requestID, workerID, status string, responseData any, processingTimeMS float64) error {
	data, err := json.Marshal(responseData)
	if err != nil {
		return fmt.Errorf("marshal response data: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.conn.db.ExecContext(ctx, `
		UPDATE request_logs
		SET worker_id = ?, response_data = ?, processing_time_ms = ?, status = ?, completed_at = ?
		WHERE request_id = ?`,
		workerID, string(data), processingTimeMS, status, now, requestID,
	)
	if err != nil {
		return fmt.Errorf("log response: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// Response arrived for a request_id we never logged (e.g. logging
		// lagged behind the assignment); insert a completed row directly.
		_, err = s.conn.db.ExecContext(ctx, `
			INSERT INTO request_logs (request_id, method, worker_id, response_data, processing_time_ms, status, created_at, completed_at)
			VALUES (?, '', ?, ?, ?, ?, ?, ?)`,
			requestID, workerID, string(data), processingTimeMS, status, now, now,
		)
		if err != nil {
			return fmt.Errorf("log response fallback insert: %w", err)
		}
	}

	return nil
}

// GetRequest fetches a single request log by id.
func (s *Store) GetRequest(ctx context.Context, requestID string) (*RequestLog, error) {
	row := s.conn.db.QueryRowContext(ctx, `
		SELECT request_id, method, COALESCE(worker_id, ''), COALESCE(client_id, ''),
		       COALESCE(request_data, ''), COALESCE(response_data, ''), COALESCE(processing_time_ms, 0),
		       status, created_at, completed_at
		FROM request_logs WHERE request_id = ?`, requestID)

	var log RequestLog
	var completedAt sql.NullTime
	if err := row.Scan(&log.RequestID, &log.Method, &log.WorkerID, &log.ClientID,
		&log.RequestData, &log.ResponseData, &log.ProcessingTimeMS,
		&log.Status, &log.CreatedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	if completedAt.Valid {
		log.CompletedAt = &completedAt.Time
	}

	return &log, nil
}

// RequestFilter narrows ListRequests results.
type RequestFilter struct {
	Method string
	Status string
	Limit  int
	Offset int
}

// ListRequests returns request logs matching filter, newest first.
func (s *Store) ListRequests(ctx context.Context, filter RequestFilter) ([]RequestLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT request_id, method, COALESCE(worker_id, ''), COALESCE(client_id, ''),
	                 COALESCE(request_data, ''), COALESCE(response_data, ''), COALESCE(processing_time_ms, 0),
	                 status, created_at, completed_at
	          FROM request_logs WHERE 1=1`
	args := []any{}

	if filter.Method != "" {
		query += " AND method = ?"
		args = append(args, filter.Method)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.conn.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var logs []RequestLog
	for rows.Next() {
		var log RequestLog
		var completedAt sql.NullTime
		if err := rows.Scan(&log.RequestID, &log.Method, &log.WorkerID, &log.ClientID,
			&log.RequestData, &log.ResponseData, &log.ProcessingTimeMS,
			&log.Status, &log.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan request log: %w", err)
		}
		if completedAt.Valid {
			log.CompletedAt = &completedAt.Time
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// WorkerRecord mirrors a worker_status row.
type WorkerRecord struct {
	WorkerID          string
	State             string
	LastHeartbeat     time.Time
	ProcessedRequests int64
	CPUUsage          float64
	MemoryUsage       float64
}

// UpsertWorker inserts or updates a worker's status row.
func (s *Store) UpsertWorker(ctx context.Context, w WorkerRecord) error {
	now := time.Now().UTC()
	_, err := s.conn.db.ExecContext(ctx, `
		INSERT INTO worker_status (worker_id, state, last_heartbeat, processed_requests, cpu_usage, memory_usage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET
			state = excluded.state,
			last_heartbeat = excluded.last_heartbeat,
			processed_requests = excluded.processed_requests,
			cpu_usage = excluded.cpu_usage,
			memory_usage = excluded.memory_usage,
			updated_at = excluded.updated_at`,
		w.WorkerID, w.State, w.LastHeartbeat, w.ProcessedRequests, w.CPUUsage, w.MemoryUsage, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

// WorkerStatus returns the current status of every known worker.
func (s *Store) WorkerStatus(ctx context.Context) ([]WorkerRecord, error) {
	rows, err := s.conn.db.QueryContext(ctx, `
		SELECT worker_id, state, last_heartbeat, created_at, processed_requests,
		       COALESCE(cpu_usage, 0), COALESCE(memory_usage, 0)
		FROM worker_status ORDER BY worker_id`)
	if err != nil {
		return nil, fmt.Errorf("worker status: %w", err)
	}
	defer rows.Close()

	var workers []WorkerRecord
	for rows.Next() {
		var w WorkerRecord
		var lastHeartbeat sql.NullTime
		var createdAt time.Time
		if err := rows.Scan(&w.WorkerID, &w.State, &lastHeartbeat, &createdAt, &w.ProcessedRequests, &w.CPUUsage, &w.MemoryUsage); err != nil {
			return nil, fmt.Errorf("scan worker status: %w", err)
		}
		w.LastHeartbeat = createdAt
		if lastHeartbeat.Valid {
			w.LastHeartbeat = lastHeartbeat.Time
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// RecordMetric appends a point-in-time metric sample.
func (s *Store) RecordMetric(ctx context.Context, name string, value float64, data any) error {
	var encoded string
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal metric data: %w", err)
		}
		encoded = string(raw)
	}

	_, err := s.conn.db.ExecContext(ctx, `
		INSERT INTO service_metrics (metric_name, metric_value, metric_data, timestamp)
		VALUES (?, ?, ?, ?)`,
		name, value, encoded, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

// ServiceStats summarizes request_logs over the trailing window.
type ServiceStats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	AvgProcessingMS    float64
	ActiveWorkers      int64
}

// ServiceStats aggregates counts, average latency, and the live worker
// count over the trailing `hours` window (defaults to 24 when hours <= 0).
func (s *Store) ServiceStats(ctx context.Context, hours int) (*ServiceStats, error) {
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	row := s.conn.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(processing_time_ms), 0)
		FROM request_logs WHERE created_at >= ?`, since)

	var stats ServiceStats
	if err := row.Scan(&stats.TotalRequests, &stats.SuccessfulRequests, &stats.FailedRequests, &stats.AvgProcessingMS); err != nil {
		return nil, fmt.Errorf("service stats: %w", err)
	}

	workerRow := s.conn.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM worker_status WHERE state IN ('idle', 'busy')`)
	if err := workerRow.Scan(&stats.ActiveWorkers); err != nil {
		return nil, fmt.Errorf("service stats workers: %w", err)
	}

	return &stats, nil
}

// MethodStat is a per-method aggregate row.
type MethodStat struct {
	Method          string
	Count           int64
	AvgProcessingMS float64
	ErrorCount      int64
}

// MethodStats breaks down request volume and latency by method.
func (s *Store) MethodStats(ctx context.Context) ([]MethodStat, error) {
	rows, err := s.conn.db.QueryContext(ctx, `
		SELECT method, COUNT(*), COALESCE(AVG(processing_time_ms), 0),
		       SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END)
		FROM request_logs GROUP BY method ORDER BY method`)
	if err != nil {
		return nil, fmt.Errorf("method stats: %w", err)
	}
	defer rows.Close()

	var stats []MethodStat
	for rows.Next() {
		var m MethodStat
		if err := rows.Scan(&m.Method, &m.Count, &m.AvgProcessingMS, &m.ErrorCount); err != nil {
			return nil, fmt.Errorf("scan method stat: %w", err)
		}
		stats = append(stats, m)
	}
	return stats, rows.Err()
}

// HourlyStat is one bucket of HourlyStats.
type HourlyStat struct {
	Hour  time.Time
	Count int64
}

// HourlyStats buckets request volume by hour over the trailing window.
func (s *Store) HourlyStats(ctx context.Context, hours int) ([]HourlyStat, error) {
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	rows, err := s.conn.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%dT%H:00:00Z', created_at) AS hour, COUNT(*)
		FROM request_logs
		WHERE created_at >= ?
		GROUP BY hour ORDER BY hour`, since)
	if err != nil {
		return nil, fmt.Errorf("hourly stats: %w", err)
	}
	defer rows.Close()

	var buckets []HourlyStat
	for rows.Next() {
		var hourStr string
		var count int64
		if err := rows.Scan(&hourStr, &count); err != nil {
			return nil, fmt.Errorf("scan hourly stat: %w", err)
		}
		hour, err := time.Parse(time.RFC3339, hourStr)
		if err != nil {
			return nil, fmt.Errorf("parse hourly bucket: %w", err)
		}
		buckets = append(buckets, HourlyStat{Hour: hour, Count: count})
	}
	return buckets, rows.Err()
}

// Cleanup deletes request_logs and service_metrics rows older than
// `days` days, run periodically from the scheduler.
func (s *Store) Cleanup(ctx context.Context, days int) error {
	if days <= 0 {
		return fmt.Errorf("cleanup: days must be positive")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	done := utils.MeasureDBQuery("cleanup", s.log)
	var affected int64

	err := withTransaction(s.conn.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM request_logs WHERE created_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("cleanup request_logs: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}

		res, err = tx.ExecContext(ctx, `DELETE FROM service_metrics WHERE timestamp < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("cleanup service_metrics: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
		return nil
	})

	done(affected)
	return err
}

// SetConfig upserts a single service_config entry, used by the monitoring
// API's PUT /api/config/{key} endpoint.
func (s *Store) SetConfig(ctx context.Context, key, value, description string) error {
	_, err := s.conn.db.ExecContext(ctx, `
		INSERT INTO service_config (key, value, description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, description, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set config: %w", err)
	}
	return nil
}

// ConfigEntry is a single service_config row.
type ConfigEntry struct {
	Key         string
	Value       string
	Description string
	UpdatedAt   time.Time
}

// AllConfig returns every service_config row.
func (s *Store) AllConfig(ctx context.Context) ([]ConfigEntry, error) {
	rows, err := s.conn.db.QueryContext(ctx, `SELECT key, value, COALESCE(description, ''), updated_at FROM service_config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("all config: %w", err)
	}
	defer rows.Close()

	var entries []ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.Description, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan config entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
