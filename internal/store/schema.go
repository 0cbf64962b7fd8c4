package store

// schema creates the service's four tables and their supporting
// indices. Applied idempotently with IF NOT EXISTS so repeated startups
// are safe.
const schema = `
CREATE TABLE IF NOT EXISTS request_logs (
	request_id         TEXT PRIMARY KEY,
	method             TEXT NOT NULL,
	worker_id          TEXT,
	client_id          TEXT,
	request_data       TEXT,
	response_data      TEXT,
	processing_time_ms REAL,
	status             TEXT NOT NULL,
	created_at         DATETIME NOT NULL,
	completed_at       DATETIME
);

CREATE INDEX IF NOT EXISTS idx_request_logs_created_at ON request_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_request_logs_method ON request_logs(method);

CREATE TABLE IF NOT EXISTS service_metrics (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	metric_name  TEXT NOT NULL,
	metric_value REAL NOT NULL,
	metric_data  TEXT,
	timestamp    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_service_metrics_timestamp ON service_metrics(timestamp);

CREATE TABLE IF NOT EXISTS worker_status (
	worker_id          TEXT PRIMARY KEY,
	state              TEXT NOT NULL,
	last_heartbeat     DATETIME,
	processed_requests INTEGER NOT NULL DEFAULT 0,
	cpu_usage          REAL,
	memory_usage       REAL,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS service_config (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	description TEXT,
	updated_at  DATETIME NOT NULL
);
`
