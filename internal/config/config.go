// Package config loads TACoreService configuration from environment
// variables (and an optional .env file), with documented defaults for
// every key.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the full set of TACoreService configuration.
type Config struct {
	ServiceName string

	ZMQFrontendPort int
	ZMQBackendPort  int
	ZMQBindAddress  string

	// WorkerConnectHost is the host cmd/worker dials to reach the
	// broker's backend socket; distinct from ZMQBindAddress, which the
	// broker binds to (typically "*" for all interfaces).
	WorkerConnectHost string
	WorkerID          string

	HTTPHost string
	HTTPPort int

	WorkerCount          int
	WorkerTimeoutSeconds int

	HeartbeatIntervalSeconds int
	HeartbeatStaleFactor     int

	StorePath string

	CacheEnabled  bool
	CacheHost     string
	CachePort     int
	CacheDB       int
	CachePassword string

	MetricsCollectionIntervalSeconds int
	MetricsRetentionDays             int

	BackupEnabled       bool
	BackupEndpoint      string
	BackupRegion        string
	BackupBucket        string
	BackupAccessKey     string
	BackupSecretKey     string
	BackupUseSSL        bool
	BackupRetentionDays int
	BackupCronSchedule  string
	BackupStageDir      string

	LogLevel  string
	LogPretty bool
	Debug     bool
}

// Load reads configuration from the environment, loading a .env file first
// if one is present in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "TACoreService"),

		ZMQFrontendPort: getEnvAsInt("ZMQ_FRONTEND_PORT", 5555),
		ZMQBackendPort:  getEnvAsInt("ZMQ_BACKEND_PORT", 5556),
		ZMQBindAddress:  getEnv("ZMQ_BIND_ADDRESS", "*"),

		WorkerConnectHost: getEnv("WORKER_CONNECT_HOST", "localhost"),
		WorkerID:          getEnv("WORKER_ID", ""),

		HTTPHost: getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort: getEnvAsInt("HTTP_PORT", 8000),

		WorkerCount:          getEnvAsInt("WORKER_COUNT", 4),
		WorkerTimeoutSeconds: getEnvAsInt("WORKER_TIMEOUT_SECONDS", 30),

		HeartbeatIntervalSeconds: getEnvAsInt("HEARTBEAT_INTERVAL_SECONDS", 5),
		HeartbeatStaleFactor:     getEnvAsInt("HEARTBEAT_STALE_FACTOR", 3),

		StorePath: getEnv("STORE_PATH", "./data/tacoreservice.db"),

		CacheEnabled:  getEnvAsBool("CACHE_ENABLED", true),
		CacheHost:     getEnv("CACHE_HOST", "localhost"),
		CachePort:     getEnvAsInt("CACHE_PORT", 6379),
		CacheDB:       getEnvAsInt("CACHE_DB", 0),
		CachePassword: getEnv("CACHE_PASSWORD", ""),

		MetricsCollectionIntervalSeconds: getEnvAsInt("METRICS_COLLECTION_INTERVAL_SECONDS", 5),
		MetricsRetentionDays:             getEnvAsInt("METRICS_RETENTION_DAYS", 7),

		BackupEnabled:       getEnvAsBool("BACKUP_ENABLED", false),
		BackupEndpoint:      getEnv("BACKUP_ENDPOINT", ""),
		BackupRegion:        getEnv("BACKUP_REGION", "auto"),
		BackupBucket:        getEnv("BACKUP_BUCKET", ""),
		BackupAccessKey:     getEnv("BACKUP_ACCESS_KEY", ""),
		BackupSecretKey:     getEnv("BACKUP_SECRET_KEY", ""),
		BackupUseSSL:        getEnvAsBool("BACKUP_USE_SSL", true),
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		BackupCronSchedule:  getEnv("BACKUP_CRON_SCHEDULE", "0 0 4 * * *"),
		BackupStageDir:      getEnv("BACKUP_STAGE_DIR", "./data/backup-stage"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		Debug:     getEnvAsBool("DEBUG", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are within sane ranges.
func (c *Config) Validate() error {
	if c.ZMQFrontendPort <= 0 || c.ZMQFrontendPort > 65535 {
		return fmt.Errorf("invalid zmq_frontend_port: %d", c.ZMQFrontendPort)
	}
	if c.ZMQBackendPort <= 0 || c.ZMQBackendPort > 65535 {
		return fmt.Errorf("invalid zmq_backend_port: %d", c.ZMQBackendPort)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker_count must be positive, got %d", c.WorkerCount)
	}
	if c.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat_interval_seconds must be positive, got %d", c.HeartbeatIntervalSeconds)
	}
	if c.HeartbeatStaleFactor <= 0 {
		return fmt.Errorf("heartbeat_stale_factor must be positive, got %d", c.HeartbeatStaleFactor)
	}
	return nil
}

// FrontendEndpoint returns the ZMQ bind endpoint for the client-facing socket.
func (c *Config) FrontendEndpoint() string {
	return fmt.Sprintf("tcp://%s:%d", c.ZMQBindAddress, c.ZMQFrontendPort)
}

// BackendEndpoint returns the ZMQ bind endpoint for the worker-facing socket.
func (c *Config) BackendEndpoint() string {
	return fmt.Sprintf("tcp://%s:%d", c.ZMQBindAddress, c.ZMQBackendPort)
}

// BackendConnectEndpoint returns the ZMQ endpoint a worker process dials
// to reach the broker's backend socket.
func (c *Config) BackendConnectEndpoint() string {
	return fmt.Sprintf("tcp://%s:%d", c.WorkerConnectHost, c.ZMQBackendPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
