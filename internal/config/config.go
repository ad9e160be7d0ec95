package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// AppEnv is the running environment (development/production).
	AppEnv string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// DBDriver selects the backend: mysql, postgres, sqlite, mongo or remote.
	DBDriver string
	// DBDSN is the connection string for the selected backend.
	DBDSN string

	// QueryLimit caps the rows a single stream may deliver. 0 means no cap.
	QueryLimit int
	// QueryPrefetch is how many rows beyond current demand a driver is asked for.
	QueryPrefetch int
	// QueryTimeout is the maximum duration of one export job.
	QueryTimeout time.Duration

	// WorkerCount is the number of concurrent export jobs allowed.
	WorkerCount int
	// MaxDBConcurrency restricts the global number of concurrent DB queries.
	MaxDBConcurrency int64

	// StorageType determines where to save exports: "local" or "s3".
	StorageType      string
	LocalStoragePath string
	AWSRegion        string
	S3Bucket         string
	// S3Endpoint is an optional custom endpoint (MinIO and other S3 providers).
	S3Endpoint  string
	S3PathStyle bool
	// Compression enables gzip for exports.
	Compression bool

	// AgentAddr is the listen address of the agent.
	AgentAddr string
	// AgentURL is the WebSocket URL of a remote agent (ws:// or wss://).
	AgentURL   string
	AgentKey   string
	AgentToken string
	// AgentKeyHashes are the bcrypt hashes of the keys the agent accepts.
	AgentKeyHashes []string
	// APISecret signs and verifies bearer tokens.
	APISecret string

	// MetricsAddr serves /metrics when set.
	MetricsAddr string
}

func Load() *Config {
	return &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DBDriver:         getEnv("DB_DRIVER", "mysql"),
		DBDSN:            getEnv("DB_DSN", getEnv("MYSQL_DSN", "")),
		QueryLimit:       getEnvInt("QUERY_LIMIT", 0),
		QueryPrefetch:    getEnvInt("QUERY_PREFETCH", 100),
		QueryTimeout:     getEnvDuration("QUERY_TIMEOUT", 15*time.Minute),
		WorkerCount:      getEnvInt("WORKER_COUNT", 5),
		MaxDBConcurrency: int64(getEnvInt("MAX_DB_CONCURRENCY", 3)),
		StorageType:      getEnv("STORAGE_TYPE", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./exports"),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
		S3Bucket:         getEnv("S3_BUCKET", ""),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		S3PathStyle:      getEnvBool("S3_PATH_STYLE", false),
		Compression:      getEnvBool("COMPRESSION", false),
		AgentAddr:        getEnv("AGENT_ADDR", ":8090"),
		AgentURL:         getEnv("AGENT_URL", ""),
		AgentKey:         getEnv("AGENT_KEY", ""),
		AgentToken:       getEnv("AGENT_TOKEN", ""),
		AgentKeyHashes:   getEnvSlice("AGENT_KEY_HASHES", nil),
		APISecret:        getEnv("API_SECRET", ""),
		MetricsAddr:      getEnv("METRICS_ADDR", ""),
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite", "mongo":
		if c.DBDSN == "" {
			errs = append(errs, fmt.Errorf("DB_DSN is required for %s", c.DBDriver))
		}
	case "remote":
		if c.AgentURL == "" {
			errs = append(errs, errors.New("AGENT_URL is required for the remote driver"))
		}
		if c.AgentKey == "" && c.AgentToken == "" {
			errs = append(errs, errors.New("AGENT_KEY or AGENT_TOKEN is required for the remote driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver))
	}
	switch c.StorageType {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_TYPE %q", c.StorageType))
	}
	if c.QueryLimit < 0 || c.QueryPrefetch < 0 {
		errs = append(errs, errors.New("QUERY_LIMIT and QUERY_PREFETCH must not be negative"))
	}
	if c.WorkerCount < 1 || c.MaxDBConcurrency < 1 {
		errs = append(errs, errors.New("WORKER_COUNT and MAX_DB_CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
