// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	API      APIConfig
	Import   ImportConfig
	Bulk     BulkConfig
	Sessions SessionConfig
	Database DatabaseConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// APIConfig describes the remote accounting API this service drives.
type APIConfig struct {
	// BaseURL is the accounting backend root, e.g. https://erp.example.com (required)
	BaseURL string `env:"ACCOUNTING_API_URL" envAlt:"API_BASE_URL" required:"true"`

	// Token is sent as a bearer token on every backend call
	Token string `env:"ACCOUNTING_API_TOKEN"`

	// Timeout bounds a single backend call (default: 60s)
	Timeout time.Duration `env:"ACCOUNTING_API_TIMEOUT" default:"60s"`

	// RequestsPerSecond throttles outbound calls; 0 disables throttling (default: 10)
	RequestsPerSecond float64 `env:"ACCOUNTING_API_RPS" default:"10"`

	// Burst is the limiter burst size (default: 5)
	Burst int `env:"ACCOUNTING_API_BURST" default:"5"`
}

// ImportConfig holds import pipeline settings.
type ImportConfig struct {
	// MaxFileSize is the maximum accepted file size in bytes (default: 10MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"10485760"`

	// AllowedExtensions lists the accepted file extensions (default: csv,xlsx,xls,json)
	AllowedExtensions []string `env:"IMPORT_ALLOWED_EXTENSIONS" default:"csv,xlsx,xls,json"`

	// SuggestionThreshold is the confidence a suggestion must exceed to be applied (default: 0.5)
	SuggestionThreshold float64 `env:"IMPORT_SUGGESTION_THRESHOLD" default:"0.5"`

	// SampleSize is the row count used for sample previews (default: 10)
	SampleSize int `env:"IMPORT_SAMPLE_SIZE" default:"10"`

	// BatchSize is the default execute batch size (default: 100)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"100"`

	// PreviewBatchSize is the default batch size for full-file preview (default: 500)
	PreviewBatchSize int `env:"IMPORT_PREVIEW_BATCH_SIZE" default:"500"`

	// MinBatchSize and MaxBatchSize bound caller-supplied batch sizes when
	// the backend does not advertise its own limits.
	MinBatchSize int `env:"IMPORT_MIN_BATCH_SIZE" default:"10"`
	MaxBatchSize int `env:"IMPORT_MAX_BATCH_SIZE" default:"1000"`

	// PollInterval is how often execution status is polled (default: 2s)
	PollInterval time.Duration `env:"IMPORT_POLL_INTERVAL" default:"2s"`

	// ExecuteTimeout bounds a started execution, status polling included,
	// independently of the request that started it; 0 disables it (default: 30m)
	ExecuteTimeout time.Duration `env:"IMPORT_EXECUTE_TIMEOUT" default:"30m"`

	// MaxConcurrent is the maximum number of parallel executions (default: 5)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an execution slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`
}

// BulkConfig holds bulk entity operation settings.
type BulkConfig struct {
	// PageSize is the number of entities loaded per list page (default: 50)
	PageSize int `env:"BULK_PAGE_SIZE" default:"50"`

	// SkipIneligible asks the backend to skip rather than fail ineligible items (default: true)
	SkipIneligible bool `env:"BULK_SKIP_INELIGIBLE" default:"true"`
}

// SessionConfig controls how long idle import sessions and bulk controllers live.
type SessionConfig struct {
	// IdleTTL is the idle time after which a session is cancelled (default: 30m)
	IdleTTL time.Duration `env:"SESSION_IDLE_TTL" default:"30m"`

	// ReapInterval is how often idle sessions are checked (default: 1m)
	ReapInterval time.Duration `env:"SESSION_REAP_INTERVAL" default:"1m"`
}

// DatabaseConfig holds optional database settings for import history and
// mapping templates. When URL is empty, in-memory stores are used.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database has been configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// RateLimitConfig holds inbound rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key authentication (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// FilePath enables rotating file output in addition to stdout
	FilePath string `env:"LOG_FILE"`

	// FileMaxSizeMB is the size at which the log file rotates (default: 100)
	FileMaxSizeMB int `env:"LOG_FILE_MAX_SIZE_MB" default:"100"`

	// FileMaxFiles is the number of rotated files kept (default: 3)
	FileMaxFiles int `env:"LOG_FILE_MAX_FILES" default:"3"`

	// FileMaxAgeDays is how long rotated files are kept (default: 30)
	FileMaxAgeDays int `env:"LOG_FILE_MAX_AGE_DAYS" default:"30"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// ClampBatchSize bounds n into [MinBatchSize, MaxBatchSize], falling back to
// BatchSize when n is not positive.
func (c *ImportConfig) ClampBatchSize(n int) int {
	if n <= 0 {
		n = c.BatchSize
	}
	if n < c.MinBatchSize {
		return c.MinBatchSize
	}
	if c.MaxBatchSize > 0 && n > c.MaxBatchSize {
		return c.MaxBatchSize
	}
	return n
}
