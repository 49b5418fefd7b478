// Package config loads and validates the telemetry hub configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the THB_ prefix (e.g., THB_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// The loaded Config value is immutable after Load returns and is passed explicitly
// into every component constructor. Nothing in the application reads configuration
// from ambient globals, including the JWT signing secret.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Security  SecurityConfig  `mapstructure:"security"`
	Retention RetentionConfig `mapstructure:"retention"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AuditConfig configures the security audit trail. When disabled no records
// are emitted; when enabled records go to the file path, the webhook URL, or
// both, whichever are set.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// FilePath is the JSON-lines audit log location ("" disables the file
	// destination).
	FilePath string `mapstructure:"file_path"`
	// FileMaxSizeMB triggers rotation (0 = never rotate).
	FileMaxSizeMB int `mapstructure:"file_max_size_mb"`
	// FileMaxBackups is how many rotated files to keep.
	FileMaxBackups int `mapstructure:"file_max_backups"`
	// WebhookURL is the collector endpoint ("" disables the webhook
	// destination).
	WebhookURL string `mapstructure:"webhook_url"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// QueueConfig holds the Redis-backed ingestion queue configuration.
// The queue is best-effort: when Redis is unreachable the ingestion
// pipeline falls back to synchronous database writes, so a queue outage
// degrades processing consistency but never ingestion availability.
type QueueConfig struct {
	// Addr is the Redis server address in host:port form.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// EnqueueTimeout bounds a single enqueue attempt so a slow Redis
	// cannot stall a request handler.
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
	// Workers is the number of concurrent retry-worker goroutines.
	Workers int `mapstructure:"workers"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// JWTSecret signs both access and refresh tokens. Required; there is
	// no dev-mode auto-generated fallback.
	JWTSecret string `mapstructure:"jwt_secret"`
	// AccessTokenTTL is the access token lifetime (default 1h).
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	// RefreshTokenTTL is the refresh token lifetime (default 168h).
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	// APIKeyPrefix is prepended to generated gateway API keys (default "lora").
	APIKeyPrefix string `mapstructure:"api_key_prefix"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds the sliding-window limits for the credential
// endpoints. The window state is an in-memory map, so limits apply per
// service instance — running multiple replicas multiplies the effective
// limit accordingly.
type RateLimitingConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	LoginLimit        int           `mapstructure:"login_limit"`
	LoginWindow       time.Duration `mapstructure:"login_window"`
	ResetLimit        int           `mapstructure:"reset_limit"`
	ResetWindow       time.Duration `mapstructure:"reset_window"`
	MaxTrackedClients int           `mapstructure:"max_tracked_clients"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// RetentionConfig holds the reading-retention cleanup job configuration.
type RetentionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Days is how long readings are kept before deletion (default 90).
	Days int `mapstructure:"days"`
	// CheckIntervalHours determines how often the cleanup runs (default 24).
	CheckIntervalHours int `mapstructure:"check_interval_hours"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",

		// Queue
		"queue.addr",
		"queue.password",
		"queue.db",
		"queue.enqueue_timeout",
		"queue.workers",

		// Auth
		"auth.jwt_secret",
		"auth.access_token_ttl",
		"auth.refresh_token_ttl",
		"auth.api_key_prefix",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.login_limit",
		"security.rate_limiting.login_window",
		"security.rate_limiting.reset_limit",
		"security.rate_limiting.reset_window",
		"security.rate_limiting.max_tracked_clients",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Retention
		"retention.enabled",
		"retention.days",
		"retention.check_interval_hours",

		// Audit
		"audit.enabled",
		"audit.file_path",
		"audit.file_max_size_mb",
		"audit.file_max_backups",
		"audit.webhook_url",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/telemetry-hub")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("THB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Queue.Password = expandEnv(cfg.Queue.Password)
	cfg.Auth.JWTSecret = expandEnv(cfg.Auth.JWTSecret)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "telemetry_hub")
	v.SetDefault("database.user", "telemetry")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Queue defaults
	v.SetDefault("queue.addr", "localhost:6379")
	v.SetDefault("queue.db", 0)
	v.SetDefault("queue.enqueue_timeout", "2s")
	v.SetDefault("queue.workers", 4)

	// Auth defaults
	v.SetDefault("auth.access_token_ttl", "1h")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.api_key_prefix", "lora")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.login_limit", 5)
	v.SetDefault("security.rate_limiting.login_window", "60s")
	v.SetDefault("security.rate_limiting.reset_limit", 3)
	v.SetDefault("security.rate_limiting.reset_window", "1h")
	v.SetDefault("security.rate_limiting.max_tracked_clients", 10000)
	v.SetDefault("security.tls.enabled", false)

	// Retention defaults
	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.days", 90)
	v.SetDefault("retention.check_interval_hours", 24)

	// Audit defaults
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.file_path", "audit.log")
	v.SetDefault("audit.file_max_size_mb", 100)
	v.SetDefault("audit.file_max_backups", 3)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "telemetry-hub")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (generate one with: openssl rand -hex 32)")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be positive")
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("auth.refresh_token_ttl must be positive")
	}

	// Validate queue. An empty addr disables the queue entirely, so the
	// worker count only matters when one is configured.
	if c.Queue.Addr != "" && c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}

	// Validate rate limiting
	if c.Security.RateLimiting.Enabled {
		if c.Security.RateLimiting.LoginLimit < 1 || c.Security.RateLimiting.ResetLimit < 1 {
			return fmt.Errorf("rate limiting limits must be at least 1")
		}
		if c.Security.RateLimiting.LoginWindow <= 0 || c.Security.RateLimiting.ResetWindow <= 0 {
			return fmt.Errorf("rate limiting windows must be positive")
		}
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate retention
	if c.Retention.Enabled && c.Retention.Days < 1 {
		return fmt.Errorf("retention.days must be at least 1 when retention is enabled")
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
