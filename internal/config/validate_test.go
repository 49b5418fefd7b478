package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a configuration that passes Validate, for tests to
// break one field at a time.
func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8000},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, Name: "telemetry_hub", User: "telemetry"},
		Queue:    QueueConfig{Addr: "localhost:6379", Workers: 4},
		Auth: AuthConfig{
			JWTSecret:       "0123456789abcdef0123456789abcdef",
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 168 * time.Hour,
		},
		Security: SecurityConfig{
			RateLimiting: RateLimitingConfig{
				Enabled:     true,
				LoginLimit:  5,
				LoginWindow: time.Minute,
				ResetLimit:  3,
				ResetWindow: time.Hour,
			},
		},
		Retention: RetentionConfig{Enabled: true, Days: 90},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_QueueDisabledIsValid(t *testing.T) {
	cfg := validConfig()
	cfg.Queue.Addr = ""
	cfg.Queue.Workers = 0
	assert.NoError(t, cfg.Validate(), "empty queue addr means the queue is disabled")
}

func TestValidate_TLSRequiresCertAndKey(t *testing.T) {
	cfg := validConfig()
	cfg.Security.TLS.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cert_file")

	cfg.Security.TLS.CertFile = "/etc/tls/server.crt"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_file")

	cfg.Security.TLS.KeyFile = "/etc/tls/server.key"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RateLimitWindows(t *testing.T) {
	cfg := validConfig()
	cfg.Security.RateLimiting.LoginWindow = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Security.RateLimiting.ResetLimit = 0
	assert.Error(t, cfg.Validate())

	// disabled rate limiting skips the checks entirely
	cfg.Security.RateLimiting.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RetentionDays(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.Days = 0
	assert.Error(t, cfg.Validate())

	cfg.Retention.Enabled = false
	assert.NoError(t, cfg.Validate(), "days are not checked when retention is disabled")
}

func TestValidate_LoggingLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging level")
}
