// Package api wires together all HTTP routes for the telemetry hub backend.
//
// Route grouping philosophy:
//   - POST /api/sensor-data is the gateway-facing ingestion endpoint. It
//     accepts either an X-API-Key header or a bearer token and resolves the
//     credential inside the handler, so it is registered without the
//     RequireUser middleware.
//   - All read/query routes and account-management routes require a bearer
//     access token via middleware.RequireUser.
//   - The login and password-reset-request routes sit behind dedicated
//     sliding-window rate limiters keyed by client IP.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/telemetry-hub/telemetry-hub/internal/api/handlers"
	"github.com/telemetry-hub/telemetry-hub/internal/audit"
	"github.com/telemetry-hub/telemetry-hub/internal/auth"
	"github.com/telemetry-hub/telemetry-hub/internal/config"
	"github.com/telemetry-hub/telemetry-hub/internal/db/repositories"
	"github.com/telemetry-hub/telemetry-hub/internal/ingest"
	"github.com/telemetry-hub/telemetry-hub/internal/jobs"
	"github.com/telemetry-hub/telemetry-hub/internal/middleware"
	"github.com/telemetry-hub/telemetry-hub/internal/queue"
	"github.com/telemetry-hub/telemetry-hub/internal/safego"
)

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() after the HTTP server has drained.
type BackgroundServices struct {
	worker       *ingest.Worker
	retentionJob *jobs.RetentionJob
	jobQueue     *queue.Queue
	rateLimiters []*middleware.RateLimiter
	auditTrail   *audit.Trail
}

// Shutdown stops all background goroutines, worker pool first so in-flight
// jobs finish before the queue connection closes.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.worker != nil {
		bg.worker.Stop()
	}
	if bg.retentionJob != nil {
		bg.retentionJob.Stop()
	}
	if bg.jobQueue != nil {
		if err := bg.jobQueue.Close(); err != nil {
			slog.Error("failed to close job queue", "error", err)
		}
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	bg.auditTrail.Close()
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	logger := slog.Default()
	bg := &BackgroundServices{}

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	otpRepo := repositories.NewOTPRepository(db)
	readingRepo := repositories.NewReadingRepository(sqlx.NewDb(db, "postgres"))

	// Auth services
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	resolver := auth.NewResolver(tokens, userRepo, apiKeyRepo, logger)

	// Ingestion queue and worker pool. An unreachable Redis is tolerated:
	// the pipeline falls back to direct writes until the queue recovers.
	var enqueuer ingest.Enqueuer
	if cfg.Queue.Addr != "" {
		jobQueue := queue.New(cfg.Queue.Addr, cfg.Queue.Password, cfg.Queue.DB, cfg.Queue.EnqueueTimeout)
		if err := jobQueue.Ping(context.Background()); err != nil {
			logger.Warn("job queue unreachable at startup, ingestion will fall back to direct writes",
				"addr", cfg.Queue.Addr, "error", err)
		}
		worker := ingest.NewWorker(jobQueue, readingRepo, cfg.Queue.Workers, logger)
		worker.Start()

		enqueuer = jobQueue
		bg.jobQueue = jobQueue
		bg.worker = worker
	} else {
		logger.Info("job queue disabled, all readings will be written synchronously")
	}

	pipeline := ingest.NewPipeline(enqueuer, readingRepo, logger)

	// Retention cleanup job
	retentionJob := jobs.NewRetentionJob(readingRepo, otpRepo, &cfg.Retention, logger)
	safego.Go(func() { retentionJob.Start(context.Background()) })
	bg.retentionJob = retentionJob

	// Security audit trail. A nil trail discards records, so a misconfigured
	// destination degrades auditing without taking the API down.
	auditTrail := newAuditTrail(&cfg.Audit, logger)
	bg.auditTrail = auditTrail

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health and version
	router.GET("/", healthCheckHandler(db))
	router.GET("/health", healthCheckHandler(db))
	router.GET("/version", versionHandler())

	// Rate limiters for the credential endpoints
	loginLimit := noLimit
	resetLimit := noLimit
	if cfg.Security.RateLimiting.Enabled {
		rl := cfg.Security.RateLimiting
		loginLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
			Limit:             rl.LoginLimit,
			Window:            rl.LoginWindow,
			MaxTrackedClients: rl.MaxTrackedClients,
			CleanupInterval:   5 * time.Minute,
		})
		resetLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
			Limit:             rl.ResetLimit,
			Window:            rl.ResetWindow,
			MaxTrackedClients: rl.MaxTrackedClients,
			CleanupInterval:   5 * time.Minute,
		})
		bg.rateLimiters = append(bg.rateLimiters, loginLimiter, resetLimiter)
		loginLimit = middleware.RateLimitMiddleware(loginLimiter, "login")
		resetLimit = middleware.RateLimitMiddleware(resetLimiter, "password_reset")
	}

	// Handlers
	sensorData := handlers.NewSensorDataHandlers(resolver, pipeline, readingRepo, logger)
	authHandlers := handlers.NewAuthHandlers(userRepo, otpRepo, tokens, auditTrail, logger)
	apiKeys := handlers.NewAPIKeyHandlers(apiKeyRepo, cfg.Auth.APIKeyPrefix, auditTrail, logger)

	requireUser := middleware.RequireUser(resolver)

	apiGroup := router.Group("/api")
	{
		// Ingestion: dual-credential resolution inside the handler
		apiGroup.POST("/sensor-data", sensorData.IngestHandler())

		// Tenant-scoped reads
		apiGroup.GET("/sensor-data", requireUser, sensorData.ListHandler())
		apiGroup.GET("/gateways", requireUser, sensorData.GatewaysHandler())
		apiGroup.GET("/nodes", requireUser, sensorData.NodesHandler())
		apiGroup.GET("/stats", requireUser, sensorData.StatsHandler())

		// API key management
		apiGroup.POST("/keys", requireUser, apiKeys.CreateHandler())
		apiGroup.GET("/keys", requireUser, apiKeys.ListHandler())
		apiGroup.DELETE("/keys/:id", requireUser, apiKeys.RevokeHandler())
	}

	authGroup := apiGroup.Group("/auth")
	{
		authGroup.POST("/register", authHandlers.RegisterHandler())
		authGroup.POST("/login", loginLimit, authHandlers.LoginHandler())
		authGroup.GET("/me", requireUser, authHandlers.MeHandler())
		authGroup.POST("/refresh", authHandlers.RefreshHandler())
		authGroup.POST("/password-reset/request", resetLimit, authHandlers.ResetRequestHandler())
		authGroup.POST("/password-reset/confirm", authHandlers.ResetConfirmHandler())
	}

	return router, bg
}

// noLimit is the pass-through used when rate limiting is disabled
func noLimit(c *gin.Context) {
	c.Next()
}

// newAuditTrail builds the audit trail from config, nil when disabled or no
// destination could be opened
func newAuditTrail(cfg *config.AuditConfig, logger *slog.Logger) *audit.Trail {
	if !cfg.Enabled {
		return nil
	}

	var shippers []audit.Shipper
	if cfg.FilePath != "" {
		fs, err := audit.NewFileShipper(&audit.FileConfig{
			Path:       cfg.FilePath,
			MaxSizeMB:  cfg.FileMaxSizeMB,
			MaxBackups: cfg.FileMaxBackups,
		})
		if err != nil {
			logger.Error("failed to open audit log file", "path", cfg.FilePath, "error", err)
		} else {
			shippers = append(shippers, fs)
		}
	}
	if cfg.WebhookURL != "" {
		ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: cfg.WebhookURL})
		if err != nil {
			logger.Error("failed to configure audit webhook", "error", err)
		} else {
			shippers = append(shippers, ws)
		}
	}
	if len(shippers) == 0 {
		logger.Warn("audit enabled but no destination configured")
		return nil
	}

	return audit.NewTrail(audit.NewMultiShipper(logger, shippers...), logger)
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"service": "telemetry-hub",
			"version": "0.1.0",
			"status":  "healthy",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.Any("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
