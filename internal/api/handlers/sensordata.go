// Package handlers implements the HTTP handlers for the telemetry hub API.
// The ingestion handler resolves credentials itself (API key or bearer token);
// the read/query handlers rely on middleware.RequireUser having already
// authenticated the request.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/telemetry-hub/telemetry-hub/internal/auth"
	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
	"github.com/telemetry-hub/telemetry-hub/internal/db/repositories"
	"github.com/telemetry-hub/telemetry-hub/internal/ingest"
	"github.com/telemetry-hub/telemetry-hub/internal/middleware"
)

// APIKeyHeader carries the gateway credential on ingestion requests
const APIKeyHeader = "X-API-Key"

// SensorDataHandlers handles ingestion and tenant-scoped reads
type SensorDataHandlers struct {
	resolver *auth.Resolver
	pipeline *ingest.Pipeline
	readings *repositories.ReadingRepository
	logger   *slog.Logger
}

// NewSensorDataHandlers creates a SensorDataHandlers instance
func NewSensorDataHandlers(resolver *auth.Resolver, pipeline *ingest.Pipeline, readings *repositories.ReadingRepository, logger *slog.Logger) *SensorDataHandlers {
	return &SensorDataHandlers{
		resolver: resolver,
		pipeline: pipeline,
		readings: readings,
		logger:   logger,
	}
}

// SensorDataRequest is the ingestion payload posted by a field gateway
type SensorDataRequest struct {
	GatewayID      string              `json:"gateway_id" binding:"required"`
	NodeID         string              `json:"node_id" binding:"required"`
	Timestamp      time.Time           `json:"timestamp" binding:"required"`
	Humidity       *float64            `json:"humidity"`
	Moisture       *float64            `json:"moisture"`
	Temperature    *float64            `json:"temperature"`
	BatteryVoltage *float64            `json:"battery_voltage"`
	Measurements   models.Measurements `json:"measurements"`
}

// IngestResponse is returned for every accepted reading. JobID is null when
// the reading was written synchronously instead of queued.
type IngestResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	JobID   *string `json:"job_id"`
}

// IngestHandler accepts one sensor reading.
// POST /api/sensor-data
//
// Authentication: X-API-Key header or a bearer access token; the API key
// wins when both are present. A 401 is returned when neither resolves.
func (h *SensorDataHandlers) IngestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.resolver.ResolveOptional(c.Request.Context(),
			c.GetHeader(APIKeyHeader), middleware.BearerToken(c))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredCredential):
				c.JSON(http.StatusUnauthorized, gin.H{"error": "API key expired"})
			case errors.Is(err, auth.ErrInvalidCredential):
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			case errors.Is(err, auth.ErrNoCredential):
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			default:
				h.logger.Error("credential resolution failed", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
			return
		}

		var req SensorDataRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sensor data payload"})
			return
		}

		reading := &models.SensorReading{
			UserID:         user.ID,
			GatewayID:      req.GatewayID,
			NodeID:         req.NodeID,
			Timestamp:      req.Timestamp,
			Humidity:       req.Humidity,
			Moisture:       req.Moisture,
			Temperature:    req.Temperature,
			BatteryVoltage: req.BatteryVoltage,
			Measurements:   req.Measurements,
		}

		result, err := h.pipeline.Submit(c.Request.Context(), reading)
		if err != nil {
			h.logger.Error("failed to persist sensor reading",
				"user_id", user.ID, "gateway_id", req.GatewayID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store sensor data"})
			return
		}

		resp := IngestResponse{Status: "success"}
		if result.Queued {
			resp.Message = "Sensor data queued for processing"
			resp.JobID = &result.JobID
		} else {
			resp.Message = "Sensor data stored"
		}

		c.JSON(http.StatusOK, resp)
	}
}

// ListHandler returns the tenant's readings, newest first.
// GET /api/sensor-data?gateway_id=&node_id=&hours=&limit=&skip=
func (h *SensorDataHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		filter := repositories.ReadingFilter{
			GatewayID:  c.Query("gateway_id"),
			NodeID:     c.Query("node_id"),
			SinceHours: intQuery(c, "hours", 0),
			Limit:      intQuery(c, "limit", 0),
			Offset:     intQuery(c, "skip", 0),
		}

		readings, err := h.readings.ListReadings(c.Request.Context(), user.ID, filter)
		if err != nil {
			h.logger.Error("failed to list readings", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sensor data"})
			return
		}

		// Bare array, empty when the tenant has no matching rows
		c.JSON(http.StatusOK, readings)
	}
}

// GatewaysHandler lists the tenant's distinct gateway IDs.
// GET /api/gateways
func (h *SensorDataHandlers) GatewaysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		gateways, err := h.readings.ListGateways(c.Request.Context(), user.ID)
		if err != nil {
			h.logger.Error("failed to list gateways", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list gateways"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"gateways": gateways})
	}
}

// NodesHandler lists the tenant's distinct node IDs, optionally narrowed to
// one gateway.
// GET /api/nodes?gateway_id=
func (h *SensorDataHandlers) NodesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		nodes, err := h.readings.ListNodes(c.Request.Context(), user.ID, c.Query("gateway_id"))
		if err != nil {
			h.logger.Error("failed to list nodes", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list nodes"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"nodes": nodes})
	}
}

// StatsHandler returns aggregate counts for the tenant's dataset.
// GET /api/stats
func (h *SensorDataHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		stats, err := h.readings.GetStats(c.Request.Context(), user.ID)
		if err != nil {
			h.logger.Error("failed to compute stats", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute statistics"})
			return
		}

		c.JSON(http.StatusOK, stats)
	}
}

// intQuery parses a non-negative integer query parameter, returning fallback
// on absence or garbage
func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
