// apikeys.go implements API key management for authenticated users. The raw
// key appears exactly once, in the creation response; afterwards only the
// display prefix is available.
package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/telemetry-hub/telemetry-hub/internal/audit"
	"github.com/telemetry-hub/telemetry-hub/internal/auth"
	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
	"github.com/telemetry-hub/telemetry-hub/internal/db/repositories"
	"github.com/telemetry-hub/telemetry-hub/internal/middleware"
)

// APIKeyHandlers handles key management endpoints
type APIKeyHandlers struct {
	keys      *repositories.APIKeyRepository
	keyScheme string
	trail     *audit.Trail
	logger    *slog.Logger
}

// NewAPIKeyHandlers creates an APIKeyHandlers instance. keyScheme is the
// prefix new keys carry (e.g. "lora"); trail may be nil when auditing is
// disabled.
func NewAPIKeyHandlers(keys *repositories.APIKeyRepository, keyScheme string, trail *audit.Trail, logger *slog.Logger) *APIKeyHandlers {
	return &APIKeyHandlers{
		keys:      keys,
		keyScheme: keyScheme,
		trail:     trail,
		logger:    logger,
	}
}

// CreateAPIKeyRequest names a new key and optionally bounds its lifetime
type CreateAPIKeyRequest struct {
	Name      string     `json:"name" binding:"required,max=100"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// CreateAPIKeyResponse includes the raw key, returned only at creation
type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	KeyPrefix string     `json:"key_prefix"`
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateHandler mints a new API key for the authenticated user.
// POST /api/keys
func (h *APIKeyHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		var req CreateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid API key payload"})
			return
		}

		if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Expiry must be in the future"})
			return
		}

		rawKey, hash, prefix, err := auth.GenerateAPIKey(h.keyScheme)
		if err != nil {
			h.logger.Error("API key generation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		key := &models.APIKey{
			UserID:    user.ID,
			Name:      req.Name,
			KeyHash:   hash,
			KeyPrefix: prefix,
			IsActive:  true,
			ExpiresAt: req.ExpiresAt,
		}
		if err := h.keys.CreateAPIKey(c.Request.Context(), key); err != nil {
			h.logger.Error("API key persistence failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		h.trail.Record(c.Request.Context(), audit.Entry{
			Action:    audit.ActionAPIKeyCreate,
			Outcome:   audit.OutcomeSuccess,
			UserID:    user.ID,
			IPAddress: c.ClientIP(),
			Metadata:  map[string]any{"key_id": key.ID, "key_prefix": key.KeyPrefix},
		})

		c.JSON(http.StatusCreated, CreateAPIKeyResponse{
			ID:        key.ID,
			Name:      key.Name,
			Key:       rawKey,
			KeyPrefix: key.KeyPrefix,
			ExpiresAt: key.ExpiresAt,
			CreatedAt: key.CreatedAt,
		})
	}
}

// ListHandler lists the user's keys, raw values omitted.
// GET /api/keys
func (h *APIKeyHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		keys, err := h.keys.ListAPIKeysByUser(c.Request.Context(), user.ID)
		if err != nil {
			h.logger.Error("API key listing failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"keys": keys})
	}
}

// RevokeHandler soft-deactivates one of the user's keys.
// DELETE /api/keys/:id
func (h *APIKeyHandlers) RevokeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		err := h.keys.RevokeAPIKey(c.Request.Context(), c.Param("id"), user.ID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
			return
		}
		if err != nil {
			h.logger.Error("API key revocation failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		h.trail.Record(c.Request.Context(), audit.Entry{
			Action:    audit.ActionAPIKeyRevoke,
			Outcome:   audit.OutcomeSuccess,
			UserID:    user.ID,
			IPAddress: c.ClientIP(),
			Metadata:  map[string]any{"key_id": c.Param("id")},
		})

		c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
	}
}
