// auth.go implements the account endpoints: registration, login, token
// refresh, current-user lookup, and the two-step OTP password reset flow.
//
// Login failures are deliberately indistinguishable: a wrong password, an
// unknown email, and a deactivated account all produce the same 401 body
// so the endpoint cannot be used to enumerate accounts. Registration is not
// under the same constraint and reports duplicate email/username explicitly.
package handlers

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/telemetry-hub/telemetry-hub/internal/audit"
	"github.com/telemetry-hub/telemetry-hub/internal/auth"
	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
	"github.com/telemetry-hub/telemetry-hub/internal/db/repositories"
	"github.com/telemetry-hub/telemetry-hub/internal/middleware"
)

const (
	// otpTTL is how long a password reset code stays valid
	otpTTL = 15 * time.Minute

	loginFailedMessage = "Incorrect email or password"
	resetAlwaysMessage = "If the email is registered, a reset code has been sent"
	internalErrMessage = "Internal server error"
)

// AuthHandlers handles the account endpoints
type AuthHandlers struct {
	users  *repositories.UserRepository
	otps   *repositories.OTPRepository
	tokens *auth.TokenService
	trail  *audit.Trail
	logger *slog.Logger
}

// NewAuthHandlers creates an AuthHandlers instance. trail may be nil when
// auditing is disabled.
func NewAuthHandlers(users *repositories.UserRepository, otps *repositories.OTPRepository, tokens *auth.TokenService, trail *audit.Trail, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		users:  users,
		otps:   otps,
		tokens: tokens,
		trail:  trail,
		logger: logger,
	}
}

// RegisterRequest is the signup payload
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name"`
}

// TokenResponse carries a freshly issued token pair
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// RegisterHandler creates a new account.
// POST /api/auth/register
func (h *AuthHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid registration payload"})
			return
		}

		existing, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			h.logger.Error("registration lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}
		if existing != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Email already registered"})
			return
		}

		existing, err = h.users.GetUserByUsername(c.Request.Context(), req.Username)
		if err != nil {
			h.logger.Error("registration lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}
		if existing != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Username already taken"})
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			h.logger.Error("password hashing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}

		user := &models.User{
			Username:     req.Username,
			Email:        req.Email,
			PasswordHash: hash,
			FullName:     &req.FullName,
			IsActive:     true,
		}
		if err := h.users.CreateUser(c.Request.Context(), user); err != nil {
			h.logger.Error("user creation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}

		h.trail.Record(c.Request.Context(), audit.Entry{
			Action:    audit.ActionRegister,
			Outcome:   audit.OutcomeSuccess,
			UserID:    user.ID,
			IPAddress: c.ClientIP(),
		})

		c.JSON(http.StatusCreated, user)
	}
}

// LoginRequest is the credential payload. Accounts sign in with the email
// address, not the username.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginHandler exchanges credentials for a token pair.
// POST /api/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid login payload"})
			return
		}

		user, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			h.logger.Error("login lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}

		if user == nil || !user.IsActive || !auth.CheckPassword(req.Password, user.PasswordHash) {
			h.trail.Record(c.Request.Context(), audit.Entry{
				Action:    audit.ActionLogin,
				Outcome:   audit.OutcomeFailure,
				IPAddress: c.ClientIP(),
				Metadata:  map[string]any{"email": req.Email},
			})
			c.JSON(http.StatusUnauthorized, gin.H{"error": loginFailedMessage})
			return
		}

		resp, err := h.issueTokens(user)
		if err != nil {
			h.logger.Error("token issuance failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}

		h.trail.Record(c.Request.Context(), audit.Entry{
			Action:    audit.ActionLogin,
			Outcome:   audit.OutcomeSuccess,
			UserID:    user.ID,
			IPAddress: c.ClientIP(),
		})

		c.JSON(http.StatusOK, resp)
	}
}

// MeHandler returns the authenticated account.
// GET /api/auth/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// RefreshRequest carries the refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshHandler exchanges a refresh token for a new token pair. Access
// tokens are rejected here; only the refresh kind is accepted.
// POST /api/auth/refresh
func (h *AuthHandlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid refresh payload"})
			return
		}

		claims, err := h.tokens.ValidateRefreshToken(req.RefreshToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired refresh token"})
			return
		}

		user, err := h.users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			h.logger.Error("refresh lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}
		if user == nil || !user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired refresh token"})
			return
		}

		resp, err := h.issueTokens(user)
		if err != nil {
			h.logger.Error("token issuance failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

// ResetRequestPayload asks for a password reset code
type ResetRequestPayload struct {
	Email string `json:"email" binding:"required,email"`
}

// ResetRequestHandler issues a reset code for a registered email. The
// response is identical whether or not the email exists.
// POST /api/auth/password-reset/request
func (h *AuthHandlers) ResetRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResetRequestPayload
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid reset request payload"})
			return
		}

		user, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			h.logger.Error("reset request lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}

		if user != nil {
			code, err := generateOTP()
			if err != nil {
				h.logger.Error("OTP generation failed", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
				return
			}

			otp := &models.PasswordResetOTP{
				Email:     req.Email,
				OTPCode:   code,
				ExpiresAt: time.Now().Add(otpTTL),
			}
			if err := h.otps.CreateOTP(c.Request.Context(), otp); err != nil {
				h.logger.Error("OTP persistence failed", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
				return
			}

			// Mail delivery is handled out of band; the code is logged so
			// operators can relay it in deployments without SMTP.
			h.logger.Info("password reset code issued", "email", req.Email)
		}

		c.JSON(http.StatusOK, gin.H{"message": resetAlwaysMessage})
	}
}

// ResetConfirmPayload completes a password reset
type ResetConfirmPayload struct {
	Email       string `json:"email" binding:"required,email"`
	OTPCode     string `json:"otp_code" binding:"required,len=6"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// ResetConfirmHandler sets a new password given a valid, unused, unexpired
// code.
// POST /api/auth/password-reset/confirm
func (h *AuthHandlers) ResetConfirmHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResetConfirmPayload
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid reset confirmation payload"})
			return
		}

		user, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			h.logger.Error("reset confirm lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		otp, err := h.otps.GetValidOTP(c.Request.Context(), req.Email, req.OTPCode)
		if err != nil {
			h.logger.Error("OTP lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}
		if otp == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired reset code"})
			return
		}

		hash, err := auth.HashPassword(req.NewPassword)
		if err != nil {
			h.logger.Error("password hashing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}

		if err := h.users.UpdatePassword(c.Request.Context(), user.ID, hash); err != nil {
			h.logger.Error("password update failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": internalErrMessage})
			return
		}

		if err := h.otps.MarkOTPUsed(c.Request.Context(), otp.ID); err != nil {
			h.logger.Error("OTP consume failed", "otp_id", otp.ID, "error", err)
		}

		h.trail.Record(c.Request.Context(), audit.Entry{
			Action:    audit.ActionPasswordReset,
			Outcome:   audit.OutcomeSuccess,
			UserID:    user.ID,
			IPAddress: c.ClientIP(),
		})

		c.JSON(http.StatusOK, gin.H{"message": "Password has been reset"})
	}
}

func (h *AuthHandlers) issueTokens(user *models.User) (*TokenResponse, error) {
	access, err := h.tokens.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	refresh, err := h.tokens.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	}, nil
}

// generateOTP draws a uniform 6-digit code
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
