// auth.go provides the bearer-token authentication middleware used by all
// read/query endpoints. The ingestion endpoint does its own credential
// resolution (API key or bearer) inside the handler; everything else goes
// through RequireUser.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/telemetry-hub/telemetry-hub/internal/auth"
	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
)

const (
	// UserKey is the gin.Context key holding the authenticated *models.User
	UserKey = "user"

	// UserIDKey is the gin.Context key holding the authenticated user's ID
	UserIDKey = "user_id"
)

// BearerToken extracts the token from an Authorization header, returning ""
// when the header is absent or not a Bearer scheme.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// RequireUser returns a middleware that authenticates the request with a
// bearer access token and aborts with 401 otherwise. Credential failures all
// map to the same generic message; failures that are not about the
// credential itself (a store outage, for example) surface as 500 so a
// database problem is not mistaken for a bad token.
func RequireUser(resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := resolver.ResolveRequired(c.Request.Context(), BearerToken(c))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrAuthenticationRequired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Authentication required",
				})
			case errors.Is(err, auth.ErrInvalidCredential), errors.Is(err, auth.ErrExpiredCredential), errors.Is(err, auth.ErrNoCredential):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid or expired credentials",
				})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
			}
			return
		}

		c.Set(UserKey, user)
		c.Set(UserIDKey, user.ID)

		c.Next()
	}
}

// CurrentUser returns the authenticated user stored by RequireUser
func CurrentUser(c *gin.Context) (*models.User, bool) {
	value, exists := c.Get(UserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}
