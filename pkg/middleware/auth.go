package middleware

import (
	"strings"

	"streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/jwt"
	"streamkit/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	claimsKey = "claims"
	userIDKey = "userID"
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*jwt.JWTClaims, error)
}

// OptionalAuth attaches the caller identity when a valid token is presented.
// Anonymous requests continue; an invalid token is rejected.
func OptionalAuth(validator TokenValidator, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			log.Warn("Invalid JWT token", "error", err.Error())
			_ = c.Error(errors.NewUnauthorizedError("INVALID_TOKEN", "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(claimsKey, claims)
		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

// RequireUser rejects requests without an authenticated identity
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUser(c); !ok {
			_ = c.Error(errors.NewUnauthorizedError("AUTH_REQUIRED", "Authentication required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentUser returns the identity attached by OptionalAuth, if any
func CurrentUser(c *gin.Context) (*jwt.Identity, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwt.JWTClaims)
	if !ok || claims.UserID == "" {
		return nil, false
	}
	identity := claims.Identity
	return &identity, true
}

// extractToken reads the Authorization header, falling back to the
// access_token query parameter used by browser websocket clients
func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimPrefix(header, "Bearer ")
		}
		return header
	}
	return c.Query("access_token")
}
