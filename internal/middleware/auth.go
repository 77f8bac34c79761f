// Package middleware holds the merchant-facing Gin HTTP middleware chain:
// auth, rate limiting, tracing, CORS, and security headers. Grounded on
// the teacher gateway's services/gateway/internal/middleware package,
// generalized from a user-session JWT to a merchant-session JWT plus a
// raw API-key header path for server-to-server calls.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/acquiro/gateway/internal/jwt"
	"github.com/acquiro/gateway/internal/logger"
)

// MerchantKeyValidator resolves a raw API key to the merchant it belongs
// to, for the server-to-server auth path that doesn't carry a JWT.
type MerchantKeyValidator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (merchantID string, ok bool)
}

// AuthMiddleware authenticates either a Bearer JWT merchant session or a
// raw X-API-Key header, matching §6's two supported credential shapes.
type AuthMiddleware struct {
	jwtManager *jwt.Manager
	keys       MerchantKeyValidator
}

func NewAuthMiddleware(jwtManager *jwt.Manager, keys MerchantKeyValidator) *AuthMiddleware {
	return &AuthMiddleware{jwtManager: jwtManager, keys: keys}
}

// Handle authenticates the request and sets merchant_id in the Gin
// context for downstream handlers.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
			merchantID, ok := m.keys.ValidateAPIKey(ctx, apiKey)
			if !ok {
				log.Warn().Msg("invalid API key")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "invalid API key"})
				return
			}
			c.Set("merchant_id", merchantID)
			c.Next()
			return
		}

		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "authentication required"})
			return
		}

		claims, err := m.jwtManager.ValidateWithBlacklist(ctx, token)
		if err != nil {
			log.Debug().Err(err).Msg("JWT validation failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": "invalid or expired session"})
			return
		}

		c.Set("merchant_id", claims.UserID)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// MerchantID returns the authenticated merchant_id set by AuthMiddleware,
// or "" if the request reached the handler unauthenticated (routes that
// don't mount AuthMiddleware).
func MerchantID(c *gin.Context) string {
	id, _ := c.Get("merchant_id")
	s, _ := id.(string)
	return s
}
