package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Avanquish/DoughNation-sub002/internal/auth"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
)

// AuthMiddleware validates session tokens and sets the identity in context.
// The token comes from the Authorization header or, for websocket upgrades
// where browsers cannot set headers, the token query parameter.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
				c.Abort()
				return
			}
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}

		identity, err := auth.VerifyIdentity(tokenString, secret)
		if err != nil {
			log.Debug("Rejected token from %s: %v", c.Request.RemoteAddr, err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set(auth.ContextKey, identity)
		c.Next()
	}
}

// currentIdentity reads what AuthMiddleware stored.
func currentIdentity(c *gin.Context) (models.Identity, bool) {
	value, exists := c.Get(auth.ContextKey)
	if !exists {
		return models.Identity{}, false
	}
	identity, ok := value.(models.Identity)
	return identity, ok
}
