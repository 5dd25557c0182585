package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Avanquish/DoughNation-sub002/internal/auth"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/websocket"
)

// TokenHandler issues development session tokens. Accounts live elsewhere;
// the relay trusts whoever can reach this endpoint.
type TokenHandler struct {
	Secret  []byte
	TTL     time.Duration
	Manager *websocket.Manager
}

type tokenRequest struct {
	ID    models.ID `json:"id" binding:"required"`
	Role  string    `json:"role" binding:"required"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// Issue returns a signed token for the posted identity
func (h *TokenHandler) Issue(c *gin.Context) {
	var input tokenRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role, err := models.ParseRole(input.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Role must be bakery or charity"})
		return
	}

	identity := models.Identity{ID: input.ID, Role: role, Name: input.Name, Email: input.Email}
	token, expiry, err := auth.GenerateToken(identity, h.Secret, h.TTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	if h.Manager != nil {
		h.Manager.Remember(identity)
	}

	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"expiry":   expiry,
		"identity": identity,
	})
}

// Me returns the identity behind the request's token
func Me(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	c.JSON(http.StatusOK, identity)
}
