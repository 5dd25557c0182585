package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/websocket"
)

// DonationHandler is the relay's stand-in for the donation service: just
// enough state to accept and cancel requests made over chat.
type DonationHandler struct {
	Manager *websocket.Manager

	mu       sync.Mutex
	accepted map[models.ID]models.ID
}

func NewDonationHandler(manager *websocket.Manager) *DonationHandler {
	return &DonationHandler{Manager: manager, accepted: make(map[models.ID]models.ID)}
}

type cancelRequest struct {
	RequestID models.ID `json:"request_id"`
}

// Accept marks a donation request accepted. Only the bakery the card was
// sent to may accept it; accepting twice succeeds without a second push.
func (h *DonationHandler) Accept(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	if identity.Role != models.RoleBakery {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only bakeries can accept donations"})
		return
	}

	donationID, err := models.ParseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid donation ID"})
		return
	}

	h.mu.Lock()
	_, already := h.accepted[donationID]
	h.mu.Unlock()
	if already {
		c.JSON(http.StatusOK, gin.H{"donation_id": donationID, "status": "accepted"})
		return
	}

	card, found := h.Manager.History().FindCard(donationID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Donation request not found"})
		return
	}
	if card.ReceiverID != identity.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Donation was requested from another bakery"})
		return
	}

	h.mu.Lock()
	h.accepted[donationID] = identity.ID
	h.mu.Unlock()

	h.Manager.AcceptDonation(donationID)
	log.Info("Donation %s accepted by %s", donationID, identity.ID)
	c.JSON(http.StatusOK, gin.H{"donation_id": donationID, "status": "accepted"})
}

// Cancel withdraws a request and tells both sides of the chat.
func (h *DonationHandler) Cancel(c *gin.Context) {
	identity, ok := currentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	donationID, err := models.ParseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid donation ID"})
		return
	}

	var input cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	h.Manager.CancelDonation(donationID, input.RequestID, string(identity.Role), identity.ID)
	c.JSON(http.StatusOK, gin.H{"donation_id": donationID, "status": "cancelled"})
}
