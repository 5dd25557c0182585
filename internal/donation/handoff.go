package donation

import (
	"context"

	"github.com/Avanquish/DoughNation-sub002/internal/database"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
)

// Handoff is what the donation list leaves in local storage before asking the
// messenger to open a chat: who to talk to and, optionally, what to request.
type Handoff struct {
	Peer     models.Peer              `json:"peer"`
	Donation *models.DonationSnapshot `json:"donation,omitempty"`
}

// WriteHandoff stores h for the next open_chat.
func WriteHandoff(ctx context.Context, s database.Storage, h Handoff) error {
	return s.Set(ctx, database.HandoffKey, h)
}

// TakeHandoff reads the record and removes it so it is consumed at most once.
func TakeHandoff(ctx context.Context, s database.Storage) (Handoff, bool, error) {
	var h Handoff
	found, err := s.Get(ctx, database.HandoffKey, &h)
	if err != nil || !found {
		return Handoff{}, false, err
	}
	if err := s.Remove(ctx, database.HandoffKey); err != nil {
		return h, true, err
	}
	return h, true, nil
}
