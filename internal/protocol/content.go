package protocol

import (
	"encoding/json"
	"strings"

	"github.com/Avanquish/DoughNation-sub002/internal/models"
)

// Payload types carried inside Message.Content.
const (
	PayloadDonationCard      = "donation_card"
	PayloadConfirmedDonation = "confirmed_donation"
)

// Kind tells which variant a Content holds.
type Kind int

const (
	KindText Kind = iota
	KindDonationCard
	KindConfirmedDonation
)

func (k Kind) String() string {
	switch k {
	case KindDonationCard:
		return PayloadDonationCard
	case KindConfirmedDonation:
		return PayloadConfirmedDonation
	}
	return "text"
}

// DonationCard is an open request from a charity for a donation item.
type DonationCard struct {
	Donation          models.DonationSnapshot
	OriginalCharityID models.ID
}

// ConfirmedDonation is sent bakery to charity once a card is accepted.
type ConfirmedDonation struct {
	Donation models.DonationSnapshot
}

// Content is the decoded form of Message.Content. Exactly one of Text, Card
// and Confirmed is meaningful, selected by Kind.
type Content struct {
	Kind      Kind
	Text      string
	Card      *DonationCard
	Confirmed *ConfirmedDonation
}

// DonationID returns the donation a card or confirmation refers to.
func (c Content) DonationID() (models.ID, bool) {
	switch c.Kind {
	case KindDonationCard:
		return c.Card.Donation.ID, true
	case KindConfirmedDonation:
		return c.Confirmed.Donation.ID, true
	}
	return 0, false
}

// IsCardFor reports whether c is a donation_card for donationID.
func (c Content) IsCardFor(donationID models.ID) bool {
	return c.Kind == KindDonationCard && c.Card.Donation.ID == donationID
}

type wirePayload struct {
	Type              string                   `json:"type"`
	Donation          *models.DonationSnapshot `json:"donation,omitempty"`
	OriginalCharityID models.ID                `json:"originalCharityId,omitempty"`
}

// ParseContent decodes a message body. Anything that is not a well formed
// donation payload is returned as literal text; it never fails.
func ParseContent(raw string) Content {
	text := Content{Kind: KindText, Text: raw}

	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return text
	}

	var p wirePayload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return text
	}

	switch p.Type {
	case PayloadDonationCard:
		if p.Donation == nil {
			return text
		}
		return Content{Kind: KindDonationCard, Card: &DonationCard{
			Donation:          *p.Donation,
			OriginalCharityID: p.OriginalCharityID,
		}}
	case PayloadConfirmedDonation:
		if p.Donation == nil {
			return text
		}
		return Content{Kind: KindConfirmedDonation, Confirmed: &ConfirmedDonation{Donation: *p.Donation}}
	}
	return text
}

// EncodeDonationCard builds the content string of a donation request.
func EncodeDonationCard(donation models.DonationSnapshot, originalCharityID models.ID) (string, error) {
	b, err := json.Marshal(wirePayload{
		Type:              PayloadDonationCard,
		Donation:          &donation,
		OriginalCharityID: originalCharityID,
	})
	return string(b), err
}

// EncodeConfirmedDonation builds the content string of an acceptance notice.
func EncodeConfirmedDonation(donation models.DonationSnapshot) (string, error) {
	b, err := json.Marshal(wirePayload{Type: PayloadConfirmedDonation, Donation: &donation})
	return string(b), err
}
