package messenger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Avanquish/DoughNation-sub002/internal/bus"
	"github.com/Avanquish/DoughNation-sub002/internal/database"
	"github.com/Avanquish/DoughNation-sub002/internal/donation"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
)

const storageTimeout = 5 * time.Second

// SendDonationCard requests snapshot from peer. Only charities ask.
func (m *Messenger) SendDonationCard(peer models.Peer, snapshot models.DonationSnapshot) error {
	if m.self.Role != models.RoleCharity {
		return ErrWrongRole
	}
	if peer.ID.IsZero() {
		return ErrMissingPeer
	}

	var err error
	doErr := m.do(func() { err = m.sendDonationCard(peer, snapshot) })
	if doErr != nil {
		return doErr
	}
	return err
}

func (m *Messenger) sendDonationCard(peer models.Peer, snapshot models.DonationSnapshot) error {
	content, err := protocol.EncodeDonationCard(snapshot, m.self.ID)
	if err != nil {
		return err
	}
	m.index.Ensure(peer)
	m.sendOptimistic(protocol.MessageFrame(m.self.ID, peer.ID, content, uuid.NewString()))
	log.Info("Requested donation %s from %s", snapshot.ID, peer.ID)
	return nil
}

// AcceptDonation accepts the request behind a donation card. The donation
// service is told first; only when it agrees is the confirmation sent to the
// charity that asked and the card marked accepted. Accepting a donation that
// is already accepted, or being accepted, does nothing.
func (m *Messenger) AcceptDonation(ctx context.Context, donationID models.ID) error {
	if m.self.Role != models.RoleBakery {
		return ErrWrongRole
	}
	if m.donations == nil {
		return fmt.Errorf("accept donation %s: no donation client configured", donationID)
	}

	var (
		card    protocol.DonationCard
		charity models.ID
		skip    bool
		err     error
	)
	doErr := m.do(func() {
		if m.isAccepted(donationID) || m.inFlight[donationID] {
			skip = true
			return
		}
		entry, ok := m.store.FindCard(donationID)
		if !ok {
			err = ErrCardNotFound
			return
		}
		card = *entry.Payload.Card
		charity = card.OriginalCharityID
		if charity.IsZero() {
			charity = entry.SenderID
		}
		m.inFlight[donationID] = true
	})
	if doErr != nil {
		return doErr
	}
	if skip || err != nil {
		return err
	}

	acceptErr := m.donations.Accept(ctx, donationID)

	doErr = m.do(func() {
		delete(m.inFlight, donationID)
		if acceptErr != nil {
			log.Error("Accepting donation %s failed: %v", donationID, acceptErr)
			m.bus.Publish(bus.Notice, bus.NoticeDetail{
				Message: fmt.Sprintf("Could not accept donation %s. Please try again.", donationID),
				Err:     acceptErr,
			})
			return
		}
		err = m.confirmAccepted(card, charity)
	})
	if acceptErr != nil {
		return acceptErr
	}
	if doErr != nil {
		return doErr
	}
	return err
}

func (m *Messenger) confirmAccepted(card protocol.DonationCard, charity models.ID) error {
	donationID := card.Donation.ID

	content, err := protocol.EncodeConfirmedDonation(card.Donation)
	if err != nil {
		return err
	}
	m.sendOptimistic(protocol.MessageFrame(m.self.ID, charity, content, uuid.NewString()))
	m.store.MarkAccepted(donationID)

	m.accepted = append(m.accepted, donationID)
	m.touch()
	m.persistAccepted()

	m.bus.Publish(bus.DonationAcceptedEvent, bus.AcceptedDetail{DonationID: donationID})
	log.Info("Accepted donation %s for charity %s", donationID, charity)
	return nil
}

func (m *Messenger) isAccepted(donationID models.ID) bool {
	for _, id := range m.accepted {
		if id == donationID {
			return true
		}
	}
	return false
}

func (m *Messenger) persistAccepted() {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := m.storage.Set(ctx, database.AcceptedDonationsKey(m.self.ID), m.accepted); err != nil {
		log.Error("Failed to persist accepted donations: %v", err)
	}
}

// CancelDonation withdraws a donation request. Its cards disappear locally
// at once; the peer and other page regions are told.
func (m *Messenger) CancelDonation(donationID, requestID models.ID) error {
	return m.do(func() {
		peer := m.openPeer.ID
		if entry, ok := m.store.FindCard(donationID); ok {
			peer = entry.Counterpart(m.self.ID)
		}

		m.pruneCancelled(donationID)
		if !peer.IsZero() {
			m.sendReliable(protocol.CancelFrame(m.self.ID, peer, donationID, requestID, string(m.self.Role)))
		}
		m.publishCancelled(bus.CancelDetail{
			DonationID:  donationID,
			RequestID:   requestID,
			CancelledBy: string(m.self.Role),
			Origin:      origin,
		})
	})
}

func (m *Messenger) pruneCancelled(donationID models.ID) {
	if donationID.IsZero() {
		log.Warn("Cancellation without donation id")
		return
	}
	if n := m.store.PruneDonationCards(donationID); n > 0 {
		log.Info("Pruned %d card(s) for cancelled donation %s", n, donationID)
	}
}

func (m *Messenger) publishCancelled(detail bus.CancelDetail) {
	m.bus.Publish(bus.DonationCancelled, detail)
	m.bus.Publish(bus.DonationCancelledByMessages, detail)
}

func (m *Messenger) onDonationCancelled(detail any) {
	d, ok := detail.(bus.CancelDetail)
	if !ok {
		log.Warn("Unexpected cancellation detail %T", detail)
		return
	}
	if d.Origin == origin {
		return
	}
	m.post(func() { m.pruneCancelled(d.DonationID) })
}

// onOpenChat reads the handoff left by the donation list, opens the
// conversation and, for a charity, sends the requested donation as a card.
func (m *Messenger) onOpenChat(detail any) {
	d, _ := detail.(bus.OpenChatDetail)
	m.post(func() {
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		defer cancel()

		h, found, err := donation.TakeHandoff(ctx, m.storage)
		if err != nil {
			log.Error("Failed to read chat handoff: %v", err)
		}

		peer := d.Peer
		if found && (peer.ID.IsZero() || (peer.ID == h.Peer.ID && peer.Name == "")) {
			peer = h.Peer
		}
		if peer.ID.IsZero() {
			log.Warn("open_chat without a peer")
			return
		}

		m.openConversation(peer)

		if found && h.Donation != nil && m.self.Role == models.RoleCharity {
			if err := m.sendDonationCard(peer, *h.Donation); err != nil {
				log.Error("Failed to send donation card: %v", err)
			}
		}
	})
}
