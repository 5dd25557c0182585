package messenger

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Avanquish/DoughNation-sub002/internal/bus"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
	"github.com/Avanquish/DoughNation-sub002/internal/store"
)

// OpenConversation shows the conversation with peer. Its unread badge is
// cleared before this returns; history and the read receipt go out after.
func (m *Messenger) OpenConversation(peer models.Peer) error {
	if peer.ID.IsZero() {
		return ErrMissingPeer
	}
	return m.do(func() { m.openConversation(peer) })
}

func (m *Messenger) openConversation(peer models.Peer) {
	if m.openPeer.ID != peer.ID {
		m.stopTyping()
	}
	m.openPeer = peer
	m.index.Ensure(peer)
	m.index.ResetUnread(peer.ID)
	m.touch()

	m.sendBestEffort(protocol.MarkReadFrame(peer.ID))
	m.sendBestEffort(protocol.GetHistoryFrame(peer.ID))
	log.Debug("Opened conversation with %s", peer.ID)
}

// CloseConversation leaves the open conversation, if any.
func (m *Messenger) CloseConversation() error {
	return m.do(func() {
		m.stopTyping()
		m.openPeer = models.Peer{}
		m.touch()
	})
}

// SendText sends text to the open conversation.
func (m *Messenger) SendText(text string) error {
	return m.SendMedia(text, "", "")
}

// SendMedia sends an attachment reference with an optional caption. mediaType
// is "image" or "video".
func (m *Messenger) SendMedia(caption, media, mediaType string) error {
	if strings.TrimSpace(caption) == "" && media == "" {
		return ErrEmptyMessage
	}

	var err error
	doErr := m.do(func() {
		if m.openPeer.ID.IsZero() {
			err = ErrNoConversation
			return
		}
		m.stopTyping()
		f := protocol.MessageFrame(m.self.ID, m.openPeer.ID, caption, uuid.NewString())
		f.Media = media
		f.MediaType = mediaType
		m.sendOptimistic(f)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// sendOptimistic shows f in the log right away under a temporary id and
// queues it. The server echo carries the same client id and replaces it.
func (m *Messenger) sendOptimistic(f protocol.Frame) store.Entry {
	msg := f.AsMessage()
	msg.ID = store.TempID()
	msg.Pending = true
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)

	entry := m.store.Append(msg)
	m.index.RecordMessage(msg, m.self.ID, m.openPeer.ID)
	m.sendReliable(f)
	return entry
}

// resendPending queues every send a previous session left unconfirmed. The
// frames keep their client ids, so the echo reconciles the stored entries.
func (m *Messenger) resendPending() int {
	n := 0
	for _, e := range m.store.All() {
		if !e.Pending || e.ClientID == "" || e.SenderID != m.self.ID {
			continue
		}
		f := protocol.MessageFrame(e.SenderID, e.ReceiverID, e.Content, e.ClientID)
		switch {
		case e.Video != "":
			f.Media, f.MediaType = e.Video, "video"
		case e.Image != "":
			f.Media, f.MediaType = e.Image, "image"
		}
		m.sendReliable(f)
		n++
	}
	return n
}

// DeleteForMe removes a message from this identity's log only.
func (m *Messenger) DeleteForMe(id models.ID) error {
	return m.do(func() {
		if !m.store.RemoveByID(id) {
			return
		}
		if id > 0 {
			m.sendReliable(protocol.DeleteForMeFrame(id))
		}
	})
}

// DeleteForEveryone removes one of self's messages from both sides.
func (m *Messenger) DeleteForEveryone(id models.ID) error {
	var err error
	doErr := m.do(func() {
		entry, ok := m.store.Get(id)
		switch {
		case !ok:
			return
		case entry.SenderID != m.self.ID:
			err = ErrNotOwner
			return
		case entry.Pending || id < 0:
			err = ErrPending
			return
		}
		m.store.RemoveByID(id)
		m.sendReliable(protocol.DeleteMessageFrame(id))
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Search asks the server for bakeries or charities matching query. The
// answer shows up in SearchResults.
func (m *Messenger) Search(target, query string) error {
	if err := protocol.ValidateTarget(target); err != nil {
		return err
	}
	return m.link.Send(protocol.SearchFrame(target, query))
}

// FocusDonation asks donation views to scroll to donationID.
func (m *Messenger) FocusDonation(donationID models.ID) {
	detail := bus.FocusDetail{DonationID: donationID}
	m.bus.Publish(bus.HighlightDonation, detail)
	m.bus.Publish(bus.InventoryFocus, detail)
}

// Resync refreshes the conversation list and the open conversation, for when
// the page regains focus.
func (m *Messenger) Resync() error {
	return m.do(func() {
		m.sendBestEffort(protocol.GetActiveChatsFrame())
		if !m.openPeer.ID.IsZero() {
			m.sendBestEffort(protocol.GetHistoryFrame(m.openPeer.ID))
		}
	})
}
