package messenger

import (
	"github.com/Avanquish/DoughNation-sub002/internal/bus"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
	"github.com/Avanquish/DoughNation-sub002/internal/transport"
)

// HandleFrame queues an inbound frame. It is meant to be the transport's
// OnFrame callback and never blocks.
func (m *Messenger) HandleFrame(f protocol.Frame) {
	m.post(func() { m.dispatch(f) })
}

// HandleState queues a transport state change.
func (m *Messenger) HandleState(s transport.State) {
	m.post(func() { m.setState(s) })
}

func (m *Messenger) setState(s transport.State) {
	if m.state == s {
		return
	}
	m.state = s
	m.touch()

	// The transport has already asked for active chats; the open
	// conversation needs a fresh history since anything may have been
	// missed while disconnected.
	if s == transport.Open && !m.openPeer.ID.IsZero() {
		m.sendBestEffort(protocol.GetHistoryFrame(m.openPeer.ID))
	}
}

func (m *Messenger) dispatch(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeMessage:
		m.onMessage(f.AsMessage())
	case protocol.TypeDeleteMessage:
		m.store.RemoveByID(f.ID)
	case protocol.TypeDonationAccepted:
		m.onDonationAccepted(f.DonationID)
	case protocol.TypeDonationCancelled:
		m.pruneCancelled(f.DonationID)
		m.publishCancelled(bus.CancelDetail{
			DonationID:  f.DonationID,
			RequestID:   f.RequestID,
			CancelledBy: f.CancelledBy,
			Origin:      origin,
		})
	case protocol.TypeHistory:
		m.onHistory(f)
	case protocol.TypeActiveChats:
		m.index.Seed(f.Chats)
		if !m.openPeer.ID.IsZero() {
			m.index.ResetUnread(m.openPeer.ID)
		}
	case protocol.TypeActiveChatsUpdate:
		if f.Chat == nil {
			log.Warn("active_chats_update without chat")
			return
		}
		patch := *f.Chat
		if patch.Peer.ID == m.openPeer.ID && patch.Unread != nil {
			patch.Unread = models.IntPtr(0)
		}
		m.index.PatchOne(patch)
	case protocol.TypeTyping, protocol.TypeStopTyping:
		m.onTyping(f)
	case protocol.TypeSearchResults:
		m.search = SearchResults{Target: f.Target, Query: f.Query, Results: f.Results}
		m.touch()
	case protocol.TypeError:
		log.Warn("Server reported an error: %s", f.Error)
	default:
		log.Warn("Ignoring frame of unknown type %q", f.Type)
	}
}

func (m *Messenger) onMessage(msg models.Message) {
	if msg.SenderID != m.self.ID && msg.ReceiverID != m.self.ID {
		log.Warn("Ignoring message %s addressed to someone else", msg.ID)
		return
	}
	if !msg.ID.IsZero() {
		if _, dup := m.store.Get(msg.ID); dup {
			log.Debug("Ignoring duplicate message %s", msg.ID)
			return
		}
	}

	entry, _ := m.store.Reconcile(msg)
	m.index.RecordMessage(entry.Message, m.self.ID, m.openPeer.ID)

	if entry.SenderID == m.self.ID {
		return
	}
	if m.typing[entry.SenderID] {
		delete(m.typing, entry.SenderID)
		m.touch()
	}
	if entry.SenderID == m.openPeer.ID {
		m.sendBestEffort(protocol.MarkReadFrame(m.openPeer.ID))
	}
	if id, ok := entry.Payload.DonationID(); ok && m.isAccepted(id) {
		m.store.MarkAccepted(id)
	}
}

func (m *Messenger) onHistory(f protocol.Frame) {
	peer := f.PeerID
	if peer.IsZero() {
		peer = m.openPeer.ID
	}
	if peer.IsZero() {
		log.Warn("Ignoring history with no peer")
		return
	}

	m.store.ReplaceOnSeed(peer, f.Messages)
	for _, id := range m.accepted {
		m.store.MarkAccepted(id)
	}
	log.Debug("Seeded conversation with %s from %d message(s)", peer, len(f.Messages))
}

func (m *Messenger) onDonationAccepted(donationID models.ID) {
	if donationID.IsZero() {
		log.Warn("donation_accepted without donation id")
		return
	}
	if m.store.MarkAccepted(donationID) > 0 {
		m.bus.Publish(bus.DonationAcceptedEvent, bus.AcceptedDetail{DonationID: donationID})
	}
}

func (m *Messenger) onTyping(f protocol.Frame) {
	if f.SenderID.IsZero() || f.SenderID == m.self.ID {
		return
	}
	typing := f.Type == protocol.TypeTyping
	if m.typing[f.SenderID] == typing {
		return
	}
	if typing {
		m.typing[f.SenderID] = true
	} else {
		delete(m.typing, f.SenderID)
	}
	m.touch()
}

func (m *Messenger) sendBestEffort(f protocol.Frame) {
	if err := m.link.Send(f); err != nil {
		log.Debug("Dropped %s frame: %v", f.Type, err)
	}
}

func (m *Messenger) sendReliable(f protocol.Frame) {
	if err := m.link.SendReliable(f); err != nil {
		log.Error("Could not send %s frame: %v", f.Type, err)
	}
}
