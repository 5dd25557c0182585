package websocket

import (
	"sync"
	"time"

	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
)

// History is the relay's in-memory message log. It assigns server ids and
// timestamps and answers history, unread and summary queries.
type History struct {
	mu       sync.RWMutex
	messages []models.Message
	nextID   models.ID
	// hidden[user][message] is set by delete_for_me.
	hidden map[models.ID]map[models.ID]bool
}

func NewHistory() *History {
	return &History{hidden: make(map[models.ID]map[models.ID]bool)}
}

// Add stores m under a fresh id. Local annotations are stripped.
func (h *History) Add(m models.Message) models.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	m.ID = h.nextID
	m.Timestamp = time.Now().UTC().Format(time.RFC3339)
	m.IsRead = false
	m.Accepted = false
	m.Pending = false
	h.messages = append(h.messages, m)
	return m
}

// Delete removes a message sent by sender.
func (h *History) Delete(id, sender models.ID) (models.Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, m := range h.messages {
		if m.ID == id && m.SenderID == sender {
			h.messages = append(h.messages[:i], h.messages[i+1:]...)
			return m, true
		}
	}
	return models.Message{}, false
}

// Hide drops a message from user's view only.
func (h *History) Hide(id, user models.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.hidden[user] == nil {
		h.hidden[user] = make(map[models.ID]bool)
	}
	h.hidden[user][id] = true
}

// Conversation returns what user sees of the conversation with peer.
func (h *History) Conversation(user, peer models.ID) []models.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := []models.Message{}
	for _, m := range h.messages {
		if m.Involves(user, peer) && !h.hidden[user][m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// MarkRead flags everything peer sent to user as read.
func (h *History) MarkRead(user, peer models.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for i := range h.messages {
		m := &h.messages[i]
		if m.SenderID == peer && m.ReceiverID == user && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n
}

// Summary builds user's conversation summary with peer.
func (h *History) Summary(user models.ID, peer models.Peer) models.ConversationSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.summaryLocked(user, peer)
}

func (h *History) summaryLocked(user models.ID, peer models.Peer) models.ConversationSummary {
	s := models.ConversationSummary{Peer: peer}
	unread := 0
	for _, m := range h.messages {
		if !m.Involves(user, peer.ID) || h.hidden[user][m.ID] {
			continue
		}
		last := m
		s.LastMessage = &last
		if m.SenderID == peer.ID && !m.IsRead {
			unread++
		}
	}
	s.Unread = models.IntPtr(unread)
	return s
}

// Summaries lists every conversation user took part in, ordered by first
// contact. lookup fills in peer details.
func (h *History) Summaries(user models.ID, lookup func(models.ID) models.Peer) []models.ConversationSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var peers []models.ID
	seen := make(map[models.ID]bool)
	for _, m := range h.messages {
		if m.SenderID != user && m.ReceiverID != user {
			continue
		}
		p := m.Counterpart(user)
		if !seen[p] {
			seen[p] = true
			peers = append(peers, p)
		}
	}

	out := make([]models.ConversationSummary, 0, len(peers))
	for _, p := range peers {
		out = append(out, h.summaryLocked(user, lookup(p)))
	}
	return out
}

// FindSent returns the message sender already sent under clientID.
func (h *History) FindSent(sender models.ID, clientID string) (models.Message, bool) {
	if clientID == "" {
		return models.Message{}, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, m := range h.messages {
		if m.SenderID == sender && m.ClientID == clientID {
			return m, true
		}
	}
	return models.Message{}, false
}

// FindCard returns the first donation_card for donationID.
func (h *History) FindCard(donationID models.ID) (models.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, m := range h.messages {
		if protocol.ParseContent(m.Content).IsCardFor(donationID) {
			return m, true
		}
	}
	return models.Message{}, false
}

// PruneCards removes every donation_card for donationID.
func (h *History) PruneCards(donationID models.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.messages[:0]
	removed := 0
	for _, m := range h.messages {
		if protocol.ParseContent(m.Content).IsCardFor(donationID) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	h.messages = kept
	return removed
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}
