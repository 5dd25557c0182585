// Package chats keeps the per-peer conversation summaries behind the sidebar.
// Like the message store it belongs to the messenger loop and does no locking.
package chats

import (
	"github.com/Avanquish/DoughNation-sub002/internal/models"
)

type Index struct {
	order     []models.ID
	summaries map[models.ID]models.ConversationSummary

	observers map[int]func()
	nextObs   int
}

func New() *Index {
	return &Index{
		summaries: make(map[models.ID]models.ConversationSummary),
		observers: make(map[int]func()),
	}
}

func (x *Index) Subscribe(fn func()) func() {
	x.nextObs++
	id := x.nextObs
	x.observers[id] = fn
	return func() { delete(x.observers, id) }
}

func (x *Index) notify() {
	for _, fn := range x.observers {
		fn()
	}
}

// Seed replaces the whole index with a server snapshot, in snapshot order.
func (x *Index) Seed(snapshot []models.ConversationSummary) {
	x.order = x.order[:0]
	x.summaries = make(map[models.ID]models.ConversationSummary, len(snapshot))

	for _, c := range snapshot {
		if c.Peer.ID.IsZero() {
			continue
		}
		if _, dup := x.summaries[c.Peer.ID]; !dup {
			x.order = append(x.order, c.Peer.ID)
		}
		x.summaries[c.Peer.ID] = normalize(c)
	}
	x.notify()
}

// PatchOne merges a partial summary. Fields the patch leaves out keep their
// current value; in particular a missing unread count is not a reset.
// A peer not yet listed is appended.
func (x *Index) PatchOne(patch models.ConversationSummary) {
	id := patch.Peer.ID
	if id.IsZero() {
		return
	}

	cur, ok := x.summaries[id]
	if !ok {
		x.order = append(x.order, id)
		x.summaries[id] = normalize(patch)
		x.notify()
		return
	}

	if patch.Peer.Name != "" {
		cur.Peer.Name = patch.Peer.Name
	}
	if patch.Peer.Role != "" {
		cur.Peer.Role = patch.Peer.Role
	}
	if patch.Peer.Email != "" {
		cur.Peer.Email = patch.Peer.Email
	}
	if patch.LastMessage != nil {
		m := *patch.LastMessage
		cur.LastMessage = &m
	}
	if patch.Unread != nil {
		cur.Unread = models.IntPtr(*patch.Unread)
	}

	x.summaries[id] = cur
	x.notify()
}

// RecordMessage applies a message to its conversation: it becomes the last
// message and, when it came from the peer while that conversation is not on
// screen, bumps the unread count.
func (x *Index) RecordMessage(m models.Message, self, openPeer models.ID) {
	peer := m.Counterpart(self)
	if peer.IsZero() {
		return
	}

	cur, ok := x.summaries[peer]
	if !ok {
		x.order = append(x.order, peer)
		cur = models.ConversationSummary{Peer: models.Peer{ID: peer}, Unread: models.IntPtr(0)}
	}

	last := m
	cur.LastMessage = &last
	if m.SenderID != self && peer != openPeer {
		cur.Unread = models.IntPtr(cur.UnreadCount() + 1)
	}

	x.summaries[peer] = cur
	x.notify()
}

// ResetUnread zeroes the badge for peer immediately.
func (x *Index) ResetUnread(peer models.ID) {
	cur, ok := x.summaries[peer]
	if !ok || cur.UnreadCount() == 0 {
		return
	}
	cur.Unread = models.IntPtr(0)
	x.summaries[peer] = cur
	x.notify()
}

// Ensure adds peer with an empty summary if it is not listed yet, so a
// conversation opened from elsewhere shows up in the list.
func (x *Index) Ensure(peer models.Peer) {
	if _, ok := x.summaries[peer.ID]; ok || peer.ID.IsZero() {
		return
	}
	x.order = append(x.order, peer.ID)
	x.summaries[peer.ID] = models.ConversationSummary{Peer: peer, Unread: models.IntPtr(0)}
	x.notify()
}

// Get returns the summary for peer.
func (x *Index) Get(peer models.ID) (models.ConversationSummary, bool) {
	c, ok := x.summaries[peer]
	return c, ok
}

// Unread returns the badge count for peer.
func (x *Index) Unread(peer models.ID) int {
	return x.summaries[peer].UnreadCount()
}

// TotalUnread sums every badge.
func (x *Index) TotalUnread() int {
	n := 0
	for _, c := range x.summaries {
		n += c.UnreadCount()
	}
	return n
}

// List returns the summaries in insertion order. Sorting by recency is left to
// whoever renders them.
func (x *Index) List() []models.ConversationSummary {
	out := make([]models.ConversationSummary, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.summaries[id])
	}
	return out
}

func normalize(c models.ConversationSummary) models.ConversationSummary {
	if c.Unread == nil {
		c.Unread = models.IntPtr(0)
	} else {
		c.Unread = models.IntPtr(*c.Unread)
	}
	if c.LastMessage != nil {
		m := *c.LastMessage
		c.LastMessage = &m
	}
	return c
}
