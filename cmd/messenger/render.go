package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Avanquish/DoughNation-sub002/internal/messenger"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
	"github.com/Avanquish/DoughNation-sub002/internal/store"
	"github.com/Avanquish/DoughNation-sub002/internal/transport"
)

func formatEntry(e store.Entry, accepted []models.ID) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%s %s→%s ", e.ID, e.SenderID, e.ReceiverID)

	switch e.Payload.Kind {
	case protocol.KindDonationCard:
		d := e.Payload.Card.Donation
		fmt.Fprintf(&b, "[request] %s x%d (donation %s)", d.Name, d.Quantity, d.ID)
		if e.Accepted || contains(accepted, d.ID) {
			b.WriteString(" accepted")
		}
	case protocol.KindConfirmedDonation:
		d := e.Payload.Confirmed.Donation
		fmt.Fprintf(&b, "[accepted] %s x%d (donation %s)", d.Name, d.Quantity, d.ID)
	default:
		b.WriteString(e.Payload.Text)
	}

	if e.Image != "" {
		fmt.Fprintf(&b, " <image %s>", e.Image)
	}
	if e.Video != "" {
		fmt.Fprintf(&b, " <video %s>", e.Video)
	}
	if e.Pending {
		b.WriteString(" (sending)")
	}
	return b.String()
}

func contains(ids []models.ID, id models.ID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func preview(c protocol.Content) string {
	switch c.Kind {
	case protocol.KindDonationCard:
		return "donation request: " + c.Card.Donation.Name
	case protocol.KindConfirmedDonation:
		return "donation accepted: " + c.Confirmed.Donation.Name
	}
	return c.Text
}

func printChats(w io.Writer, v messenger.View) {
	if len(v.Chats) == 0 {
		fmt.Fprintln(w, "no conversations")
		return
	}
	for _, c := range v.Chats {
		name := c.Peer.Name
		if name == "" {
			name = "user " + c.Peer.ID.String()
		}
		line := fmt.Sprintf("%s (%s)", name, c.Peer.ID)
		if n := c.UnreadCount(); n > 0 {
			line += fmt.Sprintf(" [%d unread]", n)
		}
		if c.LastMessage != nil {
			line += ": " + preview(protocol.ParseContent(c.LastMessage.Content))
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "total unread: %d\n", v.TotalUnread)
}

func printConversation(w io.Writer, v messenger.View) {
	if v.OpenPeer.ID.IsZero() {
		fmt.Fprintln(w, "no conversation open")
		return
	}
	for _, e := range v.Conversation {
		fmt.Fprintln(w, formatEntry(e, v.Accepted))
	}
}

// renderer prints what changed between two views.
type renderer struct {
	mu     sync.Mutex
	out    io.Writer
	seen   map[string]bool
	state  transport.State
	typing bool
	peer   models.ID
	search string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, seen: make(map[string]bool)}
}

func entryKey(e store.Entry) string {
	if e.ClientID != "" {
		return "c:" + e.ClientID
	}
	return "i:" + e.ID.String()
}

func (r *renderer) update(v messenger.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.State != r.state {
		r.state = v.State
		fmt.Fprintf(r.out, "* connection %s\n", v.State)
	}

	if v.OpenPeer.ID != r.peer {
		r.peer = v.OpenPeer.ID
		r.seen = make(map[string]bool)
		r.typing = false
		if !r.peer.IsZero() {
			fmt.Fprintf(r.out, "* conversation with %s\n", r.peer)
		}
	}

	for _, e := range v.Conversation {
		key := entryKey(e)
		if r.seen[key] {
			continue
		}
		r.seen[key] = true
		fmt.Fprintln(r.out, formatEntry(e, v.Accepted))
	}

	if v.PeerTyping != r.typing {
		r.typing = v.PeerTyping
		if r.typing {
			fmt.Fprintln(r.out, "* typing...")
		}
	}

	if v.Search.Target != "" {
		key := v.Search.Target + "\x00" + v.Search.Query + "\x00" + string(v.Search.Results)
		if key != r.search {
			r.search = key
			fmt.Fprintf(r.out, "* %s matching %q: %s\n", v.Search.Target, v.Search.Query, v.Search.Results)
		}
	}
}
