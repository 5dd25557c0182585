// Package bus lets page regions that do not know about each other react to
// donation lifecycle changes. Delivery is synchronous and in-process; an event
// published before a handler subscribes is not replayed.
package bus

import (
	"sync"

	"github.com/Avanquish/DoughNation-sub002/internal/logger"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
)

// Event names.
const (
	OpenChat                    = "open_chat"
	DonationCancelled           = "donation_cancelled"
	DonationCancelledByMessages = "donation_cancelled_by_messages" // legacy alias of DonationCancelled
	HighlightDonation           = "highlight_donation"
	InventoryFocus              = "inventory_focus"
	DonationAcceptedEvent       = "donation_accepted"
	Notice                      = "notice"
)

var log = logger.New("bus")

// Handler receives the detail value passed to Publish.
type Handler func(detail any)

type Bus interface {
	Publish(name string, detail any)
	// Subscribe registers h and returns a function that removes it.
	Subscribe(name string, h Handler) func()
}

// OpenChatDetail asks the messenger to open a conversation. The donation to
// request, if any, travels in the local handoff record.
type OpenChatDetail struct {
	Peer models.Peer
}

// CancelDetail announces that a donation request was withdrawn.
type CancelDetail struct {
	DonationID  models.ID
	RequestID   models.ID
	CancelledBy string
	// Origin names the publisher so it can skip its own event.
	Origin string
}

// FocusDetail asks list views to scroll to a donation.
type FocusDetail struct {
	DonationID models.ID
}

// AcceptedDetail announces that a bakery accepted a request.
type AcceptedDetail struct {
	DonationID models.ID
}

// NoticeDetail is a user-visible failure message.
type NoticeDetail struct {
	Message string
	Err     error
}

type subscription struct {
	id int
	h  Handler
}

// Local is the in-process Bus.
type Local struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscription
}

func New() *Local {
	return &Local{subs: make(map[string][]subscription)}
}

func (b *Local) Subscribe(name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(name, id) })
	}
}

func (b *Local) unsubscribe(name string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			b.subs[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish calls every handler registered for name, in subscription order, on
// the caller's goroutine. A panicking handler is logged and does not stop the
// others.
func (b *Local) Publish(name string, detail any) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[name]))
	copy(subs, b.subs[name])
	b.mu.RUnlock()

	log.Debug("Publishing %s to %d handler(s)", name, len(subs))
	for _, s := range subs {
		b.deliver(name, s.h, detail)
	}
}

func (b *Local) deliver(name string, h Handler, detail any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler for %s panicked: %v", name, r)
		}
	}()
	h(detail)
}
