// Package messenger is the chat core of a signed-in bakery or charity. A
// Messenger owns the message log and the conversation index and mutates them
// from a single goroutine; transport callbacks, bus events, timers and user
// actions are all marshalled onto it.
package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Avanquish/DoughNation-sub002/internal/bus"
	"github.com/Avanquish/DoughNation-sub002/internal/chats"
	"github.com/Avanquish/DoughNation-sub002/internal/database"
	"github.com/Avanquish/DoughNation-sub002/internal/donation"
	"github.com/Avanquish/DoughNation-sub002/internal/logger"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
	"github.com/Avanquish/DoughNation-sub002/internal/store"
	"github.com/Avanquish/DoughNation-sub002/internal/transport"
)

const (
	DefaultTypingDebounce = 800 * time.Millisecond

	// origin tags bus events this package publishes so its own handlers can
	// skip them.
	origin = "messenger"
)

var (
	ErrClosed         = errors.New("messenger is closed")
	ErrNoConversation = errors.New("no conversation is open")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrWrongRole      = errors.New("action not available for this role")
	ErrCardNotFound   = errors.New("donation card not found")
	ErrNotOwner       = errors.New("only the sender can delete a message for everyone")
	ErrPending        = errors.New("message has not reached the server yet")
	ErrMissingPeer    = errors.New("peer id is required")

	log = logger.New("messenger")
)

// Link is the outbound half of the transport channel.
type Link interface {
	// Send drops the frame when the channel is not open.
	Send(protocol.Frame) error
	// SendReliable queues the frame until the channel opens.
	SendReliable(protocol.Frame) error
}

type Options struct {
	Identity models.Identity
	Link     Link
	// Storage persists the log and the accepted set. Nil means memory only.
	Storage   database.Storage
	Donations donation.Client
	// Bus connects the messenger to the rest of the page. Nil gets a private one.
	Bus            bus.Bus
	TypingDebounce time.Duration
}

// SearchResults is the last search_results frame.
type SearchResults struct {
	Target  string
	Query   string
	Results json.RawMessage
}

// View is an immutable snapshot of everything a renderer needs. A new one is
// published after every task that changed state.
type View struct {
	State        transport.State
	OpenPeer     models.Peer
	Conversation []store.Entry
	PendingCards []store.Entry
	Chats        []models.ConversationSummary
	TotalUnread  int
	PeerTyping   bool
	Search       SearchResults
	Accepted     []models.ID
}

type Messenger struct {
	self      models.Identity
	link      Link
	storage   database.Storage
	donations donation.Client
	bus       bus.Bus
	debounce  time.Duration

	mb        *mailbox
	done      chan struct{}
	closeOnce sync.Once
	unsubs    []func()

	view atomic.Pointer[View]

	obsMu     sync.Mutex
	observers map[int]func(View)
	nextObs   int

	// Everything below belongs to the loop goroutine.
	store    *store.Store
	index    *chats.Index
	state    transport.State
	openPeer models.Peer
	typing   map[models.ID]bool
	search   SearchResults
	accepted []models.ID
	inFlight map[models.ID]bool
	outgoing typingState
	dirty    bool
}

// New loads the persisted state for opts.Identity and starts the loop. The
// caller connects the transport afterwards and routes its callbacks to
// HandleFrame and HandleState.
func New(ctx context.Context, opts Options) (*Messenger, error) {
	if opts.Identity.ID.IsZero() {
		return nil, ErrMissingPeer
	}
	if _, err := models.ParseRole(string(opts.Identity.Role)); err != nil {
		return nil, err
	}
	if opts.Link == nil {
		return nil, errors.New("messenger needs a link")
	}
	if opts.Storage == nil {
		opts.Storage = database.NewMemoryStorage()
	}
	if opts.Bus == nil {
		opts.Bus = bus.New()
	}
	if opts.TypingDebounce <= 0 {
		opts.TypingDebounce = DefaultTypingDebounce
	}

	m := &Messenger{
		self:      opts.Identity,
		link:      opts.Link,
		storage:   opts.Storage,
		donations: opts.Donations,
		bus:       opts.Bus,
		debounce:  opts.TypingDebounce,
		mb:        newMailbox(),
		done:      make(chan struct{}),
		observers: make(map[int]func(View)),
		store:     store.New(opts.Identity.ID, opts.Storage),
		index:     chats.New(),
		typing:    make(map[models.ID]bool),
		inFlight:  make(map[models.ID]bool),
	}

	if err := m.store.Load(ctx); err != nil {
		return nil, err
	}
	if _, err := m.storage.Get(ctx, database.AcceptedDonationsKey(m.self.ID), &m.accepted); err != nil {
		return nil, err
	}
	for _, id := range m.accepted {
		m.store.MarkAccepted(id)
	}

	m.store.Subscribe(m.touch)
	m.index.Subscribe(m.touch)
	m.refresh()

	m.unsubs = append(m.unsubs,
		m.bus.Subscribe(bus.OpenChat, m.onOpenChat),
		m.bus.Subscribe(bus.DonationCancelled, m.onDonationCancelled),
		m.bus.Subscribe(bus.DonationCancelledByMessages, m.onDonationCancelled),
	)

	resent := m.resendPending()
	log.Info("Messenger started for %s %s with %d stored message(s), %d resent", m.self.Role, m.self.ID, m.store.Len(), resent)
	go m.run()
	return m, nil
}

// Identity returns who this messenger acts as.
func (m *Messenger) Identity() models.Identity {
	return m.self
}

// Close stops the loop after the tasks already queued. Storage and the
// transport belong to the caller.
func (m *Messenger) Close() {
	m.closeOnce.Do(func() {
		for _, unsub := range m.unsubs {
			unsub()
		}
		m.mb.push(m.stopTypingTimer)
		m.mb.close()
		<-m.done
		log.Info("Messenger for %s closed", m.self.ID)
	})
}

func (m *Messenger) run() {
	defer close(m.done)
	for {
		tasks, ok := m.mb.take()
		if !ok {
			return
		}
		for _, task := range tasks {
			m.exec(task)
		}
	}
}

func (m *Messenger) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Task panicked: %v", r)
		}
	}()
	task()
	m.flush()
}

// post queues fn without waiting.
func (m *Messenger) post(fn func()) {
	if !m.mb.push(fn) {
		log.Debug("Dropping task posted after close")
	}
}

// do runs fn on the loop and waits for it, including the view refresh.
func (m *Messenger) do(fn func()) error {
	done := make(chan struct{})
	ok := m.mb.push(func() {
		defer close(done)
		fn()
		m.flush()
	})
	if !ok {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

func (m *Messenger) touch() {
	m.dirty = true
}

func (m *Messenger) flush() {
	if !m.dirty {
		return
	}
	m.dirty = false
	v := m.refresh()

	m.obsMu.Lock()
	observers := make([]func(View), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.obsMu.Unlock()

	for _, fn := range observers {
		fn(v)
	}
}

func (m *Messenger) refresh() View {
	v := View{
		State:        m.state,
		OpenPeer:     m.openPeer,
		PendingCards: m.store.PendingCards(),
		Chats:        m.index.List(),
		TotalUnread:  m.index.TotalUnread(),
		Search:       m.search,
		Accepted:     append([]models.ID(nil), m.accepted...),
	}
	if !m.openPeer.ID.IsZero() {
		v.Conversation = m.store.FilterForConversation(m.self.ID, m.openPeer.ID)
		v.PeerTyping = m.typing[m.openPeer.ID]
	}
	m.view.Store(&v)
	return v
}

// OnChange registers fn to receive every new View. It runs on the loop
// goroutine, so it may read views but must not call blocking methods.
func (m *Messenger) OnChange(fn func(View)) func() {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.nextObs++
	id := m.nextObs
	m.observers[id] = fn
	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		delete(m.observers, id)
	}
}

// View returns the latest snapshot.
func (m *Messenger) View() View {
	return *m.view.Load()
}

func (m *Messenger) Conversation() []store.Entry { return m.View().Conversation }

func (m *Messenger) PendingCards() []store.Entry { return m.View().PendingCards }

func (m *Messenger) Chats() []models.ConversationSummary { return m.View().Chats }

func (m *Messenger) PeerTyping() bool { return m.View().PeerTyping }

func (m *Messenger) State() transport.State { return m.View().State }

func (m *Messenger) SearchResults() SearchResults { return m.View().Search }

func (m *Messenger) OpenPeer() models.Peer { return m.View().OpenPeer }

// Unread returns the badge for peer.
func (m *Messenger) Unread(peer models.ID) int {
	for _, c := range m.View().Chats {
		if c.Peer.ID == peer {
			return c.UnreadCount()
		}
	}
	return 0
}

// Log returns the whole message log across conversations.
func (m *Messenger) Log() []store.Entry {
	var out []store.Entry
	m.do(func() { out = m.store.All() })
	return out
}
