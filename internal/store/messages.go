// Package store holds the client-side chat log shared by every conversation.
//
// A Store is owned by a single goroutine (the messenger loop); it does no
// locking of its own.
package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Avanquish/DoughNation-sub002/internal/database"
	"github.com/Avanquish/DoughNation-sub002/internal/logger"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
)

var log = logger.New("store")

// persistTimeout bounds a single write to local storage.
const persistTimeout = 5 * time.Second

// Entry is a message together with its decoded content, parsed once when the
// message enters the log.
type Entry struct {
	models.Message
	Payload protocol.Content
}

func newEntry(m models.Message) Entry {
	return Entry{Message: m, Payload: protocol.ParseContent(m.Content)}
}

type Store struct {
	self    models.ID
	entries []Entry
	storage database.Storage
	key     string

	observers map[int]func()
	nextObs   int
}

var lastTempID atomic.Int64

// TempID returns a negative, time based id for an optimistic insert. Server
// ids are positive so the two never collide.
func TempID() models.ID {
	for {
		prev := lastTempID.Load()
		next := -time.Now().UnixMilli()
		if next >= prev {
			next = prev - 1
		}
		if lastTempID.CompareAndSwap(prev, next) {
			return models.ID(next)
		}
	}
}

// New creates an empty store for self. storage may be nil, in which case
// nothing is persisted.
func New(self models.ID, storage database.Storage) *Store {
	return &Store{
		self:      self,
		storage:   storage,
		key:       database.MessagesKey(self),
		observers: make(map[int]func()),
	}
}

// Load replaces the in-memory log with what was persisted for this identity.
func (s *Store) Load(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}

	var msgs []models.Message
	found, err := s.storage.Get(ctx, s.key, &msgs)
	if err != nil || !found {
		return err
	}

	s.entries = make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		s.entries = append(s.entries, newEntry(m))
	}
	log.Debug("Loaded %d message(s) for user %s", len(msgs), s.self)
	s.notify()
	return nil
}

// Subscribe registers fn to run after every mutation.
func (s *Store) Subscribe(fn func()) func() {
	s.nextObs++
	id := s.nextObs
	s.observers[id] = fn
	return func() { delete(s.observers, id) }
}

func (s *Store) changed() {
	s.persist()
	s.notify()
}

func (s *Store) notify() {
	for _, fn := range s.observers {
		fn()
	}
}

func (s *Store) persist() {
	if s.storage == nil {
		return
	}

	msgs := make([]models.Message, len(s.entries))
	for i, e := range s.entries {
		msgs[i] = e.Message
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.storage.Set(ctx, s.key, msgs); err != nil {
		log.Error("Failed to persist messages for user %s: %v", s.self, err)
	}
}

// Append adds m to the end of the log without any deduplication.
func (s *Store) Append(m models.Message) Entry {
	e := newEntry(m)
	s.entries = append(s.entries, e)
	s.changed()
	return e
}

// Reconcile ingests a message pushed by the server. A pending optimistic entry
// with the same client id takes the server's id and timestamp; failing that,
// the oldest pending entry self sent with identical receiver and content does.
// A message whose id is already present is ignored. Otherwise it is appended.
// The returned bool is false when nothing new was added to the log.
func (s *Store) Reconcile(m models.Message) (Entry, bool) {
	if !m.ID.IsZero() {
		if i := s.indexOf(m.ID); i >= 0 {
			return s.entries[i], false
		}
	}

	if i := s.pendingMatch(m); i >= 0 {
		m.Accepted = s.entries[i].Accepted
		m.Pending = false
		s.entries[i] = newEntry(m)
		s.changed()
		return s.entries[i], false
	}

	return s.Append(m), true
}

func (s *Store) pendingMatch(m models.Message) int {
	if m.ClientID != "" {
		for i, e := range s.entries {
			if e.Pending && e.ClientID == m.ClientID {
				return i
			}
		}
	}
	if m.SenderID != s.self {
		return -1
	}
	for i, e := range s.entries {
		if e.Pending && e.SenderID == m.SenderID && e.ReceiverID == m.ReceiverID && e.Content == m.Content {
			return i
		}
	}
	return -1
}

func (s *Store) indexOf(id models.ID) int {
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// ReplaceOnSeed swaps the conversation with peer for a fresh history snapshot.
// Messages of other conversations are kept. Duplicate ids inside the snapshot
// collapse to their first occurrence, and accepted annotations survive.
// Optimistic entries the snapshot does not know about yet stay at the end
// until their echo arrives.
func (s *Store) ReplaceOnSeed(peer models.ID, history []models.Message) {
	inSnapshot := make(map[string]bool)
	for _, m := range history {
		if m.ClientID != "" {
			inSnapshot[m.ClientID] = true
		}
	}

	accepted := make(map[models.ID]bool)
	var pending []Entry
	kept := s.entries[:0:0]
	for _, e := range s.entries {
		if e.Involves(s.self, peer) {
			if e.Accepted {
				accepted[e.ID] = true
			}
			if e.Pending && (e.ClientID == "" || !inSnapshot[e.ClientID]) {
				pending = append(pending, e)
			}
			continue
		}
		kept = append(kept, e)
	}

	seen := make(map[models.ID]bool, len(history))
	for _, m := range history {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if accepted[m.ID] {
			m.Accepted = true
		}
		kept = append(kept, newEntry(m))
	}

	s.entries = append(kept, pending...)
	s.changed()
}

// RemoveByID deletes every entry carrying id and reports whether any existed.
func (s *Store) RemoveByID(id models.ID) bool {
	return s.removeWhere(func(e Entry) bool { return e.ID == id }) > 0
}

// PruneDonationCards removes every donation_card for donationID, however many
// times it was appended. Confirmations and text are untouched.
func (s *Store) PruneDonationCards(donationID models.ID) int {
	return s.removeWhere(func(e Entry) bool { return e.Payload.IsCardFor(donationID) })
}

func (s *Store) removeWhere(match func(Entry) bool) int {
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if match(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// clear the tail so dropped entries can be collected
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = Entry{}
	}
	s.entries = kept

	if removed > 0 {
		s.changed()
	}
	return removed
}

// MarkAccepted flags every card for donationID as accepted and returns how
// many were flagged.
func (s *Store) MarkAccepted(donationID models.ID) int {
	n := 0
	for i := range s.entries {
		e := &s.entries[i]
		if e.Payload.IsCardFor(donationID) && !e.Accepted {
			e.Accepted = true
			n++
		}
	}
	if n > 0 {
		s.changed()
	}
	return n
}

// FilterForConversation returns the messages exchanged between current and
// peer in log order.
func (s *Store) FilterForConversation(current, peer models.ID) []Entry {
	var out []Entry
	for _, e := range s.entries {
		if e.Involves(current, peer) {
			out = append(out, e)
		}
	}
	return out
}

// PendingCards lists every donation card not yet accepted. It is computed on
// each call so it can never go stale.
func (s *Store) PendingCards() []Entry {
	var out []Entry
	for _, e := range s.entries {
		if e.Payload.Kind == protocol.KindDonationCard && !e.Accepted {
			out = append(out, e)
		}
	}
	return out
}

// FindCard returns the first card for donationID.
func (s *Store) FindCard(donationID models.ID) (Entry, bool) {
	for _, e := range s.entries {
		if e.Payload.IsCardFor(donationID) {
			return e, true
		}
	}
	return Entry{}, false
}

// Get returns the entry with id.
func (s *Store) Get(id models.ID) (Entry, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.entries[i], true
	}
	return Entry{}, false
}

// All returns a copy of the whole log.
func (s *Store) All() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Len() int {
	return len(s.entries)
}
