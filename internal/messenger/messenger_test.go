package messenger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Avanquish/DoughNation-sub002/internal/bus"
	"github.com/Avanquish/DoughNation-sub002/internal/database"
	"github.com/Avanquish/DoughNation-sub002/internal/donation"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
	"github.com/Avanquish/DoughNation-sub002/internal/transport"
)

var (
	charity = models.Identity{ID: 10, Role: models.RoleCharity, Name: "Hope Shelter"}
	bakery  = models.Identity{ID: 20, Role: models.RoleBakery, Name: "Sunrise Bakery"}
	bread   = models.DonationSnapshot{ID: 77, Name: "Sourdough", Quantity: 12, BakeryID: 20}
)

// fakeLink records outbound frames. Send drops while closed, SendReliable
// always records, as the transport's outbox would eventually deliver it.
type fakeLink struct {
	mu     sync.Mutex
	open   bool
	frames []protocol.Frame
}

func newFakeLink() *fakeLink {
	return &fakeLink{open: true}
}

func (l *fakeLink) Send(f protocol.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return transport.ErrNotConnected
	}
	l.frames = append(l.frames, f)
	return nil
}

func (l *fakeLink) SendReliable(f protocol.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f)
	return nil
}

func (l *fakeLink) setOpen(open bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = open
}

func (l *fakeLink) sent(frameType string) []protocol.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []protocol.Frame
	for _, f := range l.frames {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

func (l *fakeLink) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = nil
}

// MockDonations implements donation.Client.
type MockDonations struct {
	mock.Mock
}

func (m *MockDonations) Accept(ctx context.Context, donationID models.ID) error {
	args := m.Called(ctx, donationID)
	return args.Error(0)
}

type fixture struct {
	m         *Messenger
	link      *fakeLink
	storage   *database.MemoryStorage
	bus       *bus.Local
	donations *MockDonations
}

func newFixture(t *testing.T, self models.Identity) *fixture {
	t.Helper()
	f := &fixture{
		link:      newFakeLink(),
		storage:   database.NewMemoryStorage(),
		bus:       bus.New(),
		donations: new(MockDonations),
	}
	f.m = f.start(t, self)
	return f
}

func (f *fixture) start(t *testing.T, self models.Identity) *Messenger {
	t.Helper()
	m, err := New(context.Background(), Options{
		Identity:       self,
		Link:           f.link,
		Storage:        f.storage,
		Donations:      f.donations,
		Bus:            f.bus,
		TypingDebounce: 150 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

// settle waits until every task queued so far has run.
func settle(t *testing.T, m *Messenger) {
	t.Helper()
	require.NoError(t, m.do(func() {}))
}

func cardMessage(t *testing.T, id models.ID, from, to models.ID, snap models.DonationSnapshot) protocol.Frame {
	t.Helper()
	content, err := protocol.EncodeDonationCard(snap, from)
	require.NoError(t, err)
	f := protocol.MessageFrame(from, to, content, "")
	f.ID = id
	f.Timestamp = "2024-05-01T10:00:00Z"
	return f
}

func textMessage(id, from, to models.ID, text string) protocol.Frame {
	f := protocol.MessageFrame(from, to, text, "")
	f.ID = id
	f.Timestamp = "2024-05-01T10:00:00Z"
	return f
}

func TestNewRejectsUnsupportedRole(t *testing.T) {
	_, err := New(context.Background(), Options{
		Identity: models.Identity{ID: 5, Role: "admin"},
		Link:     newFakeLink(),
	})
	assert.ErrorIs(t, err, models.ErrUnsupportedRole)
}

func TestOpenConversationResetsUnreadSynchronously(t *testing.T) {
	f := newFixture(t, bakery)

	f.m.HandleFrame(protocol.Frame{
		Type: protocol.TypeActiveChats,
		Chats: []models.ConversationSummary{
			{Peer: models.Peer{ID: 10, Name: "Hope Shelter"}, Unread: models.IntPtr(3)},
			{Peer: models.Peer{ID: 11, Name: "Food Bank"}, Unread: models.IntPtr(1)},
		},
	})
	settle(t, f.m)
	require.Equal(t, 3, f.m.Unread(10))

	require.NoError(t, f.m.OpenConversation(models.Peer{ID: 10}))

	// No frame from the server has been delivered yet.
	assert.Equal(t, 0, f.m.Unread(10))
	assert.Equal(t, 1, f.m.Unread(11))
	assert.Equal(t, 1, f.m.View().TotalUnread)
	assert.Len(t, f.link.sent(protocol.TypeMarkRead), 1)
	require.Len(t, f.link.sent(protocol.TypeGetHistory), 1)
	assert.Equal(t, models.ID(10), f.link.sent(protocol.TypeGetHistory)[0].PeerID)
}

func TestActiveChatsUpdateKeepsUnreadWhenAbsent(t *testing.T) {
	f := newFixture(t, bakery)

	f.m.HandleFrame(protocol.Frame{
		Type:  protocol.TypeActiveChats,
		Chats: []models.ConversationSummary{{Peer: models.Peer{ID: 10}, Unread: models.IntPtr(2)}},
	})
	last := textMessage(9, 10, 20, "still there?").AsMessage()
	f.m.HandleFrame(protocol.Frame{
		Type: protocol.TypeActiveChatsUpdate,
		Chat: &models.ConversationSummary{Peer: models.Peer{ID: 10, Name: "Hope Shelter"}, LastMessage: &last},
	})
	settle(t, f.m)

	chats := f.m.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, 2, chats[0].UnreadCount())
	assert.Equal(t, "Hope Shelter", chats[0].Peer.Name)
	assert.Equal(t, "still there?", chats[0].LastMessage.Content)
}

func TestIncomingMessageBumpsUnreadOnlyWhenClosed(t *testing.T) {
	f := newFixture(t, bakery)
	require.NoError(t, f.m.OpenConversation(models.Peer{ID: 10}))
	f.link.reset()

	f.m.HandleFrame(textMessage(1, 10, 20, "hi from the open chat"))
	f.m.HandleFrame(textMessage(2, 11, 20, "hi from elsewhere"))
	f.m.HandleFrame(textMessage(2, 11, 20, "hi from elsewhere"))
	settle(t, f.m)

	assert.Equal(t, 0, f.m.Unread(10))
	assert.Equal(t, 1, f.m.Unread(11))
	assert.Len(t, f.m.Conversation(), 1)
	assert.Len(t, f.m.Log(), 2)
	assert.Len(t, f.link.sent(protocol.TypeMarkRead), 1)
}

func TestOptimisticSendIsReconciledWithEcho(t *testing.T) {
	f := newFixture(t, charity)
	require.NoError(t, f.m.OpenConversation(models.Peer{ID: 20}))

	require.NoError(t, f.m.SendText("Do you have bread today?"))

	conv := f.m.Conversation()
	require.Len(t, conv, 1)
	assert.True(t, conv[0].Pending)
	assert.Less(t, int64(conv[0].ID), int64(0))

	sent := f.link.sent(protocol.TypeMessage)
	require.Len(t, sent, 1)
	require.NotEmpty(t, sent[0].ClientID)

	echo := sent[0]
	echo.ID = 501
	echo.Timestamp = "2024-05-01T10:00:00Z"
	f.m.HandleFrame(echo)
	settle(t, f.m)

	conv = f.m.Conversation()
	require.Len(t, conv, 1)
	assert.Equal(t, models.ID(501), conv[0].ID)
	assert.False(t, conv[0].Pending)
	assert.Equal(t, 0, f.m.Unread(20))
}

func TestPendingSendsAreResentAfterRestart(t *testing.T) {
	f := newFixture(t, charity)
	require.NoError(t, f.m.OpenConversation(bakery.AsPeer()))
	f.link.setOpen(false)

	require.NoError(t, f.m.SendText("hello while offline"))
	require.NoError(t, f.m.SendMedia("", "/uploads/bread.png", "image"))
	sent := f.link.sent(protocol.TypeMessage)
	require.Len(t, sent, 2)
	f.m.Close()

	f.link.reset()
	m := f.start(t, charity)

	resent := f.link.sent(protocol.TypeMessage)
	require.Len(t, resent, 2)
	assert.Equal(t, sent[0].ClientID, resent[0].ClientID)
	assert.Equal(t, "hello while offline", resent[0].Content)
	assert.Equal(t, bakery.ID, resent[0].ReceiverID)
	assert.Equal(t, sent[1].ClientID, resent[1].ClientID)
	assert.Equal(t, "/uploads/bread.png", resent[1].Media)
	assert.Equal(t, "image", resent[1].MediaType)

	echo := resent[0]
	echo.ID = 501
	echo.Timestamp = "2024-05-01T10:00:00Z"
	m.HandleFrame(echo)
	settle(t, m)

	entries := m.Log()
	require.Len(t, entries, 2)
	assert.Equal(t, models.ID(501), entries[0].ID)
	assert.False(t, entries[0].Pending)
	assert.True(t, entries[1].Pending)
}

func TestConfirmedSendsAreNotResent(t *testing.T) {
	f := newFixture(t, charity)
	require.NoError(t, f.m.OpenConversation(bakery.AsPeer()))
	require.NoError(t, f.m.SendText("already delivered"))

	echo := f.link.sent(protocol.TypeMessage)[0]
	echo.ID = 502
	f.m.HandleFrame(echo)
	settle(t, f.m)
	f.m.Close()

	f.link.reset()
	f.start(t, charity)
	assert.Empty(t, f.link.sent(protocol.TypeMessage))
}

func TestSendRequiresOpenConversation(t *testing.T) {
	f := newFixture(t, charity)

	assert.ErrorIs(t, f.m.SendText("hello"), ErrNoConversation)
	assert.ErrorIs(t, f.m.SendText("   "), ErrEmptyMessage)
}

func TestRoleGuards(t *testing.T) {
	b := newFixture(t, bakery)
	c := newFixture(t, charity)

	assert.ErrorIs(t, b.m.SendDonationCard(models.Peer{ID: 10}, bread), ErrWrongRole)
	assert.ErrorIs(t, c.m.AcceptDonation(context.Background(), 77), ErrWrongRole)
	c.donations.AssertNotCalled(t, "Accept", mock.Anything, mock.Anything)
}

func TestAcceptDonationIsIdempotent(t *testing.T) {
	f := newFixture(t, bakery)
	f.m.HandleFrame(cardMessage(t, 1, 10, 20, bread))
	settle(t, f.m)
	require.Len(t, f.m.PendingCards(), 1)

	f.donations.On("Accept", mock.Anything, models.ID(77)).Return(nil).Once()

	require.NoError(t, f.m.AcceptDonation(context.Background(), 77))
	require.NoError(t, f.m.AcceptDonation(context.Background(), 77))

	f.donations.AssertNumberOfCalls(t, "Accept", 1)

	var confirmations []protocol.Frame
	for _, fr := range f.link.sent(protocol.TypeMessage) {
		if protocol.ParseContent(fr.Content).Kind == protocol.KindConfirmedDonation {
			confirmations = append(confirmations, fr)
		}
	}
	require.Len(t, confirmations, 1)
	assert.Equal(t, models.ID(10), confirmations[0].ReceiverID)

	var stored []models.ID
	found, err := f.storage.Get(context.Background(), database.AcceptedDonationsKey(bakery.ID), &stored)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []models.ID{77}, stored)
	assert.Empty(t, f.m.PendingCards())
}

func TestAcceptDonationWhileInFlightIsNoop(t *testing.T) {
	f := newFixture(t, bakery)
	f.m.HandleFrame(cardMessage(t, 1, 10, 20, bread))
	settle(t, f.m)

	started := make(chan struct{})
	release := make(chan struct{})
	f.donations.On("Accept", mock.Anything, models.ID(77)).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()

	firstDone := make(chan error, 1)
	go func() { firstDone <- f.m.AcceptDonation(context.Background(), 77) }()
	<-started

	assert.NoError(t, f.m.AcceptDonation(context.Background(), 77))
	close(release)
	require.NoError(t, <-firstDone)

	f.donations.AssertNumberOfCalls(t, "Accept", 1)
}

func TestAcceptDonationFailureSendsNothing(t *testing.T) {
	f := newFixture(t, bakery)
	f.m.HandleFrame(cardMessage(t, 1, 10, 20, bread))
	settle(t, f.m)

	notices := make(chan bus.NoticeDetail, 1)
	f.bus.Subscribe(bus.Notice, func(detail any) { notices <- detail.(bus.NoticeDetail) })

	boom := errors.New("service unavailable")
	f.donations.On("Accept", mock.Anything, models.ID(77)).Return(boom).Once()

	err := f.m.AcceptDonation(context.Background(), 77)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.link.sent(protocol.TypeMessage))
	assert.Len(t, f.m.PendingCards(), 1)

	select {
	case n := <-notices:
		assert.ErrorIs(t, n.Err, boom)
		assert.Contains(t, n.Message, "77")
	default:
		t.Fatal("no notice published")
	}

	// A failed attempt does not count as accepted.
	f.donations.On("Accept", mock.Anything, models.ID(77)).Return(nil).Once()
	require.NoError(t, f.m.AcceptDonation(context.Background(), 77))
	assert.Empty(t, f.m.PendingCards())
}

func TestAcceptUnknownCard(t *testing.T) {
	f := newFixture(t, bakery)
	assert.ErrorIs(t, f.m.AcceptDonation(context.Background(), 404), ErrCardNotFound)
}

func TestDonationScenario(t *testing.T) {
	c := newFixture(t, charity)
	b := newFixture(t, bakery)

	// Charity 10 requests donation 77 from bakery 20.
	require.NoError(t, c.m.SendDonationCard(models.Peer{ID: 20}, bread))
	require.Len(t, c.m.PendingCards(), 1)
	cardFrame := c.link.sent(protocol.TypeMessage)[0]
	cardFrame.ID = 1
	cardFrame.Timestamp = "2024-05-01T10:00:00Z"

	// The server echoes the card to the charity and delivers it to the bakery.
	c.m.HandleFrame(cardFrame)
	b.m.HandleFrame(cardFrame)
	settle(t, c.m)
	settle(t, b.m)
	assert.Len(t, c.m.Log(), 1)
	require.Len(t, b.m.Log(), 1)
	require.Len(t, b.m.PendingCards(), 1)

	// Bakery accepts.
	b.donations.On("Accept", mock.Anything, models.ID(77)).Return(nil).Once()
	require.NoError(t, b.m.AcceptDonation(context.Background(), 77))

	bLog := b.m.Log()
	require.Len(t, bLog, 2)
	assert.True(t, bLog[0].Accepted)
	assert.Equal(t, protocol.KindConfirmedDonation, bLog[1].Payload.Kind)
	assert.Equal(t, models.ID(20), bLog[1].SenderID)
	assert.Equal(t, models.ID(10), bLog[1].ReceiverID)
	assert.Empty(t, b.m.PendingCards())

	confirmFrame := b.link.sent(protocol.TypeMessage)[0]
	confirmFrame.ID = 2
	c.m.HandleFrame(protocol.Frame{Type: protocol.TypeDonationAccepted, DonationID: 77})
	c.m.HandleFrame(confirmFrame)
	settle(t, c.m)
	assert.Empty(t, c.m.PendingCards())

	// A stale duplicate of the card shows up on the bakery after a reconnect.
	dup := cardFrame
	dup.ID = 3
	b.m.HandleFrame(dup)
	settle(t, b.m)
	require.Len(t, b.m.Log(), 3)

	// Charity cancels from the donation list.
	detail := bus.CancelDetail{DonationID: 77, CancelledBy: "charity"}
	c.bus.Publish(bus.DonationCancelled, detail)
	b.bus.Publish(bus.DonationCancelled, detail)
	settle(t, c.m)
	settle(t, b.m)

	for _, got := range [][]protocol.Kind{kinds(c.m), kinds(b.m)} {
		assert.Equal(t, []protocol.Kind{protocol.KindConfirmedDonation}, got)
	}
}

func kinds(m *Messenger) []protocol.Kind {
	var out []protocol.Kind
	for _, e := range m.Log() {
		out = append(out, e.Payload.Kind)
	}
	return out
}

func TestCancelDonationPrunesAndNotifies(t *testing.T) {
	f := newFixture(t, charity)
	f.m.HandleFrame(cardMessage(t, 1, 10, 20, bread))
	f.m.HandleFrame(textMessage(2, 20, 10, "let me check"))
	f.m.HandleFrame(cardMessage(t, 3, 10, 20, bread))
	settle(t, f.m)

	var events []string
	for _, name := range []string{bus.DonationCancelled, bus.DonationCancelledByMessages} {
		name := name
		f.bus.Subscribe(name, func(detail any) {
			d := detail.(bus.CancelDetail)
			assert.Equal(t, models.ID(77), d.DonationID)
			assert.Equal(t, models.ID(5), d.RequestID)
			events = append(events, name)
		})
	}

	require.NoError(t, f.m.CancelDonation(77, 5))

	logEntries := f.m.Log()
	require.Len(t, logEntries, 1)
	assert.Equal(t, "let me check", logEntries[0].Content)

	frames := f.link.sent(protocol.TypeDonationCancelled)
	require.Len(t, frames, 1)
	assert.Equal(t, models.ID(20), frames[0].ReceiverID)
	assert.Equal(t, "charity", frames[0].CancelledBy)
	assert.Equal(t, []string{bus.DonationCancelled, bus.DonationCancelledByMessages}, events)
}

func TestInboundCancellationPrunes(t *testing.T) {
	f := newFixture(t, bakery)
	f.m.HandleFrame(cardMessage(t, 1, 10, 20, bread))
	f.m.HandleFrame(protocol.Frame{Type: protocol.TypeDonationCancelled, DonationID: 77, SenderID: 10, ReceiverID: 20})
	settle(t, f.m)

	assert.Empty(t, f.m.Log())
}

func TestReconnectReseedsOpenConversation(t *testing.T) {
	f := newFixture(t, bakery)
	require.NoError(t, f.m.OpenConversation(models.Peer{ID: 10}))
	f.m.HandleState(transport.Open)
	f.m.HandleFrame(protocol.Frame{
		Type:     protocol.TypeHistory,
		PeerID:   10,
		Messages: []models.Message{textMessage(1, 10, 20, "a").AsMessage(), textMessage(2, 20, 10, "b").AsMessage()},
	})
	f.m.HandleFrame(textMessage(9, 11, 20, "other chat"))
	settle(t, f.m)
	require.Len(t, f.m.Conversation(), 2)

	f.link.reset()
	f.m.HandleState(transport.Disconnected)
	f.m.HandleState(transport.Open)
	settle(t, f.m)

	history := f.link.sent(protocol.TypeGetHistory)
	require.Len(t, history, 1)
	assert.Equal(t, models.ID(10), history[0].PeerID)

	f.m.HandleFrame(protocol.Frame{
		Type:   protocol.TypeHistory,
		PeerID: 10,
		Messages: []models.Message{
			textMessage(2, 20, 10, "b").AsMessage(),
			textMessage(3, 10, 20, "c").AsMessage(),
			textMessage(3, 10, 20, "c").AsMessage(),
		},
	})
	settle(t, f.m)

	var got []models.ID
	for _, e := range f.m.Conversation() {
		got = append(got, e.ID)
	}
	assert.Equal(t, []models.ID{2, 3}, got)
	assert.Len(t, f.m.Log(), 3, "other conversations are kept")
	assert.Equal(t, transport.Open, f.m.State())
}

func TestTypingDebounce(t *testing.T) {
	f := newFixture(t, charity)
	require.NoError(t, f.m.OpenConversation(models.Peer{ID: 20}))

	f.m.InputChanged()
	f.m.InputChanged()
	f.m.InputChanged()
	settle(t, f.m)

	assert.Len(t, f.link.sent(protocol.TypeTyping), 1)
	assert.Empty(t, f.link.sent(protocol.TypeStopTyping))

	require.Eventually(t, func() bool {
		return len(f.link.sent(protocol.TypeStopTyping)) == 1
	}, time.Second, 5*time.Millisecond)

	stop := f.link.sent(protocol.TypeStopTyping)[0]
	assert.Equal(t, models.ID(10), stop.SenderID)
	assert.Equal(t, models.ID(20), stop.ReceiverID)
}

func TestTypingDroppedWhileDisconnected(t *testing.T) {
	f := newFixture(t, charity)
	require.NoError(t, f.m.OpenConversation(models.Peer{ID: 20}))
	f.link.setOpen(false)

	f.m.InputChanged()
	require.NoError(t, f.m.SendText("queued anyway"))

	assert.Empty(t, f.link.sent(protocol.TypeTyping))
	assert.Len(t, f.link.sent(protocol.TypeMessage), 1)
}

func TestPeerTyping(t *testing.T) {
	f := newFixture(t, bakery)
	require.NoError(t, f.m.OpenConversation(models.Peer{ID: 10}))

	f.m.HandleFrame(protocol.TypingFrame(10, 20, true))
	settle(t, f.m)
	assert.True(t, f.m.PeerTyping())

	f.m.HandleFrame(protocol.TypingFrame(20, 10, true))
	f.m.HandleFrame(textMessage(4, 10, 20, "done typing"))
	settle(t, f.m)
	assert.False(t, f.m.PeerTyping())

	f.m.HandleFrame(protocol.TypingFrame(11, 20, true))
	settle(t, f.m)
	assert.False(t, f.m.PeerTyping(), "typing in another conversation is not shown")
}

func TestOpenChatHandoffSendsCard(t *testing.T) {
	f := newFixture(t, charity)
	require.NoError(t, donation.WriteHandoff(context.Background(), f.storage, donation.Handoff{
		Peer:     models.Peer{ID: 20, Name: "Sunrise Bakery"},
		Donation: &bread,
	}))

	f.bus.Publish(bus.OpenChat, bus.OpenChatDetail{})
	settle(t, f.m)

	assert.Equal(t, models.ID(20), f.m.OpenPeer().ID)
	assert.Equal(t, "Sunrise Bakery", f.m.OpenPeer().Name)
	sent := f.link.sent(protocol.TypeMessage)
	require.Len(t, sent, 1)
	content := protocol.ParseContent(sent[0].Content)
	require.Equal(t, protocol.KindDonationCard, content.Kind)
	assert.Equal(t, models.ID(77), content.Card.Donation.ID)
	assert.Equal(t, models.ID(10), content.Card.OriginalCharityID)

	_, found, err := donation.TakeHandoff(context.Background(), f.storage)
	require.NoError(t, err)
	assert.False(t, found, "handoff is consumed once")
}

func TestOpenChatAsBakeryDoesNotSendCard(t *testing.T) {
	f := newFixture(t, bakery)
	require.NoError(t, donation.WriteHandoff(context.Background(), f.storage, donation.Handoff{
		Peer:     models.Peer{ID: 10},
		Donation: &bread,
	}))

	f.bus.Publish(bus.OpenChat, bus.OpenChatDetail{Peer: models.Peer{ID: 10}})
	settle(t, f.m)

	assert.Equal(t, models.ID(10), f.m.OpenPeer().ID)
	assert.Empty(t, f.link.sent(protocol.TypeMessage))
}

func TestDeleteActions(t *testing.T) {
	f := newFixture(t, bakery)
	f.m.HandleFrame(textMessage(1, 20, 10, "mine"))
	f.m.HandleFrame(textMessage(2, 10, 20, "theirs"))
	settle(t, f.m)

	assert.ErrorIs(t, f.m.DeleteForEveryone(2), ErrNotOwner)
	require.NoError(t, f.m.DeleteForEveryone(1))
	require.NoError(t, f.m.DeleteForMe(2))

	assert.Empty(t, f.m.Log())
	require.Len(t, f.link.sent(protocol.TypeDeleteMessage), 1)
	require.Len(t, f.link.sent(protocol.TypeDeleteForMe), 1)

	f.m.HandleFrame(textMessage(5, 10, 20, "gone soon"))
	f.m.HandleFrame(protocol.DeleteMessageFrame(5))
	settle(t, f.m)
	assert.Empty(t, f.m.Log())
}

func TestSearch(t *testing.T) {
	f := newFixture(t, charity)

	assert.ErrorIs(t, f.m.Search("bakers", "sun"), protocol.ErrInvalidTarget)
	require.NoError(t, f.m.Search(protocol.TargetBakeries, "sun"))
	require.Len(t, f.link.sent(protocol.TypeSearch), 1)

	f.m.HandleFrame(protocol.Frame{
		Type:    protocol.TypeSearchResults,
		Target:  protocol.TargetBakeries,
		Query:   "sun",
		Results: []byte(`[{"id":20,"name":"Sunrise Bakery"}]`),
	})
	settle(t, f.m)

	res := f.m.SearchResults()
	assert.Equal(t, "sun", res.Query)
	assert.JSONEq(t, `[{"id":20,"name":"Sunrise Bakery"}]`, string(res.Results))
}

func TestUnknownFrameIsIgnored(t *testing.T) {
	f := newFixture(t, bakery)
	f.m.HandleFrame(protocol.Frame{Type: "presence_v2"})
	f.m.HandleFrame(protocol.Frame{Type: protocol.TypeActiveChatsUpdate})
	settle(t, f.m)

	assert.Empty(t, f.m.Log())
	assert.Empty(t, f.m.Chats())
}

func TestStateIsPerIdentity(t *testing.T) {
	f := newFixture(t, charity)
	require.NoError(t, f.m.OpenConversation(models.Peer{ID: 20}))
	require.NoError(t, f.m.SendText("remember me"))
	f.m.Close()

	again := f.start(t, charity)
	assert.Len(t, again.Log(), 1)

	other := f.start(t, models.Identity{ID: 30, Role: models.RoleCharity})
	assert.Empty(t, other.Log())
}

func TestFocusDonationPublishesBothEvents(t *testing.T) {
	f := newFixture(t, bakery)

	var got []string
	f.bus.Subscribe(bus.HighlightDonation, func(any) { got = append(got, bus.HighlightDonation) })
	f.bus.Subscribe(bus.InventoryFocus, func(any) { got = append(got, bus.InventoryFocus) })

	f.m.FocusDonation(77)

	assert.Equal(t, []string{bus.HighlightDonation, bus.InventoryFocus}, got)
}

func TestOnChangeReceivesViews(t *testing.T) {
	f := newFixture(t, bakery)

	views := make(chan View, 4)
	unsubscribe := f.m.OnChange(func(v View) { views <- v })
	defer unsubscribe()

	f.m.HandleFrame(textMessage(1, 10, 20, "hello"))
	settle(t, f.m)

	select {
	case v := <-views:
		require.Len(t, v.Chats, 1)
		assert.Equal(t, 1, v.TotalUnread)
	case <-time.After(time.Second):
		t.Fatal("no view published")
	}
}

func TestClosedMessengerRejectsActions(t *testing.T) {
	f := newFixture(t, bakery)
	f.m.Close()

	assert.ErrorIs(t, f.m.OpenConversation(models.Peer{ID: 10}), ErrClosed)
}
