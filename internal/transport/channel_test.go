package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// testServer accepts channel connections and records every frame it reads.
type testServer struct {
	srv    *httptest.Server
	conns  chan *websocket.Conn
	frames chan protocol.Frame
	urls   chan string
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{
		conns:  make(chan *websocket.Conn, 8),
		frames: make(chan protocol.Frame, 64),
		urls:   make(chan string, 8),
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.urls <- r.URL.String()
		ts.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := protocol.Decode(data)
			if err == nil {
				ts.frames <- f
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/ws"
}

func (ts *testServer) nextConn(t *testing.T) *websocket.Conn {
	select {
	case c := <-ts.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
	}
	return nil
}

func (ts *testServer) nextFrame(t *testing.T) protocol.Frame {
	select {
	case f := <-ts.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
	}
	return protocol.Frame{}
}

// stateLog collects state transitions from the channel goroutine.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) count(s State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.states {
		if got == s {
			n++
		}
	}
	return n
}

var bakery = models.Identity{ID: 20, Role: models.RoleBakery}

func TestSendWhileDisconnectedIsDropped(t *testing.T) {
	ch := New(Options{URL: "ws://127.0.0.1:1/ws"})

	err := ch.Send(protocol.TypingFrame(20, 10, true))

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, ch.Queued())
	assert.Equal(t, Disconnected, ch.State())
}

func TestConnectRequestsActiveChatsFirst(t *testing.T) {
	ts := newTestServer(t)
	states := &stateLog{}
	ch := New(Options{URL: ts.wsURL(), RetryDelay: 50 * time.Millisecond, OnState: states.record})
	t.Cleanup(ch.Close)

	require.NoError(t, ch.Connect(context.Background(), bakery, "tok"))
	ts.nextConn(t)

	first := ts.nextFrame(t)
	assert.Equal(t, protocol.TypeGetActiveChats, first.Type)

	url := <-ts.urls
	assert.Contains(t, url, "user_id=20")
	assert.Contains(t, url, "token=tok")

	require.Eventually(t, func() bool { return ch.State() == Open }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, states.count(Connecting))
	assert.Equal(t, 1, states.count(Open))
}

func TestReliableFramesFlushAfterOpen(t *testing.T) {
	ts := newTestServer(t)
	ch := New(Options{URL: ts.wsURL(), RetryDelay: 50 * time.Millisecond})
	t.Cleanup(ch.Close)

	require.NoError(t, ch.SendReliable(protocol.MessageFrame(20, 10, "hello", "c-1")))
	assert.Equal(t, 1, ch.Queued())

	require.NoError(t, ch.Connect(context.Background(), bakery, ""))
	ts.nextConn(t)

	assert.Equal(t, protocol.TypeGetActiveChats, ts.nextFrame(t).Type)
	queued := ts.nextFrame(t)
	assert.Equal(t, protocol.TypeMessage, queued.Type)
	assert.Equal(t, "hello", queued.Content)
	assert.Equal(t, "c-1", queued.ClientID)
	assert.Equal(t, 0, ch.Queued())
}

func TestOutboxDropsOldestWhenFull(t *testing.T) {
	ch := New(Options{URL: "ws://127.0.0.1:1/ws", OutboxSize: 2})

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, ch.SendReliable(protocol.MessageFrame(20, 10, text, "")))
	}

	assert.Equal(t, 2, ch.Queued())
	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Contains(t, string(ch.outbox[0]), `"b"`)
}

func TestInboundFramesAreDispatched(t *testing.T) {
	ts := newTestServer(t)
	got := make(chan protocol.Frame, 8)
	ch := New(Options{
		URL:     ts.wsURL(),
		OnFrame: func(f protocol.Frame) { got <- f },
	})
	t.Cleanup(ch.Close)

	require.NoError(t, ch.Connect(context.Background(), bakery, ""))
	conn := ts.nextConn(t)

	batch := `{"type":"typing","sender_id":10,"receiver_id":20}` + "\n" +
		`not json` + "\n" +
		`{"type":"stop_typing","sender_id":"10","receiver_id":"20"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(batch)))

	first := <-got
	second := <-got
	assert.Equal(t, protocol.TypeTyping, first.Type)
	assert.Equal(t, protocol.TypeStopTyping, second.Type)
	assert.Equal(t, models.ID(10), second.SenderID)
}

func TestLargeHistoryFrameIsDelivered(t *testing.T) {
	ts := newTestServer(t)
	states := &stateLog{}
	got := make(chan protocol.Frame, 4)
	ch := New(Options{
		URL:        ts.wsURL(),
		RetryDelay: 20 * time.Millisecond,
		OnFrame:    func(f protocol.Frame) { got <- f },
		OnState:    states.record,
	})
	t.Cleanup(ch.Close)

	require.NoError(t, ch.Connect(context.Background(), bakery, ""))
	conn := ts.nextConn(t)

	history := protocol.Frame{Type: protocol.TypeHistory}
	text := strings.Repeat("fresh bread ", 13)
	for i := 1; i <= 500; i++ {
		history.Messages = append(history.Messages, models.Message{
			ID: models.ID(i), SenderID: 10, ReceiverID: 20, Content: text,
			Timestamp: "2024-05-01T10:00:00Z",
		})
	}
	data, err := protocol.Encode(history)
	require.NoError(t, err)
	require.Greater(t, len(data), 64*1024)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	select {
	case f := <-got:
		assert.Equal(t, protocol.TypeHistory, f.Type)
		assert.Len(t, f.Messages, 500)
	case <-time.After(2 * time.Second):
		t.Fatal("history frame not delivered")
	}
	assert.Equal(t, 1, states.count(Open))
	assert.Equal(t, 0, states.count(Disconnected))
}

func TestReliableFramesWaitBehindQueuedOnesWhileOpen(t *testing.T) {
	ch := New(Options{})
	send := make(chan outgoing, 1)
	ch.mu.Lock()
	ch.state = Open
	ch.send = send
	ch.mu.Unlock()

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, ch.SendReliable(protocol.MessageFrame(20, 10, text, "")))
	}
	assert.Equal(t, 2, ch.Queued())

	// The writer takes "a"; the freed slot goes to "b", not to later sends.
	assert.Contains(t, string((<-send).data), `"a"`)
	ch.refill(send)
	require.NoError(t, ch.SendReliable(protocol.MessageFrame(20, 10, "d", "")))

	var order []string
	for len(send) > 0 || ch.Queued() > 0 {
		out := <-send
		f, err := protocol.Decode(out.data)
		require.NoError(t, err)
		order = append(order, f.Content)
		ch.refill(send)
	}
	assert.Equal(t, []string{"b", "c", "d"}, order)
}

func TestRequeueKeepsFailedFrameFirst(t *testing.T) {
	ch := New(Options{})
	send := make(chan outgoing, 4)
	send <- outgoing{data: []byte("b"), reliable: true}
	send <- outgoing{data: []byte("typing")}
	send <- outgoing{data: []byte("c"), reliable: true}
	ch.outbox = [][]byte{[]byte("d")}

	ch.mu.Lock()
	ch.requeueLocked([]byte("a"), send)
	ch.mu.Unlock()

	var order []string
	for _, data := range ch.outbox {
		order = append(order, string(data))
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestRequeueRespectsOutboxSize(t *testing.T) {
	ch := New(Options{OutboxSize: 2})
	send := make(chan outgoing, 2)
	send <- outgoing{data: []byte("b"), reliable: true}
	ch.outbox = [][]byte{[]byte("c")}

	ch.mu.Lock()
	ch.requeueLocked([]byte("a"), send)
	ch.mu.Unlock()

	assert.Equal(t, [][]byte{[]byte("b"), []byte("c")}, ch.outbox)
}

func TestReconnectsAfterDrop(t *testing.T) {
	ts := newTestServer(t)
	states := &stateLog{}
	ch := New(Options{URL: ts.wsURL(), RetryDelay: 20 * time.Millisecond, OnState: states.record})
	t.Cleanup(ch.Close)

	require.NoError(t, ch.Connect(context.Background(), bakery, ""))
	first := ts.nextConn(t)
	assert.Equal(t, protocol.TypeGetActiveChats, ts.nextFrame(t).Type)

	first.Close()

	ts.nextConn(t)
	assert.Equal(t, protocol.TypeGetActiveChats, ts.nextFrame(t).Type)
	require.Eventually(t, func() bool { return states.count(Open) == 2 }, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, states.count(Disconnected), 1)
}

func TestConnectSameIdentityIsNoop(t *testing.T) {
	ts := newTestServer(t)
	ch := New(Options{URL: ts.wsURL()})
	t.Cleanup(ch.Close)

	require.NoError(t, ch.Connect(context.Background(), bakery, ""))
	ts.nextConn(t)
	require.NoError(t, ch.Connect(context.Background(), bakery, ""))

	select {
	case <-ts.conns:
		t.Fatal("second connection opened for the same identity")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseStopsReconnecting(t *testing.T) {
	ts := newTestServer(t)
	ch := New(Options{URL: ts.wsURL(), RetryDelay: 20 * time.Millisecond})

	require.NoError(t, ch.Connect(context.Background(), bakery, ""))
	ts.nextConn(t)

	ch.Close()
	assert.Equal(t, Disconnected, ch.State())

	select {
	case <-ts.conns:
		t.Fatal("reconnected after Close")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "query id", raw: "ws://host/api/ws", want: "ws://host/api/ws?token=t&user_id=20"},
		{name: "path id", raw: "wss://host/ws/chat/{id}", want: "wss://host/ws/chat/20?token=t"},
		{name: "bad scheme", raw: "http://host/ws", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := endpoint(tt.raw, 20, "t")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
