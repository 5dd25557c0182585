// Package transport keeps the single persistent connection between a signed-in
// identity and the chat server, reconnecting forever with a fixed delay.
package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Avanquish/DoughNation-sub002/internal/logger"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	// A history snapshot arrives as one message and the server may coalesce
	// it with other queued frames, so the limit only guards against runaway peers.
	maxMessageSize = 32 << 20
	minSendBuffer  = 256

	DefaultRetryDelay = 2 * time.Second
	DefaultOutboxSize = 256
)

var (
	ErrNotConnected = errors.New("channel is not open")
	ErrBufferFull   = errors.New("send buffer is full")

	log = logger.New("transport")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	}
	return "disconnected"
}

type Options struct {
	// URL of the chat endpoint. A literal "{id}" is replaced by the identity
	// id; otherwise the id is added as the user_id query parameter.
	URL        string
	RetryDelay time.Duration
	// OutboxSize bounds frames queued by SendReliable while disconnected.
	OutboxSize int
	Dialer     *websocket.Dialer

	// OnFrame and OnState run on the channel's goroutine and must not block.
	OnFrame func(protocol.Frame)
	OnState func(State)
}

type outgoing struct {
	data     []byte
	reliable bool
}

// Channel is safe for concurrent use.
type Channel struct {
	opts Options

	mu       sync.Mutex
	state    State
	identity models.ID
	cancel   context.CancelFunc
	done     chan struct{}
	send     chan outgoing
	outbox   [][]byte
}

func New(opts Options) *Channel {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = DefaultOutboxSize
	}
	if opts.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = 10 * time.Second
		opts.Dialer = &d
	}
	if opts.OnFrame == nil {
		opts.OnFrame = func(protocol.Frame) {}
	}
	if opts.OnState == nil {
		opts.OnState = func(State) {}
	}
	return &Channel{opts: opts}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop for identity. It returns immediately;
// progress is reported through OnState. Calling it again for the identity
// already connected does nothing, and a different identity replaces the
// running one.
func (c *Channel) Connect(ctx context.Context, identity models.Identity, token string) error {
	target, err := endpoint(c.opts.URL, identity.ID, token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.cancel != nil {
		if c.identity == identity.ID {
			c.mu.Unlock()
			log.Debug("Channel for user %s already running", identity.ID)
			return nil
		}
		prev := c.identity
		c.mu.Unlock()
		log.Info("Switching channel from user %s to %s", prev, identity.ID)
		c.Close()
		c.mu.Lock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.identity = identity.ID
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	go c.run(runCtx, target, header, done)
	return nil
}

// Close tears the channel down and waits for the reconnect loop to exit, so
// no retry fires after the identity is gone. Queued frames are discarded.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	c.mu.Lock()
	c.outbox = nil
	c.mu.Unlock()
}

// Send transmits f if the channel is open and drops it otherwise. The error
// only tells the caller it was dropped; nothing waits for delivery.
func (c *Channel) Send(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trySendLocked(outgoing{data: data})
}

// SendReliable transmits f now if possible and otherwise keeps it until the
// next time the channel opens.
func (c *Channel) SendReliable(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Frames already waiting go first.
	if len(c.outbox) == 0 {
		if err := c.trySendLocked(outgoing{data: data, reliable: true}); err == nil {
			return nil
		}
	}
	c.queueLocked(data)
	return nil
}

// Queued reports how many reliable frames wait for the next connection.
func (c *Channel) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

func (c *Channel) trySendLocked(out outgoing) error {
	if c.state != Open || c.send == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- out:
		return nil
	default:
		return ErrBufferFull
	}
}

func (c *Channel) queueLocked(data []byte) {
	if len(c.outbox) >= c.opts.OutboxSize {
		log.Warn("Outbox full, dropping oldest queued frame")
		c.outbox = c.outbox[1:]
	}
	c.outbox = append(c.outbox, data)
}

// refill moves queued frames into the live send buffer while it has room.
func (c *Channel) refill(send chan outgoing) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.send != send {
		return
	}
	for len(c.outbox) > 0 {
		select {
		case send <- outgoing{data: c.outbox[0], reliable: true}:
			c.outbox = c.outbox[1:]
		default:
			return
		}
	}
}

// requeueLocked puts reliable frames that never reached the wire back in front
// of the outbox: the frame whose write failed, then the ones behind it.
func (c *Channel) requeueLocked(failed []byte, send chan outgoing) {
	var requeue [][]byte
	if failed != nil {
		requeue = append(requeue, failed)
	}
	for {
		select {
		case out := <-send:
			if out.reliable {
				requeue = append(requeue, out.data)
			}
			continue
		default:
		}
		break
	}

	c.outbox = append(requeue, c.outbox...)
	if extra := len(c.outbox) - c.opts.OutboxSize; extra > 0 {
		log.Warn("Outbox full, dropping %d oldest queued frame(s)", extra)
		c.outbox = c.outbox[extra:]
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed {
		log.Debug("Channel state: %s", s)
		c.opts.OnState(s)
	}
}

func (c *Channel) run(ctx context.Context, target string, header http.Header, done chan struct{}) {
	defer close(done)
	defer c.setState(Disconnected)

	for {
		c.setState(Connecting)

		conn, _, err := c.opts.Dialer.DialContext(ctx, target, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("Connect failed: %v", err)
		} else {
			c.serve(ctx, conn)
		}

		c.setState(Disconnected)
		if ctx.Err() != nil {
			return
		}

		log.Info("Reconnecting in %s", c.opts.RetryDelay)
		timer := time.NewTimer(c.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// serve owns one live connection until it drops or ctx is cancelled.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	activeChats, _ := protocol.Encode(protocol.GetActiveChatsFrame())

	c.mu.Lock()
	pending := c.outbox
	c.outbox = nil
	size := minSendBuffer
	if n := len(pending) + 16; n > size {
		size = n
	}
	send := make(chan outgoing, size)
	send <- outgoing{data: activeChats}
	for _, data := range pending {
		send <- outgoing{data: data, reliable: true}
	}
	c.send = send
	c.mu.Unlock()

	stop := make(chan struct{})
	var failed []byte
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		failed = c.writePump(conn, send, stop)
	}()
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	log.Info("Channel open, %d queued frame(s) flushed", len(pending))
	c.setState(Open)

	c.readPump(conn)

	close(stop)
	wg.Wait()
	conn.Close()

	c.mu.Lock()
	c.send = nil
	c.state = Disconnected
	c.requeueLocked(failed, send)
	c.mu.Unlock()

	c.opts.OnState(Disconnected)
}

func (c *Channel) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("Connection lost: %v", err)
			} else {
				log.Info("Connection closed: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		// The server may coalesce queued frames into one message, one per line.
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			frame, err := protocol.Decode(line)
			if err != nil {
				log.Warn("Skipping malformed frame: %v", err)
				continue
			}
			c.opts.OnFrame(frame)
		}
	}
}

// writePump returns the reliable frame it failed to write, if any.
func (c *Channel) writePump(conn *websocket.Conn, send chan outgoing, stop chan struct{}) []byte {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case out := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				log.Warn("Write failed: %v", err)
				conn.Close()
				if out.reliable {
					return out.data
				}
				return nil
			}
			c.refill(send)
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return nil
			}
		case <-stop:
			return nil
		}
	}
}

func endpoint(raw string, id models.ID, token string) (string, error) {
	inPath := strings.Contains(raw, "{id}")
	raw = strings.ReplaceAll(raw, "{id}", id.String())
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", errors.New("channel url must use ws or wss")
	}

	q := u.Query()
	if !inPath {
		q.Set("user_id", id.String())
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
