// Package websocket is the relay: the server side of the chat protocol, used
// for local development and end-to-end tests of the messenger.
package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Avanquish/DoughNation-sub002/internal/auth"
	"github.com/Avanquish/DoughNation-sub002/internal/logger"
	"github.com/Avanquish/DoughNation-sub002/internal/models"
	"github.com/Avanquish/DoughNation-sub002/internal/protocol"
)

const (
	writeWait           = 10 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = 54 * time.Second
	maxMessageSize      = 64 * 1024
	maxFramesPerMinute  = 600
	clientSendQueueSize = 256
)

var log = logger.New("websocket")

// Client represents a connected websocket client
type Client struct {
	Identity models.Identity
	Socket   *websocket.Conn
	Send     chan []byte
}

// Manager maintains the set of active clients, one per identity
type Manager struct {
	clients    map[models.ID]*Client
	directory  map[models.ID]models.Peer
	register   chan *Client
	unregister chan *Client
	mutex      sync.Mutex

	history *History
}

// NewManager creates a new websocket manager
func NewManager() *Manager {
	return &Manager{
		clients:    make(map[models.ID]*Client),
		directory:  make(map[models.ID]models.Peer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		history:    NewHistory(),
	}
}

// History exposes the relay's message log.
func (m *Manager) History() *History {
	return m.history
}

// Run starts the websocket manager
func (m *Manager) Run() {
	for {
		select {
		case client := <-m.register:
			m.mutex.Lock()
			if old, ok := m.clients[client.Identity.ID]; ok {
				close(old.Send)
				log.Info("Replacing connection for %s", client.Identity.ID)
			}
			m.clients[client.Identity.ID] = client
			m.directory[client.Identity.ID] = client.Identity.AsPeer()
			log.Info("Client connected: %s (%s)", client.Identity.ID, client.Identity.Role)
			m.mutex.Unlock()
		case client := <-m.unregister:
			m.mutex.Lock()
			if cur, ok := m.clients[client.Identity.ID]; ok && cur == client {
				delete(m.clients, client.Identity.ID)
				close(client.Send)
				log.Info("Client disconnected: %s", client.Identity.ID)
			}
			m.mutex.Unlock()
		}
	}
}

// Connected reports whether userID has a live connection.
func (m *Manager) Connected(userID models.ID) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.clients[userID]
	return ok
}

// Lookup returns what the relay knows about userID.
func (m *Manager) Lookup(userID models.ID) models.Peer {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if p, ok := m.directory[userID]; ok {
		return p
	}
	return models.Peer{ID: userID}
}

// Remember adds an identity to the search directory without a connection.
func (m *Manager) Remember(identity models.Identity) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.directory[identity.ID] = identity.AsPeer()
}

// SendToUser sends a frame to a specific user
func (m *Manager) SendToUser(userID models.ID, f protocol.Frame) {
	data, err := protocol.Encode(f)
	if err != nil {
		log.Error("Failed to encode %s frame: %v", f.Type, err)
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if client, ok := m.clients[userID]; ok {
		select {
		case client.Send <- data:
			log.Debug("Frame %s sent to user %s", f.Type, userID)
		default:
			close(client.Send)
			delete(m.clients, userID)
			log.Warn("Failed to send frame to user %s, removing client", userID)
		}
	} else {
		log.Debug("User %s not connected", userID)
	}
}

// HandleWebSocket handles websocket requests from clients
func (m *Manager) HandleWebSocket(c *gin.Context) {
	value, exists := c.Get(auth.ContextKey)
	if !exists {
		log.Warn("No identity in context, rejecting connection from %s", c.Request.RemoteAddr)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	identity, ok := value.(models.Identity)
	if !ok {
		log.Error("Invalid identity in context from %s", c.Request.RemoteAddr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user identification"})
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			log.Debug("WebSocket origin: %s", r.Header.Get("Origin"))
			return true
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		Identity: identity,
		Socket:   conn,
		Send:     make(chan []byte, clientSendQueueSize),
	}

	m.register <- client

	go client.readPump(m)
	go client.writePump()
	log.Info("Client %s connected and ready", identity.ID)
}

// readPump pumps frames from the websocket connection to the manager
func (c *Client) readPump(m *Manager) {
	defer func() {
		m.unregister <- c
		c.Socket.Close()
	}()

	c.Socket.SetReadLimit(maxMessageSize)
	c.Socket.SetReadDeadline(time.Now().Add(pongWait))
	c.Socket.SetPongHandler(func(string) error {
		c.Socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	frameCount := 0
	lastResetTime := time.Now()

	for {
		if frameCount >= maxFramesPerMinute {
			if time.Since(lastResetTime) < time.Minute {
				log.Warn("Rate limit exceeded for client %s", c.Identity.ID)
				time.Sleep(time.Second)
				continue
			}
			frameCount = 0
			lastResetTime = time.Now()
		}

		_, data, err := c.Socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error("Error reading from client %s: %v", c.Identity.ID, err)
			} else {
				log.Info("Client %s closed connection: %v", c.Identity.ID, err)
			}
			break
		}
		c.Socket.SetReadDeadline(time.Now().Add(pongWait))
		frameCount++

		f, err := protocol.Decode(data)
		if err != nil {
			log.Error("Error decoding frame from %s: %v", c.Identity.ID, err)
			m.replyError(c, "Invalid message format")
			continue
		}

		m.route(c, f)
	}
}

// route applies one frame from c.
func (m *Manager) route(c *Client, f protocol.Frame) {
	self := c.Identity.ID
	log.Debug("Received frame type '%s' from client %s", f.Type, self)

	switch f.Type {
	case protocol.TypeMessage:
		if f.ReceiverID.IsZero() || f.ReceiverID == self {
			m.replyError(c, "Invalid receiver ID")
			return
		}
		msg := f.AsMessage()
		msg.SenderID = self
		if strings.TrimSpace(msg.Content) == "" && msg.Image == "" && msg.Video == "" {
			log.Debug("Empty message content from client %s", self)
			return
		}
		// A client resending after a restart only needs its echo again.
		if prev, ok := m.history.FindSent(self, msg.ClientID); ok {
			log.Debug("Message %s from client %s already stored", prev.ID, self)
			m.SendToUser(self, echoFrame(prev))
			return
		}
		stored := m.history.Add(msg)

		out := echoFrame(stored)
		m.SendToUser(stored.ReceiverID, out)
		m.SendToUser(self, out)
		m.pushSummary(stored.ReceiverID, self)
		m.pushSummary(self, stored.ReceiverID)

	case protocol.TypeDeleteMessage:
		deleted, ok := m.history.Delete(f.ID, self)
		if !ok {
			m.replyError(c, "Message not found")
			return
		}
		m.SendToUser(deleted.ReceiverID, protocol.DeleteMessageFrame(deleted.ID))
		m.SendToUser(self, protocol.DeleteMessageFrame(deleted.ID))
		m.pushSummary(deleted.ReceiverID, self)
		m.pushSummary(self, deleted.ReceiverID)

	case protocol.TypeDeleteForMe:
		m.history.Hide(f.ID, self)

	case protocol.TypeTyping, protocol.TypeStopTyping:
		if f.ReceiverID.IsZero() {
			return
		}
		m.SendToUser(f.ReceiverID, protocol.TypingFrame(self, f.ReceiverID, f.Type == protocol.TypeTyping))

	case protocol.TypeSearch:
		if err := protocol.ValidateTarget(f.Target); err != nil {
			m.replyError(c, err.Error())
			return
		}
		results, _ := json.Marshal(m.search(f.Target, f.Query, self))
		m.SendToUser(self, protocol.Frame{
			Type:    protocol.TypeSearchResults,
			Target:  f.Target,
			Query:   f.Query,
			Results: results,
		})

	case protocol.TypeGetHistory:
		if f.PeerID.IsZero() {
			m.replyError(c, "peer_id is required")
			return
		}
		m.SendToUser(self, protocol.Frame{
			Type:     protocol.TypeHistory,
			PeerID:   f.PeerID,
			Messages: m.history.Conversation(self, f.PeerID),
		})

	case protocol.TypeGetActiveChats:
		m.SendToUser(self, protocol.Frame{
			Type:  protocol.TypeActiveChats,
			Chats: m.history.Summaries(self, m.Lookup),
		})

	case protocol.TypeMarkRead:
		if f.PeerID.IsZero() {
			return
		}
		if m.history.MarkRead(self, f.PeerID) > 0 {
			m.pushSummary(self, f.PeerID)
		}

	case protocol.TypeDonationCancelled:
		if f.DonationID.IsZero() {
			m.replyError(c, "donation_id is required")
			return
		}
		m.CancelDonation(f.DonationID, f.RequestID, f.CancelledBy, self)

	default:
		log.Warn("Unknown frame type '%s' from client %s", f.Type, self)
		m.replyError(c, "Unknown message type")
	}
}

// CancelDonation drops every card for donationID and tells both parties of
// the request. by is the identity that cancelled.
func (m *Manager) CancelDonation(donationID, requestID models.ID, cancelledBy string, by models.ID) {
	card, found := m.history.FindCard(donationID)
	m.history.PruneCards(donationID)

	notify := map[models.ID]bool{by: true}
	if found {
		notify[card.SenderID] = true
		notify[card.ReceiverID] = true
	}
	for userID := range notify {
		f := protocol.CancelFrame(by, userID, donationID, requestID, cancelledBy)
		m.SendToUser(userID, f)
	}
	log.Info("Donation %s cancelled by %s", donationID, by)
}

// AcceptDonation tells both parties of a card that the bakery accepted it.
func (m *Manager) AcceptDonation(donationID models.ID) (models.Message, bool) {
	card, found := m.history.FindCard(donationID)
	if !found {
		return models.Message{}, false
	}
	f := protocol.Frame{Type: protocol.TypeDonationAccepted, DonationID: donationID}
	m.SendToUser(card.SenderID, f)
	m.SendToUser(card.ReceiverID, f)
	return card, true
}

func (m *Manager) pushSummary(user, peer models.ID) {
	s := m.history.Summary(user, m.Lookup(peer))
	m.SendToUser(user, protocol.Frame{Type: protocol.TypeActiveChatsUpdate, Chat: &s})
}

func (m *Manager) search(target, query string, self models.ID) []models.Peer {
	role := models.RoleBakery
	if target == protocol.TargetCharities {
		role = models.RoleCharity
	}
	query = strings.ToLower(strings.TrimSpace(query))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	results := []models.Peer{}
	for id, p := range m.directory {
		if id == self || p.Role != role {
			continue
		}
		if query == "" || strings.Contains(strings.ToLower(p.Name), query) {
			results = append(results, p)
		}
	}
	return results
}

func echoFrame(stored models.Message) protocol.Frame {
	out := protocol.MessageFrame(stored.SenderID, stored.ReceiverID, stored.Content, stored.ClientID)
	out.ID = stored.ID
	out.Image = stored.Image
	out.Video = stored.Video
	out.Timestamp = stored.Timestamp
	return out
}

func (m *Manager) replyError(c *Client, message string) {
	m.SendToUser(c.Identity.ID, protocol.Frame{Type: protocol.TypeError, Error: message})
}

// writePump pumps frames from the manager to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The manager closed the channel
				c.Socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Socket.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued frames to the current websocket message
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
