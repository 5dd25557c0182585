package models

// Message is one entry of the chat log. Content is either literal text or a
// JSON encoded donation payload; see package protocol for decoding.
type Message struct {
	ID         ID     `json:"id"`
	SenderID   ID     `json:"sender_id"`
	ReceiverID ID     `json:"receiver_id"`
	Content    string `json:"content"`
	Image      string `json:"image,omitempty"`
	Video      string `json:"video,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	IsRead     bool   `json:"is_read"`

	// ClientID correlates an optimistic local insert with the server echo.
	ClientID string `json:"client_id,omitempty"`

	// Local annotations, never sent by the server.
	Accepted bool `json:"accepted,omitempty"`
	Pending  bool `json:"pending,omitempty"`
}

// Involves reports whether the message was exchanged between a and b, in
// either direction.
func (m Message) Involves(a, b ID) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Counterpart returns the other side of the message from self's point of view.
func (m Message) Counterpart(self ID) ID {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

// ConversationSummary drives the conversation list. Unread and LastMessage are
// pointers so a partial update can leave them out.
type ConversationSummary struct {
	Peer        Peer     `json:"peer"`
	LastMessage *Message `json:"last_message,omitempty"`
	Unread      *int     `json:"unread,omitempty"`
}

// UnreadCount is Unread with absent treated as zero.
func (c ConversationSummary) UnreadCount() int {
	if c.Unread == nil {
		return 0
	}
	return *c.Unread
}

// IntPtr is a small helper for building summaries.
func IntPtr(n int) *int {
	return &n
}
