package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Avanquish/DoughNation-sub002/internal/models"
)

// Frame types. Inbound frames are pushed by the server; outbound frames are
// produced by user actions.
const (
	TypeMessage           = "message"
	TypeDeleteMessage     = "delete_message"
	TypeDonationAccepted  = "donation_accepted"
	TypeDonationCancelled = "donation_cancelled"
	TypeHistory           = "history"
	TypeActiveChats       = "active_chats"
	TypeActiveChatsUpdate = "active_chats_update"
	TypeTyping            = "typing"
	TypeStopTyping        = "stop_typing"
	TypeSearchResults     = "search_results"

	TypeDeleteForMe    = "delete_for_me"
	TypeSearch         = "search"
	TypeGetHistory     = "get_history"
	TypeGetActiveChats = "get_active_chats"
	TypeMarkRead       = "mark_read"

	TypeError = "error"
)

// Search targets.
const (
	TargetBakeries  = "bakeries"
	TargetCharities = "charities"
)

var (
	ErrMissingType   = errors.New("frame has no type")
	ErrInvalidTarget = errors.New("search target must be bakeries or charities")
)

// Frame is the JSON object exchanged over the channel. Only the fields that
// belong to Type are set; everything else is omitted on the wire.
type Frame struct {
	Type string `json:"type"`

	ID         models.ID `json:"id,omitempty"`
	SenderID   models.ID `json:"sender_id,omitempty"`
	ReceiverID models.ID `json:"receiver_id,omitempty"`
	Content    string    `json:"content,omitempty"`
	Media      string    `json:"media,omitempty"`
	MediaType  string    `json:"media_type,omitempty"`
	Image      string    `json:"image,omitempty"`
	Video      string    `json:"video,omitempty"`
	Timestamp  string    `json:"timestamp,omitempty"`
	IsRead     bool      `json:"is_read,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`

	PeerID models.ID `json:"peer_id,omitempty"`

	DonationID  models.ID `json:"donation_id,omitempty"`
	RequestID   models.ID `json:"request_id,omitempty"`
	CancelledBy string    `json:"cancelledBy,omitempty"`

	Target  string          `json:"target,omitempty"`
	Query   string          `json:"query,omitempty"`
	Results json.RawMessage `json:"results,omitempty"`

	Messages []models.Message             `json:"messages,omitempty"`
	Chats    []models.ConversationSummary `json:"chats,omitempty"`
	Chat     *models.ConversationSummary  `json:"chat,omitempty"`

	Error string `json:"error,omitempty"`
}

// Decode parses one frame. A frame without a type is rejected so the caller
// can log and skip it.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, ErrMissingType
	}
	return f, nil
}

// Encode serializes a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	if f.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(f)
}

// AsMessage converts a message frame into a log entry.
func (f Frame) AsMessage() models.Message {
	m := models.Message{
		ID:         f.ID,
		SenderID:   f.SenderID,
		ReceiverID: f.ReceiverID,
		Content:    f.Content,
		Image:      f.Image,
		Video:      f.Video,
		Timestamp:  f.Timestamp,
		IsRead:     f.IsRead,
		ClientID:   f.ClientID,
	}
	// Servers that echo the upload instead of the stored path still set media.
	if f.Media != "" && m.Image == "" && m.Video == "" {
		switch f.MediaType {
		case "video":
			m.Video = f.Media
		default:
			m.Image = f.Media
		}
	}
	return m
}

// ValidateTarget checks a search target.
func ValidateTarget(target string) error {
	switch target {
	case TargetBakeries, TargetCharities:
		return nil
	}
	return ErrInvalidTarget
}

// Outbound frame constructors.

func MessageFrame(sender, receiver models.ID, content, clientID string) Frame {
	return Frame{Type: TypeMessage, SenderID: sender, ReceiverID: receiver, Content: content, ClientID: clientID}
}

func DeleteMessageFrame(id models.ID) Frame {
	return Frame{Type: TypeDeleteMessage, ID: id}
}

func DeleteForMeFrame(id models.ID) Frame {
	return Frame{Type: TypeDeleteForMe, ID: id}
}

func TypingFrame(sender, receiver models.ID, typing bool) Frame {
	t := TypeStopTyping
	if typing {
		t = TypeTyping
	}
	return Frame{Type: t, SenderID: sender, ReceiverID: receiver}
}

func SearchFrame(target, query string) Frame {
	return Frame{Type: TypeSearch, Target: target, Query: query}
}

func GetHistoryFrame(peer models.ID) Frame {
	return Frame{Type: TypeGetHistory, PeerID: peer}
}

func GetActiveChatsFrame() Frame {
	return Frame{Type: TypeGetActiveChats}
}

func MarkReadFrame(peer models.ID) Frame {
	return Frame{Type: TypeMarkRead, PeerID: peer}
}

func CancelFrame(sender, receiver, donationID, requestID models.ID, cancelledBy string) Frame {
	return Frame{
		Type:        TypeDonationCancelled,
		SenderID:    sender,
		ReceiverID:  receiver,
		DonationID:  donationID,
		RequestID:   requestID,
		CancelledBy: cancelledBy,
	}
}
