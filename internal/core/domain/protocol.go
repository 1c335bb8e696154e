package domain

import (
	"encoding/json"
	"fmt"
)

// Client -> server frame types.
const (
	TypeMessage = "message"
	TypeTyping  = "typing"
	TypeSeen    = "seen"
	TypePing    = "ping"
)

// Server -> client frame types.
const (
	TypeConnected    = "connected"
	TypeNewMessage   = "new_message"
	TypeMessageSent  = "message_sent"
	TypeMessagesSeen = "messages_seen"
	TypeOnlineUsers  = "online_users"
	TypeUserOnline   = "user_online"
	TypeUserOffline  = "user_offline"
	TypePong         = "pong"
	TypeError        = "error"
)

// Display kinds of a WireMessage.
const (
	KindMessage = "message"
	KindSystem  = "system"
)

// TypingData is the nested payload of a typing frame.
type TypingData struct {
	IsTyping bool `json:"isTyping"`
}

// InboundFrame is the union of every client -> server frame.
type InboundFrame struct {
	Type     string      `json:"type"`
	ToUserID string      `json:"toUserId,omitempty"`
	Text     string      `json:"text,omitempty"`
	TempID   string      `json:"tempId,omitempty"`
	Data     *TypingData `json:"data,omitempty"`
	ChatID   string      `json:"chatId,omitempty"`
}

// DecodeInbound parses and structurally validates one client frame.
func DecodeInbound(raw []byte) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return InboundFrame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	switch f.Type {
	case TypeMessage:
		if f.ToUserID == "" {
			return f, fmt.Errorf("%w: toUserId is required", ErrInvalidFrame)
		}
	case TypeTyping:
		if f.ToUserID == "" || f.Data == nil {
			return f, fmt.Errorf("%w: toUserId and data are required", ErrInvalidFrame)
		}
	case TypeSeen:
		if f.ChatID == "" {
			return f, fmt.Errorf("%w: chatId is required", ErrInvalidFrame)
		}
	case TypePing:
	case "":
		return f, fmt.Errorf("%w: type is required", ErrInvalidFrame)
	default:
		return f, fmt.Errorf("%w: %q", ErrUnknownFrameType, f.Type)
	}
	return f, nil
}

// WireMessage is the transport/display projection of a Message.
type WireMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	ChatID    string `json:"chatId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Seen      bool   `json:"seen"`
	SeenAt    *int64 `json:"seenAt,omitempty"`
	TempID    string `json:"tempId,omitempty"`
}

// ToWire projects a stored message onto the wire shape.
func ToWire(m Message) WireMessage {
	w := WireMessage{
		ID:        m.ID,
		Type:      KindMessage,
		ChatID:    m.ConversationID,
		From:      m.FromUserID,
		To:        m.ToUserID,
		Text:      m.Text,
		Timestamp: EpochMillis(m.CreatedAt),
		Seen:      m.Seen,
	}
	if m.SeenAt != nil {
		ms := EpochMillis(*m.SeenAt)
		w.SeenAt = &ms
	}
	return w
}

// ToWireList projects a slice of messages.
func ToWireList(msgs []Message) []WireMessage {
	out := make([]WireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToWire(m))
	}
	return out
}

// OutboundFrame is the union of every server -> client frame. Only the fields
// relevant to Type are populated.
type OutboundFrame struct {
	Type        string       `json:"type"`
	OnlineUsers []string     `json:"onlineUsers,omitempty"`
	Message     *WireMessage `json:"message,omitempty"`
	FromUserID  string       `json:"fromUserId,omitempty"`
	IsTyping    *bool        `json:"isTyping,omitempty"`
	ChatID      string       `json:"chatId,omitempty"`
	SeenBy      string       `json:"seenBy,omitempty"`
	UserID      string       `json:"userId,omitempty"`
	Code        string       `json:"code,omitempty"`
	Error       string       `json:"error,omitempty"`
	TempID      string       `json:"tempId,omitempty"`
}

func ConnectedFrame(online []string) OutboundFrame {
	if online == nil {
		online = []string{}
	}
	return OutboundFrame{Type: TypeConnected, OnlineUsers: online}
}

func OnlineUsersFrame(online []string) OutboundFrame {
	if online == nil {
		online = []string{}
	}
	return OutboundFrame{Type: TypeOnlineUsers, OnlineUsers: online}
}

func NewMessageFrame(m WireMessage) OutboundFrame {
	return OutboundFrame{Type: TypeNewMessage, Message: &m}
}

func MessageSentFrame(m WireMessage) OutboundFrame {
	return OutboundFrame{Type: TypeMessageSent, Message: &m}
}

func TypingFrame(from string, isTyping bool) OutboundFrame {
	return OutboundFrame{Type: TypeTyping, FromUserID: from, IsTyping: &isTyping}
}

func MessagesSeenFrame(chatID, seenBy string) OutboundFrame {
	return OutboundFrame{Type: TypeMessagesSeen, ChatID: chatID, SeenBy: seenBy}
}

func PresenceFrame(userID string, online bool) OutboundFrame {
	t := TypeUserOffline
	if online {
		t = TypeUserOnline
	}
	return OutboundFrame{Type: t, UserID: userID}
}

func PongFrame() OutboundFrame {
	return OutboundFrame{Type: TypePong}
}

func ErrorFrame(code, msg, tempID string) OutboundFrame {
	return OutboundFrame{Type: TypeError, Code: code, Error: msg, TempID: tempID}
}
