package domain

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMessageLength is the default limit on message text, in runes.
const MaxMessageLength = 1000

// UnknownUserName is shown until a peer profile resolves.
const UnknownUserName = "Unknown User"

// UserProfile is the denormalised identity cached for display.
type UserProfile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Message is the durable unit of a direct conversation.
// Only Seen/SeenAt ever change after creation.
type Message struct {
	ID             string
	ConversationID string
	FromUserID     string
	ToUserID       string
	Text           string
	CreatedAt      time.Time
	Seen           bool
	SeenAt         *time.Time
}

// ConversationSummary is the per-viewer view of a conversation.
type ConversationSummary struct {
	ID            string      `json:"id"`
	Peer          UserProfile `json:"peer"`
	LastMessage   string      `json:"lastMessage"`
	LastMessageAt int64       `json:"lastMessageAt"`
	UnreadCount   int         `json:"unreadCount"`
}

// MessagePage is one page of history, oldest first.
type MessagePage struct {
	Messages []Message
	HasMore  bool
}

// conversationSeparator joins the two ids of a conversation. User ids may not
// contain it, which keeps ConversationID injective.
const conversationSeparator = "_"

// ValidateUserID rejects ids that cannot take part in a conversation.
func ValidateUserID(id string) error {
	if strings.TrimSpace(id) == "" || strings.Contains(id, conversationSeparator) {
		return ErrInvalidUserID
	}
	return nil
}

// ConversationID derives the symmetric id of the conversation between a and b.
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + conversationSeparator + pair[1]
}

// Participants splits convID back into its two user ids, in sorted order.
func Participants(convID string) (string, string, error) {
	a, b, ok := strings.Cut(convID, conversationSeparator)
	if !ok || ValidateUserID(a) != nil || ValidateUserID(b) != nil || a >= b {
		return "", "", ErrInvalidConversationID
	}
	return a, b, nil
}

// Peer returns the other participant of convID as seen by viewer.
func Peer(convID, viewer string) (string, error) {
	a, b, err := Participants(convID)
	if err != nil {
		return "", err
	}
	switch viewer {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", ErrNotParticipant
}

// ValidateText trims the text and enforces the length contract.
func ValidateText(text string, max int) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if max <= 0 {
		max = MaxMessageLength
	}
	if utf8.RuneCountInString(trimmed) > max {
		return "", ErrMessageTooLong
	}
	return trimmed, nil
}

// EpochMillis converts t to the wire timestamp.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromEpochMillis is the inverse of EpochMillis.
func FromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
