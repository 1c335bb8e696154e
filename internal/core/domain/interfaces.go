package domain

import (
	"context"
	"time"
)

// UserRepository resolves display profiles owned by the auth collaborator.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*UserProfile, error)
	UpsertUser(ctx context.Context, p UserProfile) error
}

// MessageRepository is the durable message store.
type MessageRepository interface {
	// Save persists a fully formed message (id and timestamps assigned) and
	// reports whether it opened a new conversation.
	Save(ctx context.Context, msg *Message) (bool, error)
	// ListPage returns up to limit messages of convID exchanged between viewer
	// and the other participant, older than before (zero = newest), oldest
	// first, and whether older messages remain.
	ListPage(ctx context.Context, convID, viewer string, before time.Time, limit int) (MessagePage, error)
	// MarkSeen flips every unseen message of convID sent by the other
	// participant to viewer and returns how many changed. Already seen
	// messages keep their seen_at.
	MarkSeen(ctx context.Context, convID, viewer string, at time.Time) (int, error)
	// ListConversations returns the viewer's conversations, newest first,
	// with viewer-specific unread counts. Peer carries only the id.
	ListConversations(ctx context.Context, viewer string) ([]ConversationSummary, error)
	// ListPartners returns every user that shares a conversation with userID.
	ListPartners(ctx context.Context, userID string) ([]string, error)
}
