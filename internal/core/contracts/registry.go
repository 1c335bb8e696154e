package contracts

import (
	"context"
	"time"
)

// Transition is emitted when a user gains their first or loses their last
// connection on this node.
type Transition struct {
	UserID string
	Online bool
	At     time.Time
}

// Registry is the process-local source of truth for reachable users.
type Registry interface {
	// Register adds a connection and reports whether it is the user's first.
	Register(c Client) bool
	// Unregister removes a connection and reports whether it was the user's
	// last. Calling it twice for the same connection is a no-op.
	Unregister(c Client) bool
	// ConnectionsFor returns the user's live connections at call time.
	ConnectionsFor(userID string) []Client
	IsOnline(userID string) bool
	OnlineUsers() []string
	// WaitReady blocks until frames published for userID reach this node's
	// connections.
	WaitReady(ctx context.Context, userID string) error
	// SendToUser writes data to every live connection of userID except
	// exceptConnID and returns how many accepted it.
	SendToUser(ctx context.Context, userID string, data []byte, exceptConnID string) int
}

// Client represents the minimal interface required for the Registry to
// communicate with an individual WebSocket connection.
type Client interface {
	ID() string
	UserID() string
	ConnectedAt() time.Time
	Send(ctx context.Context, data []byte) error
	Close()
}
