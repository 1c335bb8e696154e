package contracts

import (
	"context"
	"time"
)

// PresenceStore mirrors local presence into a store shared by every node so
// presence survives horizontal scaling.
type PresenceStore interface {
	// Touch records that nodeID holds at least one connection of userID.
	Touch(ctx context.Context, userID, nodeID string, ttl time.Duration) error
	// Remove drops nodeID from the user's holders.
	Remove(ctx context.Context, userID, nodeID string) error
	// Online reports which of userIDs are held by any live node.
	Online(ctx context.Context, userIDs []string) (map[string]bool, error)
}
