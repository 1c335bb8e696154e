package contracts

import "context"

// Fanout is the router's only delivery primitive: deliver frame to every
// connection of userID wherever it is hosted, except exceptConnID.
type Fanout interface {
	ToUser(ctx context.Context, userID string, frame any, exceptConnID string) error
}
