package worker

import (
	"context"
	"log/slog"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/contracts"
	"github.com/codevn-dev/codevn-app-sub001/internal/platform/metrics"
	"github.com/codevn-dev/codevn-app-sub001/internal/plugins/redis"
	"github.com/codevn-dev/codevn-app-sub001/pkg/logging"
)

// Listener is the subscribing side of the cluster bus.
type Listener interface {
	ListenToUser(ctx context.Context, userID string, ready func(), handler func(redis.Envelope)) error
}

// UserWorker relays a user's cluster channel to the user's connections on
// this node. The registry runs one per locally connected user.
type UserWorker struct {
	log      *slog.Logger
	bus      Listener
	registry contracts.Registry
}

func NewUserWorker(
	log *slog.Logger,
	bus Listener,
	registry contracts.Registry,
) *UserWorker {
	return &UserWorker{
		log:      log,
		bus:      bus,
		registry: registry,
	}
}

// Run blocks until ctx is cancelled by the registry on the user's last
// disconnect. ready is called once the user channel is subscribed.
func (w *UserWorker) Run(ctx context.Context, userID string, ready func()) error {
	w.log.DebugContext(ctx, "worker - run - subscribe to user channel", logging.User(userID))
	err := w.bus.ListenToUser(ctx, userID, ready, func(env redis.Envelope) {
		w.Deliver(ctx, userID, env)
	})
	if err != nil && ctx.Err() == nil {
		w.log.ErrorContext(ctx, "worker - run - subscribe to user channel failed", logging.User(userID), logging.Err(err))
		return err
	}
	w.log.DebugContext(ctx, "worker - run - stopped", logging.User(userID))
	return nil
}

// Deliver hands one envelope to the local connections.
func (w *UserWorker) Deliver(ctx context.Context, userID string, env redis.Envelope) {
	n := w.registry.SendToUser(ctx, userID, env.Frame, env.Except)
	metrics.FanoutDeliveries.Add(float64(n))
}
