package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/contracts"

	"github.com/redis/go-redis/v9"
)

// Envelope is what travels on a user channel.
type Envelope struct {
	Except string          `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// RedisFanout publishes frames on per-user channels so every node holding a
// connection of the user delivers them.
type RedisFanout struct {
	rdb *redis.Client
	log *slog.Logger
}

var _ contracts.Fanout = (*RedisFanout)(nil)

func NewRedisFanout(log *slog.Logger, rdb *redis.Client) *RedisFanout {
	return &RedisFanout{rdb: rdb, log: log}
}

func UserChannel(userID string) string {
	return "chat:user:" + userID
}

func (f *RedisFanout) ToUser(ctx context.Context, userID string, frame any, exceptConnID string) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	payload, err := json.Marshal(Envelope{Except: exceptConnID, Frame: raw})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := f.rdb.Publish(ctx, UserChannel(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", userID, err)
	}
	return nil
}

// ListenToUser subscribes to the user's channel, calls ready once Redis has
// confirmed the subscription and then calls handler for every envelope until
// ctx is done. Publishes made before ready are not received.
func (f *RedisFanout) ListenToUser(ctx context.Context, userID string, ready func(), handler func(Envelope)) error {
	pubsub := f.rdb.Subscribe(ctx, UserChannel(userID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", userID, err)
	}
	ch := pubsub.Channel()
	ready()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				f.log.Warn("redis - listen to user - bad envelope", "user_id", userID, "err", err)
				continue
			}
			handler(env)
		}
	}
}
