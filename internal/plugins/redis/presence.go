package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/contracts"

	"github.com/redis/go-redis/v9"
)

// RedisPresenceStore keeps one ZSET per user whose members are the node ids
// holding a connection, scored by their last heartbeat.
type RedisPresenceStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

var _ contracts.PresenceStore = (*RedisPresenceStore)(nil)

func NewRedisPresenceStore(rdb *redis.Client, ttl time.Duration) *RedisPresenceStore {
	return &RedisPresenceStore{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

func presenceKey(userID string) string {
	return "presence:user:" + userID
}

// Touch adds/updates nodeID in the user's ZSet with the current timestamp.
func (p *RedisPresenceStore) Touch(ctx context.Context, userID, nodeID string, ttl time.Duration) error {
	key := presenceKey(userID)
	pipe := p.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(p.now().Unix()),
		Member: nodeID,
	})
	// Set an expiration on the whole ZSet so it doesn't leak memory
	// if every node holding the user dies.
	pipe.Expire(ctx, key, ttl*2)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPresenceStore) Remove(ctx context.Context, userID, nodeID string) error {
	return p.rdb.ZRem(ctx, presenceKey(userID), nodeID).Err()
}

// Online reports users with at least one node heartbeat inside the TTL.
func (p *RedisPresenceStore) Online(ctx context.Context, userIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	threshold := strconv.FormatInt(p.now().Add(-p.ttl).Unix(), 10)
	pipe := p.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(userIDs))
	for i, id := range userIDs {
		// stale nodes do not count; they expire with the key
		cmds[i] = pipe.ZCount(ctx, presenceKey(id), threshold, "+inf")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	for i, id := range userIDs {
		n, err := cmds[i].Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		out[id] = n > 0
	}
	return out, nil
}
