package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/app/registry"
	"github.com/codevn-dev/codevn-app-sub001/internal/plugins/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanBus struct {
	ch chan redis.Envelope
}

func (b *chanBus) ListenToUser(ctx context.Context, _ string, ready func(), handler func(redis.Envelope)) error {
	ready()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-b.ch:
			handler(env)
		}
	}
}

type recClient struct {
	id, user string
	mu       sync.Mutex
	got      [][]byte
}

func (c *recClient) ID() string             { return c.id }
func (c *recClient) UserID() string         { return c.user }
func (c *recClient) ConnectedAt() time.Time { return time.Time{} }
func (c *recClient) Close()                 {}
func (c *recClient) Send(_ context.Context, d []byte) error {
	c.mu.Lock()
	c.got = append(c.got, d)
	c.mu.Unlock()
	return nil
}
func (c *recClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestWorkerRelaysToLocalConnections(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.NewRegistry(log)
	bus := &chanBus{ch: make(chan redis.Envelope, 4)}
	w := NewUserWorker(log, bus, reg)
	reg.RunWorker(w.Run)

	c1 := &recClient{id: "c1", user: "alice"}
	c2 := &recClient{id: "c2", user: "alice"}
	reg.Register(c1)
	reg.Register(c2)

	bus.ch <- redis.Envelope{Except: "c1", Frame: json.RawMessage(`{"type":"pong"}`)}
	require.Eventually(t, func() bool { return c2.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c1.count())

	reg.Unregister(c1)
	reg.Unregister(c2)
}
