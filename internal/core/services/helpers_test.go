package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/app/registry"
	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
	"github.com/codevn-dev/codevn-app-sub001/internal/plugins/memory"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type testClient struct {
	id, user string
	mu       sync.Mutex
	frames   []domain.OutboundFrame
}

func (c *testClient) ID() string             { return c.id }
func (c *testClient) UserID() string         { return c.user }
func (c *testClient) ConnectedAt() time.Time { return time.Time{} }
func (c *testClient) Close()                 {}
func (c *testClient) Send(_ context.Context, data []byte) error {
	var f domain.OutboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return nil
}

func (c *testClient) all() []domain.OutboundFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.OutboundFrame(nil), c.frames...)
}

func (c *testClient) ofType(t string) []domain.OutboundFrame {
	var out []domain.OutboundFrame
	for _, f := range c.all() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func (c *testClient) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type env struct {
	store    *memory.Store
	registry *registry.Registry
	fanout   *LocalFanout
	seen     *SeenService
	presence *PresenceService
	router   *RouterService
	history  *HistoryService
	manager  *ManagerService
	clock    time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:    memory.NewStore(),
		registry: registry.NewRegistry(discard),
		clock:    time.UnixMilli(1_700_000_000_000).UTC(),
	}
	e.fanout = NewLocalFanout(e.registry)
	e.seen = NewSeenService(discard, e.store, e.fanout)
	e.presence = NewPresenceService(discard, e.registry, e.store, e.fanout, nil, "node-1", time.Minute)
	e.router = NewRouterService(discard, e.store, e.fanout, e.seen, e.presence, domain.MaxMessageLength)
	// deterministic, strictly increasing timestamps
	e.router.now = func() time.Time {
		e.clock = e.clock.Add(time.Second)
		return e.clock
	}
	users := NewUserService(discard, e.store)
	e.history = NewHistoryService(discard, e.store, users, 20, 100)
	e.manager = NewManagerService(discard, e.registry, e.presence, 0)
	t.Cleanup(e.registry.Close)
	return e
}

func (e *env) connect(t *testing.T, id, user string) *testClient {
	t.Helper()
	c := &testClient{id: id, user: user}
	_, err := e.manager.HandleConnect(context.Background(), c)
	require.NoError(t, err)
	return c
}

func (e *env) send(t *testing.T, c *testClient, frame string) error {
	t.Helper()
	return e.router.HandleIncoming(context.Background(), c, []byte(frame))
}
