package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	in        chan []byte
	closeErr  chan error
	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	writes    []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:       make(chan []byte, 16),
		closeErr: make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.in:
		return websocket.TextMessage, data, nil
	case err := <-f.closeErr:
		return 0, nil, err
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("closed")
	default:
	}
	f.mu.Lock()
	f.writes = append(f.writes, string(data))
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) wrote(sub string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.writes {
		if strings.Contains(w, sub) {
			return true
		}
	}
	return false
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeConn
	fail  atomic.Bool
	gate  chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.fail.Load() {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func newTestController(d Dialer) (*Controller, *stateLog) {
	c := NewController(Options{
		URL:          "ws://chat.test/ws",
		PingInterval: time.Hour,
		Backoff:      Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond, MaxAttempts: 5},
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, d)
	log := &stateLog{}
	c.States.Subscribe(log.record)
	return c, log
}

func waitState(t *testing.T, c *Controller, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == s }, 2*time.Second, time.Millisecond, "want %s, have %s", s, c.State())
}

func TestBackoffDelays(t *testing.T) {
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for attempt, w := range want {
		assert.Equal(t, w*time.Second, DefaultBackoff.Delay(attempt), "attempt %d", attempt)
	}
}

func TestConnectStormSingleAttempt(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	c, _ := newTestController(d)
	require.NoError(t, c.SetIdentity("tok"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Connect()
		}()
	}
	wg.Wait()
	assert.Equal(t, StateConnecting, c.State())
	close(d.gate)

	waitState(t, c, StateConnected)
	assert.Equal(t, 1, d.dials())
	assert.Contains(t, d.urls[0], "token=tok")
}

func TestUncleanCloseReconnects(t *testing.T) {
	d := &fakeDialer{}
	c, log := newTestController(d)
	require.NoError(t, c.SetIdentity("tok"))
	waitState(t, c, StateConnected)

	d.last().closeErr <- &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	require.Eventually(t, func() bool { return d.dials() == 2 && c.State() == StateConnected }, 2*time.Second, time.Millisecond)

	assert.Equal(t, []State{
		StateConnecting, StateConnected,
		StateReconnecting, StateConnecting, StateConnected,
	}, log.snapshot())
}

func TestCleanCloseTerminates(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestController(d)
	require.NoError(t, c.SetIdentity("tok"))
	waitState(t, c, StateConnected)

	d.last().closeErr <- &websocket.CloseError{Code: websocket.CloseNormalClosure}
	waitState(t, c, StateDisconnected)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dials())
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	d := &fakeDialer{}
	d.fail.Store(true)
	c, _ := newTestController(d)
	require.NoError(t, c.SetIdentity("tok"))

	waitState(t, c, StateFailed)
	assert.Equal(t, 6, d.dials())

	// an explicit connect starts over
	d.fail.Store(false)
	require.NoError(t, c.Connect())
	waitState(t, c, StateConnected)
}

func TestDisconnectSendsNormalClosure(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestController(d)
	require.NoError(t, c.SetIdentity("tok"))
	waitState(t, c, StateConnected)
	conn := d.last()

	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())
	assert.True(t, conn.isClosed())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dials())
	assert.ErrorIs(t, c.Send(map[string]string{"type": "ping"}), ErrNotConnected)
}

func TestSetIdentityTearsDown(t *testing.T) {
	d := &fakeDialer{}
	c, _ := newTestController(d)
	require.NoError(t, c.SetIdentity("alice-token"))
	waitState(t, c, StateConnected)
	old := d.last()

	require.NoError(t, c.SetIdentity("bob-token"))
	require.Eventually(t, func() bool { return d.dials() == 2 && c.State() == StateConnected }, 2*time.Second, time.Millisecond)
	assert.True(t, old.isClosed())
	assert.Contains(t, d.urls[1], "token=bob-token")
}

func TestHeartbeatAndFrames(t *testing.T) {
	d := &fakeDialer{}
	c := NewController(Options{
		URL:          "ws://chat.test/ws",
		PingInterval: 5 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, d)
	got := make(chan string, 4)
	c.Frames.Subscribe(func(f domain.OutboundFrame) { got <- f.Type })
	require.NoError(t, c.SetIdentity("tok"))
	waitState(t, c, StateConnected)
	conn := d.last()

	require.Eventually(t, func() bool { return conn.wrote(`"ping"`) }, time.Second, time.Millisecond)

	conn.in <- []byte(`{"type":"pong"}`)
	select {
	case typ := <-got:
		assert.Equal(t, "pong", typ)
	case <-time.After(time.Second):
		t.Fatal("frame not published")
	}
	require.NoError(t, c.Send(map[string]string{"type": "typing"}))
	assert.True(t, conn.wrote(`"typing"`))
	c.Disconnect()
}
