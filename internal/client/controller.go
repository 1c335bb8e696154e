package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"

	"github.com/gorilla/websocket"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateFailed is the persistent disconnected state after the last
	// reconnect attempt failed. Only Connect or SetIdentity leave it.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

var (
	ErrNotConnected = errors.New("not connected")
	ErrNoIdentity   = errors.New("no identity set")
)

// Conn is the part of a websocket connection the controller uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Options struct {
	// URL is the websocket endpoint, e.g. ws://host/ws. The token is added
	// as the "token" query parameter.
	URL          string
	PingInterval time.Duration
	DialTimeout  time.Duration
	Backoff      Backoff
	Logger       *slog.Logger
}

// Controller owns the client's single websocket and its reconnect policy.
// State and frame handlers must not call back into the controller
// synchronously.
type Controller struct {
	opts   Options
	dialer Dialer
	log    *slog.Logger

	mu      sync.Mutex
	state   State
	token   string
	conn    Conn
	gen     uint64 // bumped on teardown; stale callbacks compare and bail
	attempt int
	timer   *time.Timer
	stopHB  context.CancelFunc
	pending []State

	writeMu sync.Mutex
	emitMu  sync.Mutex

	States *Bus[State]
	Frames *Bus[domain.OutboundFrame]
}

func NewController(opts Options, dialer Dialer) *Controller {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	return &Controller{
		opts:   opts,
		dialer: dialer,
		log:    opts.Logger,
		States: NewBus[State](),
		Frames: NewBus[domain.OutboundFrame](),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetIdentity switches the authenticated user. Everything bound to the old
// identity is torn down before connecting with the new token.
func (c *Controller) SetIdentity(token string) error {
	c.mu.Lock()
	if token == c.token && (c.state == StateConnecting || c.state == StateConnected) {
		c.mu.Unlock()
		return nil
	}
	c.teardownLocked(false)
	c.token = token
	c.unlockAndEmit()
	if token == "" {
		return nil
	}
	return c.Connect()
}

// Connect starts a connection. It is a no-op while Connecting or Connected,
// so concurrent callers produce at most one attempt.
func (c *Controller) Connect() error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected:
		c.mu.Unlock()
		return nil
	}
	if c.token == "" {
		c.mu.Unlock()
		return ErrNoIdentity
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.state == StateFailed || c.state == StateDisconnected {
		c.attempt = 0
	}
	c.setStateLocked(StateConnecting)
	gen, token := c.gen, c.token
	c.unlockAndEmit()
	go c.dial(gen, token)
	return nil
}

// Disconnect closes cleanly (1000) and does not reconnect.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.teardownLocked(true)
	c.unlockAndEmit()
}

// Send writes one frame when connected.
func (c *Controller) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Controller) dial(gen uint64, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	conn, err := c.dialer.Dial(ctx, c.endpoint(token))
	cancel()

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		// torn down while dialling
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.log.Warn("client - dial - failed", "attempt", c.attempt, "err", err)
		c.scheduleRetryLocked()
		c.unlockAndEmit()
		return
	}
	c.conn = conn
	c.attempt = 0
	hbCtx, stop := context.WithCancel(context.Background())
	c.stopHB = stop
	c.setStateLocked(StateConnected)
	c.unlockAndEmit()

	go c.heartbeat(hbCtx, conn)
	c.readLoop(gen, conn)
}

func (c *Controller) endpoint(token string) string {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return c.opts.URL
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Controller) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.closed(gen, err)
			return
		}
		var f domain.OutboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("client - read loop - bad frame", "err", err)
			continue
		}
		c.Frames.Publish(f)
	}
}

func (c *Controller) heartbeat(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	ping, _ := json.Marshal(map[string]string{"type": domain.TypePing})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, ping)
			c.writeMu.Unlock()
			if err != nil {
				// the read loop sees the broken socket and reconnects
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Controller) closed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.dropConnLocked()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.log.Info("client - connection - closed cleanly")
		c.setStateLocked(StateDisconnected)
	} else {
		c.log.Warn("client - connection - lost", "err", err)
		c.scheduleRetryLocked()
	}
	c.unlockAndEmit()
}

func (c *Controller) scheduleRetryLocked() {
	if c.attempt >= c.opts.Backoff.MaxAttempts {
		c.setStateLocked(StateFailed)
		return
	}
	delay := c.opts.Backoff.Delay(c.attempt)
	c.attempt++
	c.setStateLocked(StateReconnecting)
	gen := c.gen
	c.timer = time.AfterFunc(delay, func() { c.retry(gen) })
}

func (c *Controller) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.setStateLocked(StateConnecting)
	token := c.token
	c.unlockAndEmit()
	c.dial(gen, token)
}

// teardownLocked invalidates every in-flight callback and closes the socket.
func (c *Controller) teardownLocked(clean bool) {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil && clean {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
	}
	c.dropConnLocked()
	c.attempt = 0
	if c.state != StateDisconnected {
		c.setStateLocked(StateDisconnected)
	}
}

func (c *Controller) dropConnLocked() {
	if c.stopHB != nil {
		c.stopHB()
		c.stopHB = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.pending = append(c.pending, s)
}

// unlockAndEmit releases mu and publishes queued state changes in the order
// they happened.
func (c *Controller) unlockAndEmit() {
	pending := c.pending
	c.pending = nil
	c.emitMu.Lock()
	c.mu.Unlock()
	for _, s := range pending {
		c.States.Publish(s)
	}
	c.emitMu.Unlock()
}
