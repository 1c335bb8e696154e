package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/contracts"
	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
	"github.com/codevn-dev/codevn-app-sub001/pkg/logging"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RuntimeClient is one live websocket connection. Writes are serialised by
// writeLoop; Send only enqueues.
type RuntimeClient struct {
	id          string
	userID      string
	connectedAt time.Time
	ws          *WebSocket
	log         *slog.Logger
	out         chan []byte
	done        chan struct{}
	start       sync.Once
	once        sync.Once
}

var _ contracts.Client = (*RuntimeClient)(nil)

// NewClient prepares a client. Frames sent before Start are queued and
// written after the greeting.
func NewClient(log *slog.Logger, ws *WebSocket, userID string, buffer int) *RuntimeClient {
	if buffer <= 0 {
		buffer = 256
	}
	return &RuntimeClient{
		id:          uuid.NewString(),
		userID:      userID,
		connectedAt: time.Now(),
		ws:          ws,
		log:         log,
		out:         make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

func (c *RuntimeClient) ID() string             { return c.id }
func (c *RuntimeClient) UserID() string         { return c.userID }
func (c *RuntimeClient) ConnectedAt() time.Time { return c.connectedAt }

// Start writes greeting first and then begins draining the queue.
func (c *RuntimeClient) Start(greeting []byte) {
	c.start.Do(func() {
		go c.writeLoop(greeting)
	})
}

// Send never blocks. A full queue means the peer cannot keep up; the
// connection is closed and the client recovers through reconnect + fetch.
func (c *RuntimeClient) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return domain.ErrClientClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return domain.ErrClientClosed
	default:
		c.log.WarnContext(ctx, "ws client - send - slow consumer dropped", logging.User(c.userID), logging.Conn(c.id))
		c.Close()
		return domain.ErrSlowConsumer
	}
}

func (c *RuntimeClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// CloseWith sends a close frame before tearing the connection down.
func (c *RuntimeClient) CloseWith(code int, reason string) {
	_ = c.ws.WriteClose(code, reason)
	c.Close()
}

// Done is closed once the client is closed.
func (c *RuntimeClient) Done() <-chan struct{} { return c.done }

func (c *RuntimeClient) writeLoop(greeting []byte) {
	defer c.Close()
	if greeting != nil {
		if err := c.ws.WriteMessage(greeting); err != nil {
			c.log.Debug("ws client - write loop - greeting failed", logging.User(c.userID), logging.Conn(c.id), logging.Err(err))
			return
		}
	}
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					c.log.Debug("ws client - write loop - write failed", logging.User(c.userID), logging.Conn(c.id), logging.Err(err))
				}
				return
			}
		}
	}
}
