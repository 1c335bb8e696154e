package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket wraps a gorilla connection with the chat deadlines. Only the
// owning RuntimeClient writes data frames; control frames may come from any
// goroutine.
type WebSocket struct {
	*websocket.Conn
	writeWait   time.Duration
	readTimeout time.Duration
	readLimit   int64
}

func NewWebSocket(conn *websocket.Conn, writeWait, readTimeout time.Duration, readLimit int64) *WebSocket {
	return &WebSocket{
		Conn:        conn,
		writeWait:   writeWait,
		readTimeout: readTimeout,
		readLimit:   readLimit,
	}
}

func (w *WebSocket) WriteMessage(data []byte) error {
	w.Conn.SetWriteDeadline(time.Now().Add(w.writeWait))
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

// WriteClose sends a close frame with code and reason.
func (w *WebSocket) WriteClose(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return w.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.writeWait))
}

// ReadLoop calls onMsg for every data frame in receipt order. Any frame
// renews the read deadline, so a silent peer is dropped after readTimeout.
// It returns nil on a normal close.
func (w *WebSocket) ReadLoop(onMsg func([]byte)) error {
	// Configure Read Limits (Protects against memory exhaustion)
	if w.readLimit > 0 {
		w.Conn.SetReadLimit(w.readLimit)
	}
	renew := func() {
		if w.readTimeout > 0 {
			w.Conn.SetReadDeadline(time.Now().Add(w.readTimeout))
		}
	}
	renew()
	w.Conn.SetPongHandler(func(string) error {
		renew()
		return nil
	})
	for {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		renew()
		if len(data) > 0 {
			onMsg(data)
		}
	}
}

func (w *WebSocket) Close() {
	_ = w.Conn.Close()
}
