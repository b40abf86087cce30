package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize bounds an inbound frame; message text is limited far
	// below this by validation.
	maxFrameSize = 64 * 1024
)

// connection wraps a websocket and serializes outbound writes through the
// write pump. Safe for concurrent Close.
type connection struct {
	ws   *websocket.Conn
	log  *slog.Logger
	once sync.Once
	done chan struct{}
}

func newConnection(ws *websocket.Conn, log *slog.Logger) *connection {
	return &connection{ws: ws, log: log, done: make(chan struct{})}
}

// writePump drains outbound frames and keeps the connection alive with
// pings. Exits on send error, closed channel, or connection close; the
// caller tears the session down exactly once either way.
func (c *connection) writePump(outbound <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-outbound:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write failed, closing connection", "error", err)
				c.close(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

func (c *connection) close(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}
