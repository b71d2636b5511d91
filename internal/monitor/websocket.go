package monitor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames
	maxMessageSize = 4 * 1024
)

// wsClient is one websocket subscriber of the alert broadcaster.
type wsClient struct {
	conn   *websocket.Conn
	events <-chan *SerializedEvent
	done   chan struct{}
}

func (s *Server) handleAlertsWebSocket(w http.ResponseWriter, r *http.Request) {
	// Subscribe first so no summary published during the handshake is missed
	id, eventCh := s.alerts.Subscribe()
	defer s.alerts.Unsubscribe(id)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		logger.Debug("WebSocket", "Upgrade failed: %v", err)
		return
	}

	if s.metrics != nil {
		s.metrics.WebSocketClients.Add(1)
		defer s.metrics.WebSocketClients.Add(-1)
	}

	c := &wsClient{conn: conn, events: eventCh, done: make(chan struct{})}
	go c.writePump()
	c.readPump() // Blocks until the connection closes
}

// readPump discards client messages; it keeps the read deadline moving and
// detects disconnection.
func (c *wsClient) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket", "Read error: %v", err)
			}
			return
		}
	}
}

// writePump is the only goroutine writing to the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.events:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Broadcaster closed - send close frame
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, event.JSONData); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
