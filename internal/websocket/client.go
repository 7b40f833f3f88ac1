package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client is a middleman between one websocket connection and the hub.
// The feed is one-way; inbound frames beyond pongs are discarded.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	id          string
	remoteAddr  string
	connectedAt time.Time
	logger      *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 64),
		id:          id,
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		logger: logger.With(
			slog.String("component", "websocket_client"),
			slog.String("client_id", id),
		),
	}
}

func (c *Client) sendEnvelope(msgType string, data any) {
	payload, err := json.Marshal(map[string]any{
		"type":      msgType,
		"data":      data,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// readPump drains the connection so control frames are processed and
// disconnects are noticed.
func (c *Client) readPump() {
	defer func() {
		c.logger.Info("client disconnected",
			slog.Duration("connection_duration", time.Since(c.connectedAt)))
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump pushes hub messages and periodic pings to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS middleware upstream
		return true
	},
}

// ServeWS upgrades an HTTP request to a websocket connection and attaches
// it to the hub.
func ServeWS(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.ErrorContext(r.Context(), "websocket upgrade failed",
				slog.String("error", err.Error()))
			return
		}

		client := newClient(hub, conn, logger)
		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
