package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long the server waits for any frame, pong included,
	// before considering the peer gone.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait so the client has time to reply.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. Message text is capped at 10,000
	// characters, up to 4 bytes each, plus the envelope.
	maxMessageSize = 64 * 1024

	// DefaultSendBufferSize is the default capacity of a client's outbound
	// buffer. A client whose buffer fills up is disconnected.
	DefaultSendBufferSize = 64
)

// upgrader performs the HTTP → WebSocket protocol upgrade.
// CheckOrigin always returns true: origin validation is the responsibility
// of the reverse proxy in production deployments.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one authorized connection. It runs two goroutines: the read loop,
// owned by the server, which processes frames in arrival order, and
// writePump, the only writer of data frames on conn.
//
// The send channel is never closed. Shutdown is signalled through done, so a
// concurrent enqueue can never panic.
type Client struct {
	id     string
	userID int64
	conn   *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	logger *zap.Logger
}

func newClient(conn *websocket.Conn, userID int64, bufferSize int, logger *zap.Logger) *Client {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBufferSize
	}
	id := uuid.NewString()
	return &Client{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, bufferSize),
		done:   make(chan struct{}),
		logger: logger.With(zap.Int64("user_id", userID), zap.String("conn_id", id)),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// UserID returns the id of the authenticated user.
func (c *Client) UserID() int64 { return c.userID }

// enqueue hands b to writePump without blocking. It returns false when the
// client is closed or its buffer is full.
func (c *Client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close sends a going-away close frame and closes the transport. Safe to
// call more than once and from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

// readLoop reads frames until the transport fails or closes, calling handle
// for every text frame. Frames are handled one at a time, in order.
func (c *Client) readLoop(handle func(raw []byte)) {
	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("ws: failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Debug("ws: unexpected close", zap.Error(err))
			}
			return
		}
		// Any inbound traffic proves the peer is alive.
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if kind != websocket.TextMessage {
			c.logger.Debug("ws: ignoring non-text frame", zap.Int("kind", kind))
			continue
		}
		handle(raw)
	}
}

// writePump forwards queued messages to the wire, one frame per message, and
// pings the peer every pingPeriod.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case b := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Debug("ws: write error", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ws: ping error", zap.Error(err))
				c.Close()
				return
			}

		case <-c.done:
			return
		}
	}
}
