package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/wire"
)

// Options tunes per-connection behaviour.
type Options struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration

	// Maximum message size allowed from peer.
	MaxMessageSize int64

	// Send buffer size per client, in frames.
	SendBuffer int
}

// DefaultOptions returns the stock connection settings.
func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     256,
	}
}

// pingPeriod must be less than PongWait.
func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Dispatcher handles decoded inbound frames.
type Dispatcher interface {
	Dispatch(connID string, msg map[string]any)
}

// Handler upgrades HTTP requests to hub subscriptions.
type Handler struct {
	hub      *Hub
	commands Dispatcher
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a websocket endpoint bound to hub.
func NewHandler(hub *Hub, commands Dispatcher, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		hub:      hub,
		commands: commands,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
			Subprotocols:    wire.Subprotocols(),
		},
		logger: logger,
	}
}

// Client represents a WebSocket client connection.
type Client struct {
	id     string
	conn   *websocket.Conn
	codec  wire.Codec
	send   chan []byte
	opts   Options
	mu     sync.Mutex
	closed bool
	logger *zap.Logger
}

func (c *Client) ID() string        { return c.id }
func (c *Client) Codec() wire.Codec { return c.codec }

// Enqueue queues a frame without blocking.
func (c *Client) Enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSubscriberClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSubscriberSlow
	}
}

// Close stops the write pump, which then closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeHTTP handles the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	codec := wire.ForSubprotocol(conn.Subprotocol())
	h.logger.Debug("websocket subprotocol negotiated",
		zap.String("codec", codec.Name()),
		zap.Strings("requested", websocket.Subprotocols(r)),
	)

	client := &Client{
		id:     uuid.New().String(),
		conn:   conn,
		codec:  codec,
		send:   make(chan []byte, h.opts.SendBuffer),
		opts:   h.opts,
		logger: h.logger,
	}

	if err := h.hub.Join(client); err != nil {
		h.logger.Warn("failed to join hub", zap.String("connID", client.id), zap.Error(err))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h.hub, h.commands)
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump(hub *Hub, commands Dispatcher) {
	defer func() {
		hub.Leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.id),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(commands, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				// Channel closed, send close message
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msgType, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.id),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage decodes an inbound frame and hands it to the dispatcher.
func (c *Client) handleMessage(commands Dispatcher, data []byte) {
	msg, err := c.codec.Decode(data)
	if err != nil {
		c.logger.Debug("failed to parse upstream message",
			zap.String("connID", c.id),
			zap.String("codec", c.codec.Name()),
			zap.Error(err),
		)
		return
	}
	commands.Dispatch(c.id, msg)
}
