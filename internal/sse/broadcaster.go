package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/wire"
	"github.com/dgnsrekt/telemetry-relay/internal/ws"
)

var errReadOnly = errors.New("sse stream is read-only")

// eventCodec renders hub envelopes as Server-Sent Events.
type eventCodec struct{}

func (eventCodec) Name() string        { return "sse" }
func (eventCodec) Subprotocol() string { return "" }
func (eventCodec) Binary() bool        { return false }

func (eventCodec) Encode(v any) ([]byte, error) {
	env, ok := v.(wire.Envelope)
	if !ok {
		return nil, fmt.Errorf("unexpected frame type %T", v)
	}
	jsonData, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", env.Type, jsonData)), nil
}

func (eventCodec) Decode([]byte) (map[string]any, error) {
	return nil, errReadOnly
}

// sseClient represents a connected SSE subscriber.
type sseClient struct {
	id     string
	dataCh chan []byte
	mu     sync.Mutex
	closed bool
}

func (c *sseClient) ID() string        { return c.id }
func (c *sseClient) Codec() wire.Codec { return eventCodec{} }

func (c *sseClient) Enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ws.ErrSubscriberClosed
	}
	select {
	case c.dataCh <- frame:
		return nil
	default:
		return ws.ErrSubscriberSlow
	}
}

func (c *sseClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.dataCh)
	}
}

// Handler streams hub pushes to read-only SSE subscribers.
type Handler struct {
	hub       *ws.Hub
	buffer    int
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new Handler. heartbeat <= 0 disables keepalive comments.
func NewHandler(hub *ws.Hub, buffer int, heartbeat time.Duration, logger *zap.Logger) *Handler {
	return &Handler{hub: hub, buffer: buffer, heartbeat: heartbeat, logger: logger}
}

// ServeHTTP handles GET /events.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Streams outlive the server's write timeout
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := &sseClient{
		id:     uuid.New().String(),
		dataCh: make(chan []byte, h.buffer),
	}
	if err := h.hub.Join(client); err != nil {
		h.logger.Warn("sse join failed", zap.Error(err))
		return
	}
	defer h.hub.Leave(client)

	h.logger.Info("sse client connected",
		zap.String("connID", client.id),
		zap.String("remote_addr", r.RemoteAddr),
	)

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("sse client disconnected", zap.String("connID", client.id))
			return
		case eventData, ok := <-client.dataCh:
			if !ok {
				return
			}
			if _, err := w.Write(eventData); err != nil {
				h.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-tick:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
