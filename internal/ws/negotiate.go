package ws

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/wire"
)

// NegotiateResponse tells clients where to connect and how.
type NegotiateResponse struct {
	WebsocketURL string   `json:"websocket_url"`
	EventsURL    string   `json:"events_url"`
	Subprotocols []string `json:"subprotocols"`
}

// NegotiateHandler handles the /negotiate endpoint.
type NegotiateHandler struct {
	logger *zap.Logger
}

// NewNegotiateHandler creates a new NegotiateHandler.
func NewNegotiateHandler(logger *zap.Logger) *NegotiateHandler {
	return &NegotiateHandler{logger: logger}
}

// HandleNegotiate handles GET /negotiate
func (h *NegotiateHandler) HandleNegotiate(w http.ResponseWriter, r *http.Request) {
	wsScheme, httpScheme := "ws", "http"
	if r.TLS != nil {
		wsScheme, httpScheme = "wss", "https"
	}

	response := NegotiateResponse{
		WebsocketURL: fmt.Sprintf("%s://%s/ws", wsScheme, r.Host),
		EventsURL:    fmt.Sprintf("%s://%s/events", httpScheme, r.Host),
		Subprotocols: wire.Subprotocols(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode negotiate response", zap.Error(err))
	}
}
