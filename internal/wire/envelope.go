package wire

import (
	"encoding/json"
	"fmt"
)

// Message types pushed by the hub.
const (
	TypeTelemetry = "telemetry"
	TypeWaypoints = "waypoints"
	TypeStatus    = "status"
)

// Command types sent by subscribers.
const (
	TypeAddWaypoint    = "addWaypoint"
	TypeRemoveWaypoint = "removeWaypoint"
)

// Envelope is the frame shape for every hub push.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewEnvelope builds a push frame.
func NewEnvelope(msgType string, data any) Envelope {
	return Envelope{Type: msgType, Data: data}
}

// TypeOf returns the "type" field of a decoded frame.
func TypeOf(m map[string]any) (string, error) {
	t, ok := m["type"].(string)
	if !ok || t == "" {
		return "", fmt.Errorf("missing or invalid 'type' field")
	}
	return t, nil
}

// DecodeData converts the "data" field of a decoded frame into out.
func DecodeData(m map[string]any, out any) error {
	raw, ok := m["data"]
	if !ok {
		return fmt.Errorf("missing 'data' field")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("re-encode data: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// toGeneric turns any JSON-serializable value into the map/slice/float64
// form shared by every codec.
func toGeneric(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
