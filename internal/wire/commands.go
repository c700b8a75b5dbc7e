package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/dgnsrekt/telemetry-relay/internal/state"
)

// Inbound command types for internal routing
type (
	AddWaypoint struct {
		Spec state.WaypointSpec
	}
	RemoveWaypoint struct {
		ID string
	}
)

// ParseCommand turns a decoded inbound frame into *AddWaypoint or *RemoveWaypoint.
func ParseCommand(m map[string]any) (any, error) {
	msgType, err := TypeOf(m)
	if err != nil {
		return nil, err
	}

	switch msgType {
	case TypeAddWaypoint:
		spec, err := ParseWaypointSpec(m)
		if err != nil {
			return nil, err
		}
		return &AddWaypoint{Spec: spec}, nil

	case TypeRemoveWaypoint:
		id, ok := idField(m["id"])
		if !ok || id == "" {
			return nil, &state.ValidationError{Fields: []string{"id"}, Msg: "removeWaypoint requires an id"}
		}
		return &RemoveWaypoint{ID: id}, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", msgType)
	}
}

// ParseWaypointSpec reads waypoint fields from a flat map. lat and lon are
// required numbers; id, alt and name are optional.
func ParseWaypointSpec(m map[string]any) (state.WaypointSpec, error) {
	var spec state.WaypointSpec
	var bad []string

	lat, ok := toFloat(m["lat"])
	if !ok {
		bad = append(bad, "lat")
	}
	lon, ok := toFloat(m["lon"])
	if !ok {
		bad = append(bad, "lon")
	}
	if raw, present := m["alt"]; present && raw != nil {
		alt, ok := toFloat(raw)
		if !ok {
			bad = append(bad, "alt")
		} else {
			spec.Alt = &alt
		}
	}
	if raw, present := m["name"]; present && raw != nil {
		name, ok := raw.(string)
		if !ok {
			bad = append(bad, "name")
		}
		spec.Name = name
	}
	if raw, present := m["id"]; present && raw != nil {
		id, ok := idField(raw)
		if !ok {
			bad = append(bad, "id")
		}
		spec.ID = id
	}

	if len(bad) > 0 {
		return state.WaypointSpec{}, &state.ValidationError{Fields: bad, Msg: state.WaypointInvalidMsg}
	}
	spec.Lat = lat
	spec.Lon = lon
	return spec, nil
}

// AddWaypointCommand builds the flat addWaypoint frame a subscriber sends.
func AddWaypointCommand(spec state.WaypointSpec) map[string]any {
	msg := map[string]any{
		"type": TypeAddWaypoint,
		"lat":  spec.Lat,
		"lon":  spec.Lon,
	}
	if spec.ID != "" {
		msg["id"] = spec.ID
	}
	if spec.Alt != nil {
		msg["alt"] = *spec.Alt
	}
	if spec.Name != "" {
		msg["name"] = spec.Name
	}
	return msg
}

// RemoveWaypointCommand builds the flat removeWaypoint frame.
func RemoveWaypointCommand(id string) map[string]any {
	return map[string]any{
		"type": TypeRemoveWaypoint,
		"id":   id,
	}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// idField accepts string ids and integral numeric ids, which some clients send.
func idField(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, true
	case nil:
		return "", false
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}
