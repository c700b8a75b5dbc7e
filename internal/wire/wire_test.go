package wire

import (
	"errors"
	"testing"

	"github.com/dgnsrekt/telemetry-relay/internal/state"
)

func TestCodecsCarryEnvelope(t *testing.T) {
	alt := 50.0
	env := NewEnvelope(TypeWaypoints, []state.Waypoint{
		{ID: "a", Lat: 37.5, Lon: -122.25, Alt: &alt, Name: "Home", Timestamp: 1700000000000},
	})

	for _, c := range []Codec{JSON, Protobuf, CBOR} {
		t.Run(c.Name(), func(t *testing.T) {
			frame, err := c.Encode(env)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			m, err := c.Decode(frame)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			msgType, err := TypeOf(m)
			if err != nil || msgType != TypeWaypoints {
				t.Fatalf("expected type waypoints, got %q (%v)", msgType, err)
			}

			var wps []state.Waypoint
			if err := DecodeData(m, &wps); err != nil {
				t.Fatalf("decode data: %v", err)
			}
			if len(wps) != 1 || wps[0].ID != "a" || wps[0].Name != "Home" {
				t.Fatalf("unexpected waypoints: %+v", wps)
			}
			if wps[0].Alt == nil || *wps[0].Alt != 50 || wps[0].Lat != 37.5 {
				t.Errorf("unexpected coordinates: %+v", wps[0])
			}
			if wps[0].Timestamp != 1700000000000 {
				t.Errorf("timestamp lost precision: %d", wps[0].Timestamp)
			}
		})
	}
}

func TestBinaryFlags(t *testing.T) {
	if JSON.Binary() {
		t.Error("json frames should be text")
	}
	if !Protobuf.Binary() || !CBOR.Binary() {
		t.Error("protobuf and cbor frames should be binary")
	}
}

func TestForSubprotocol(t *testing.T) {
	tests := []struct {
		proto string
		want  string
	}{
		{"", "json"},
		{"unknown.v9", "json"},
		{SubprotocolJSON, "json"},
		{SubprotocolProtobuf, "protobuf"},
		{SubprotocolCBOR, "cbor"},
	}

	for _, tt := range tests {
		if got := ForSubprotocol(tt.proto).Name(); got != tt.want {
			t.Errorf("ForSubprotocol(%q) = %s, want %s", tt.proto, got, tt.want)
		}
	}

	if got := Subprotocols(); len(got) != 3 || got[0] != SubprotocolJSON {
		t.Errorf("unexpected subprotocol list: %v", got)
	}
}

func TestByName(t *testing.T) {
	c, err := ByName("cbor")
	if err != nil || c.Subprotocol() != SubprotocolCBOR {
		t.Errorf("expected cbor codec, got %v (%v)", c, err)
	}
	if _, err := ByName("xml"); err == nil {
		t.Error("expected error for unknown codec")
	}
}

func TestParseCommandAddWaypoint(t *testing.T) {
	cmd, err := ParseCommand(map[string]any{
		"type":      "addWaypoint",
		"id":        "1700000000000",
		"lat":       37.8,
		"lon":       -122.4,
		"name":      "Pier",
		"timestamp": 1700000000000.0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	add, ok := cmd.(*AddWaypoint)
	if !ok {
		t.Fatalf("expected *AddWaypoint, got %T", cmd)
	}
	if add.Spec.ID != "1700000000000" || add.Spec.Name != "Pier" || add.Spec.Alt != nil {
		t.Errorf("unexpected spec: %+v", add.Spec)
	}
}

func TestParseCommandNumericID(t *testing.T) {
	cmd, err := ParseCommand(map[string]any{"type": "removeWaypoint", "id": float64(42)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rm := cmd.(*RemoveWaypoint); rm.ID != "42" {
		t.Errorf("expected id 42, got %q", rm.ID)
	}
}

func TestParseCommandLargeNumericIDsStayDistinct(t *testing.T) {
	seen := map[string]bool{}
	for _, id := range []float64{1e20, 3e20, -1e20} {
		cmd, err := ParseCommand(map[string]any{"type": "removeWaypoint", "id": id})
		if err != nil {
			t.Fatalf("id %v: unexpected error: %v", id, err)
		}
		got := cmd.(*RemoveWaypoint).ID
		if seen[got] {
			t.Errorf("id %v collapsed to already seen %q", id, got)
		}
		seen[got] = true
	}
	if !seen["100000000000000000000"] {
		t.Errorf("expected plain decimal formatting, got %v", seen)
	}
}

func TestParseCommandRejects(t *testing.T) {
	tests := []struct {
		name string
		msg  map[string]any
	}{
		{"no type", map[string]any{"lat": 1.0}},
		{"unknown type", map[string]any{"type": "selfDestruct"}},
		{"missing lat", map[string]any{"type": "addWaypoint", "lon": 1.0}},
		{"string lon", map[string]any{"type": "addWaypoint", "lat": 1.0, "lon": "west"}},
		{"bad alt", map[string]any{"type": "addWaypoint", "lat": 1.0, "lon": 1.0, "alt": "high"}},
		{"remove without id", map[string]any{"type": "removeWaypoint"}},
		{"remove with object id", map[string]any{"type": "removeWaypoint", "id": map[string]any{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCommand(tt.msg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseWaypointSpecNamesFields(t *testing.T) {
	_, err := ParseWaypointSpec(map[string]any{"lat": "x", "lon": nil})
	var ve *state.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *state.ValidationError, got %v", err)
	}
	if len(ve.Fields) != 2 || ve.Fields[0] != "lat" || ve.Fields[1] != "lon" {
		t.Errorf("expected [lat lon], got %v", ve.Fields)
	}
}

func TestCommandBuildersRoundTrip(t *testing.T) {
	alt := 10.0
	spec := state.WaypointSpec{ID: "x", Lat: 1, Lon: 2, Alt: &alt, Name: "N"}

	frame, err := CBOR.Encode(AddWaypointCommand(spec))
	if err != nil {
		t.Fatal(err)
	}
	m, err := CBOR.Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	cmd, err := ParseCommand(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := cmd.(*AddWaypoint).Spec
	if got.ID != "x" || got.Lat != 1 || got.Lon != 2 || got.Alt == nil || *got.Alt != 10 || got.Name != "N" {
		t.Errorf("unexpected spec: %+v", got)
	}

	cmd, err = ParseCommand(RemoveWaypointCommand("x"))
	if err != nil || cmd.(*RemoveWaypoint).ID != "x" {
		t.Errorf("unexpected remove command: %v (%v)", cmd, err)
	}
}
