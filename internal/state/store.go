package state

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	// TelemetryInvalidMsg is returned when a report is missing a required number.
	TelemetryInvalidMsg = "Invalid telemetry data. lat, lon, alt, pitch, roll, yaw must be numbers."

	// WaypointInvalidMsg is returned when a waypoint has no usable coordinates.
	WaypointInvalidMsg = "Latitude and longitude must be numbers"

	DefaultMode = "STABILIZE"
)

// Store holds the single authoritative copy of telemetry, waypoints and status.
// All methods are safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	telemetry Telemetry
	waypoints []Waypoint
	status    Status
	ids       *idMinter
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps and id minting.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store holding the startup defaults.
func NewStore(opts ...Option) *Store {
	s := &Store{
		telemetry: Telemetry{
			Lat:        37.7749,
			Lon:        -122.4194,
			Battery:    100,
			Satellites: 8,
		},
		waypoints: []Waypoint{},
		status: Status{
			Mode: DefaultMode,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.status.LastUpdate = s.now().UnixMilli()
	s.ids = newIDMinter(s.now)
	return s
}

// ApplyTelemetry validates a report and replaces the telemetry snapshot.
// Battery and satellites keep their previous values when the report omits them.
// A rejected report leaves the store untouched.
func (s *Store) ApplyTelemetry(r Report) (Telemetry, error) {
	if err := validateReport(r); err != nil {
		return Telemetry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := Telemetry{
		Lat:        r.Lat,
		Lon:        r.Lon,
		Alt:        r.Alt,
		Pitch:      r.Pitch,
		Roll:       r.Roll,
		Yaw:        r.Yaw,
		Timestamp:  s.now().UnixMilli(),
		Battery:    s.telemetry.Battery,
		Satellites: s.telemetry.Satellites,
	}
	if r.Battery != nil {
		next.Battery = *r.Battery
	}
	if r.Satellites != nil {
		next.Satellites = *r.Satellites
	}
	s.telemetry = next
	return next, nil
}

func validateReport(r Report) error {
	var bad []string
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"lat", r.Lat}, {"lon", r.Lon}, {"alt", r.Alt},
		{"pitch", r.Pitch}, {"roll", r.Roll}, {"yaw", r.Yaw},
	} {
		if !finite(f.v) {
			bad = append(bad, f.name)
		}
	}
	if len(bad) > 0 {
		return &ValidationError{Fields: bad, Msg: TelemetryInvalidMsg}
	}

	if r.Battery != nil && (!finite(*r.Battery) || *r.Battery < 0 || *r.Battery > 100) {
		bad = append(bad, "battery")
	}
	if r.Satellites != nil && *r.Satellites < 0 {
		bad = append(bad, "satellites")
	}
	if len(bad) > 0 {
		return &ValidationError{Fields: bad, Msg: "battery must be within 0-100 and satellites must not be negative"}
	}
	return nil
}

// ApplyStatus marks the link connected and merges armed and mode.
// An empty mode keeps the current one.
func (s *Store) ApplyStatus(u StatusUpdate) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.Connected = true
	s.status.LastUpdate = s.now().UnixMilli()
	if u.Armed != nil {
		s.status.Armed = *u.Armed
	}
	if u.Mode != "" {
		s.status.Mode = u.Mode
	}
	return s.status
}

func (s *Store) Telemetry() Telemetry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.telemetry
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Waypoints returns a copy of the collection in insertion order. Never nil.
func (s *Store) Waypoints() []Waypoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyWaypoints()
}

// Snapshot returns telemetry, waypoints and status read under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Telemetry: s.telemetry,
		Waypoints: s.copyWaypoints(),
		Status:    s.status,
	}
}

func (s *Store) copyWaypoints() []Waypoint {
	out := make([]Waypoint, len(s.waypoints))
	for i, wp := range s.waypoints {
		if wp.Alt != nil {
			alt := *wp.Alt
			wp.Alt = &alt
		}
		out[i] = wp
	}
	return out
}

// InsertWaypoint appends a waypoint, minting an id and a default name when absent.
func (s *Store) InsertWaypoint(spec WaypointSpec) (Waypoint, error) {
	var bad []string
	if !finite(spec.Lat) {
		bad = append(bad, "lat")
	}
	if !finite(spec.Lon) {
		bad = append(bad, "lon")
	}
	if spec.Alt != nil && !finite(*spec.Alt) {
		bad = append(bad, "alt")
	}
	if len(bad) > 0 {
		return Waypoint{}, &ValidationError{Fields: bad, Msg: WaypointInvalidMsg}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := spec.ID
	if id == "" {
		id = s.ids.next(s.hasWaypoint)
	} else if s.hasWaypoint(id) {
		return Waypoint{}, &ValidationError{Fields: []string{"id"}, Msg: fmt.Sprintf("waypoint %q already exists", id)}
	}

	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("Waypoint %d", len(s.waypoints)+1)
	}

	wp := Waypoint{
		ID:        id,
		Lat:       spec.Lat,
		Lon:       spec.Lon,
		Name:      name,
		Timestamp: s.now().UnixMilli(),
	}
	if spec.Alt != nil {
		alt := *spec.Alt
		wp.Alt = &alt
	}
	s.waypoints = append(s.waypoints, wp)

	out := wp
	if wp.Alt != nil {
		alt := *wp.Alt
		out.Alt = &alt
	}
	return out, nil
}

// RemoveWaypoint deletes the waypoint with id and reports whether it existed.
// The order of the remaining waypoints is preserved.
func (s *Store) RemoveWaypoint(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, wp := range s.waypoints {
		if wp.ID == id {
			s.waypoints = append(s.waypoints[:i], s.waypoints[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of waypoints.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.waypoints)
}

// hasWaypoint must be called with s.mu held.
func (s *Store) hasWaypoint(id string) bool {
	for _, wp := range s.waypoints {
		if wp.ID == id {
			return true
		}
	}
	return false
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
