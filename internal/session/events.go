package session

import "github.com/dgnsrekt/telemetry-relay/internal/state"

// EventKind identifies what an Event carries.
type EventKind int

const (
	EventState EventKind = iota
	EventTelemetry
	EventWaypoints
	EventStatus
	EventLinkLost
	EventLinkRestored
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventTelemetry:
		return "telemetry"
	case EventWaypoints:
		return "waypoints"
	case EventStatus:
		return "status"
	case EventLinkLost:
		return "link-lost"
	case EventLinkRestored:
		return "link-restored"
	default:
		return "unknown"
	}
}

// Event is one change observed by a Session.
type Event struct {
	Kind      EventKind
	State     State
	Telemetry state.Telemetry
	Waypoints []state.Waypoint
	Status    state.Status
}
