package state

// Telemetry is the latest accepted sensor snapshot.
type Telemetry struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Alt        float64 `json:"alt"`
	Pitch      float64 `json:"pitch"`
	Roll       float64 `json:"roll"`
	Yaw        float64 `json:"yaw"`
	Timestamp  int64   `json:"timestamp"`
	Battery    float64 `json:"battery"`
	Satellites int     `json:"satellites"`
}

// Status reports the relay's view of the vehicle link.
type Status struct {
	Connected  bool   `json:"connected"`
	Armed      bool   `json:"armed"`
	Mode       string `json:"mode"`
	LastUpdate int64  `json:"lastUpdate"`
}

// Waypoint is a named geographic target shared by all observers.
type Waypoint struct {
	ID        string   `json:"id"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Alt       *float64 `json:"alt,omitempty"`
	Name      string   `json:"name"`
	Timestamp int64    `json:"timestamp"`
}

// Report is one sensor report as submitted to the ingestion gateway.
// Battery, Satellites and Armed are optional; nil keeps the previous value.
type Report struct {
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	Alt        float64  `json:"alt"`
	Pitch      float64  `json:"pitch"`
	Roll       float64  `json:"roll"`
	Yaw        float64  `json:"yaw"`
	Battery    *float64 `json:"battery,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	Armed      *bool    `json:"armed,omitempty"`
	Mode       string   `json:"mode,omitempty"`
}

// StatusUpdate carries the status fields a report may change.
type StatusUpdate struct {
	Armed *bool
	Mode  string
}

// WaypointSpec describes a waypoint to insert. ID and Name are optional.
type WaypointSpec struct {
	ID   string   `json:"id,omitempty"`
	Lat  float64  `json:"lat"`
	Lon  float64  `json:"lon"`
	Alt  *float64 `json:"alt,omitempty"`
	Name string   `json:"name,omitempty"`
}

// Snapshot is a consistent copy of the whole store.
type Snapshot struct {
	Telemetry Telemetry  `json:"telemetry"`
	Waypoints []Waypoint `json:"waypoints"`
	Status    Status     `json:"status"`
}

// StatusUpdateFrom extracts the status part of a report.
func StatusUpdateFrom(r Report) StatusUpdate {
	return StatusUpdate{Armed: r.Armed, Mode: r.Mode}
}
