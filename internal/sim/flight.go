package sim

import (
	"math"

	"github.com/dgnsrekt/telemetry-relay/internal/state"
)

const metersPerDegree = 111320.0

// Orbit describes a circular flight path.
type Orbit struct {
	CenterLat float64
	CenterLon float64
	RadiusM   float64
	AltitudeM float64
	// Steps is the number of reports per full circle.
	Steps int
}

// Flight generates reports along an Orbit. It is not safe for concurrent use.
type Flight struct {
	orbit   Orbit
	step    int
	battery float64
}

func NewFlight(o Orbit) *Flight {
	if o.Steps <= 0 {
		o.Steps = 120
	}
	return &Flight{orbit: o, battery: 100}
}

// Next returns the report for the current step and advances the flight.
func (f *Flight) Next() state.Report {
	o := f.orbit
	theta := 2 * math.Pi * float64(f.step%o.Steps) / float64(o.Steps)

	dLat := o.RadiusM * math.Cos(theta) / metersPerDegree
	dLon := o.RadiusM * math.Sin(theta) / (metersPerDegree * math.Cos(o.CenterLat*math.Pi/180))

	// Counter-clockwise seen from above, heading is tangent to the circle.
	heading := math.Mod(theta*180/math.Pi+90, 360)

	battery := f.battery
	satellites := 8 + f.step%5
	armed := true

	r := state.Report{
		Lat:        o.CenterLat + dLat,
		Lon:        o.CenterLon + dLon,
		Alt:        o.AltitudeM + 2*math.Sin(theta*2),
		Pitch:      3 * math.Sin(theta),
		Roll:       12,
		Yaw:        heading,
		Battery:    &battery,
		Satellites: &satellites,
		Armed:      &armed,
		Mode:       "AUTO",
	}

	f.step++
	f.battery = math.Max(0, f.battery-0.1)
	return r
}
