package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/state"
	"github.com/dgnsrekt/telemetry-relay/internal/wire"
)

// Committer runs a mutation and broadcasts its result atomically.
type Committer interface {
	Commit(fn func() ([]wire.Envelope, error)) error
}

// Recorder receives accepted telemetry and rejected payloads.
type Recorder interface {
	RecordTelemetry(source string, t state.Telemetry, s state.Status)
	RecordRejection(source string, payload []byte, err error)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) RecordTelemetry(string, state.Telemetry, state.Status) {}
func (NoopRecorder) RecordRejection(string, []byte, error)                 {}

// Gateway is the one-way path from sensor reports into the store.
type Gateway struct {
	store    *state.Store
	hub      Committer
	recorder Recorder
	logger   *zap.Logger
}

// NewGateway creates a new Gateway. A nil recorder records nothing.
func NewGateway(store *state.Store, hub Committer, recorder Recorder, logger *zap.Logger) *Gateway {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &Gateway{
		store:    store,
		hub:      hub,
		recorder: recorder,
		logger:   logger,
	}
}

// Ingest applies one report and broadcasts telemetry followed by status.
// A rejected report changes nothing and broadcasts nothing.
func (g *Gateway) Ingest(ctx context.Context, source string, r state.Report) (state.Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return state.Telemetry{}, err
	}

	var (
		tel state.Telemetry
		st  state.Status
	)
	err := g.hub.Commit(func() ([]wire.Envelope, error) {
		var err error
		tel, err = g.store.ApplyTelemetry(r)
		if err != nil {
			return nil, err
		}
		st = g.store.ApplyStatus(state.StatusUpdateFrom(r))
		return []wire.Envelope{
			wire.NewEnvelope(wire.TypeTelemetry, tel),
			wire.NewEnvelope(wire.TypeStatus, st),
		}, nil
	})
	if err != nil {
		return state.Telemetry{}, err
	}

	g.recorder.RecordTelemetry(source, tel, st)
	g.logger.Debug("telemetry accepted",
		zap.String("source", source),
		zap.Float64("lat", tel.Lat),
		zap.Float64("lon", tel.Lon),
		zap.Float64("alt", tel.Alt),
	)
	return tel, nil
}

// IngestPayload parses a raw JSON report and ingests it. Rejected payloads
// are handed to the recorder.
func (g *Gateway) IngestPayload(ctx context.Context, source string, payload []byte) (state.Telemetry, error) {
	r, err := ParseReport(payload)
	if err == nil {
		var tel state.Telemetry
		tel, err = g.Ingest(ctx, source, r)
		if err == nil {
			return tel, nil
		}
	}

	if state.IsValidation(err) {
		g.recorder.RecordRejection(source, payload, err)
		g.logger.Warn("telemetry rejected",
			zap.String("source", source),
			zap.Error(err),
		)
	}
	return state.Telemetry{}, err
}

var requiredFields = []string{"lat", "lon", "alt", "pitch", "roll", "yaw"}

// ParseReport decodes a JSON report field by field, naming every field that
// is missing or of the wrong type. JSON null counts as missing.
func ParseReport(body []byte) (state.Report, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return state.Report{}, &state.ValidationError{Msg: fmt.Sprintf("malformed JSON body: %v", err)}
	}

	var r state.Report
	targets := map[string]*float64{
		"lat": &r.Lat, "lon": &r.Lon, "alt": &r.Alt,
		"pitch": &r.Pitch, "roll": &r.Roll, "yaw": &r.Yaw,
	}

	var bad []string
	for _, name := range requiredFields {
		v, ok := raw[name]
		if !ok || isNull(v) || json.Unmarshal(v, targets[name]) != nil {
			bad = append(bad, name)
		}
	}
	if len(bad) > 0 {
		return state.Report{}, &state.ValidationError{Fields: bad, Msg: state.TelemetryInvalidMsg}
	}

	if v, ok := raw["battery"]; ok && !isNull(v) {
		var b float64
		if err := json.Unmarshal(v, &b); err != nil {
			bad = append(bad, "battery")
		} else {
			r.Battery = &b
		}
	}
	if v, ok := raw["satellites"]; ok && !isNull(v) {
		// Whole floats such as 8.0 are accepted as counts.
		var f float64
		if err := json.Unmarshal(v, &f); err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<31 {
			bad = append(bad, "satellites")
		} else {
			n := int(f)
			r.Satellites = &n
		}
	}
	if v, ok := raw["armed"]; ok && !isNull(v) {
		var a bool
		if err := json.Unmarshal(v, &a); err != nil {
			bad = append(bad, "armed")
		} else {
			r.Armed = &a
		}
	}
	if v, ok := raw["mode"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &r.Mode); err != nil {
			bad = append(bad, "mode")
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return state.Report{}, &state.ValidationError{Fields: bad, Msg: "optional telemetry fields have the wrong type"}
	}
	return r, nil
}

func isNull(v json.RawMessage) bool {
	return string(v) == "null"
}
