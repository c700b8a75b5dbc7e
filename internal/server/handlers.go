package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/recorder"
	"github.com/dgnsrekt/telemetry-relay/internal/state"
	"github.com/dgnsrekt/telemetry-relay/internal/wire"
)

const (
	maxBodyBytes    = 1 << 20
	ingestAckMsg    = "Telemetry received successfully"
	waypointGoneMsg = "Waypoint not found"
	defaultLogLimit = 100
)

// Ingester accepts raw sensor payloads.
type Ingester interface {
	IngestPayload(ctx context.Context, source string, payload []byte) (state.Telemetry, error)
}

// Commands mutates the waypoint collection and broadcasts the result.
type Commands interface {
	AddWaypoint(spec state.WaypointSpec) (state.Waypoint, error)
	RemoveWaypoint(id string) error
}

// ClientCounter reports how many subscribers are attached.
type ClientCounter interface {
	Count() int
}

// FlightLog serves recorded telemetry.
type FlightLog interface {
	RecentTelemetry(ctx context.Context, limit int) ([]recorder.Entry, error)
}

type Server struct {
	store     *state.Store
	ingester  Ingester
	commands  Commands
	clients   ClientCounter
	flightLog FlightLog
	started   time.Time
	logger    *zap.Logger
}

// NewServer wires the REST handlers. flightLog may be nil when the recorder is off.
func NewServer(store *state.Store, ingester Ingester, commands Commands, clients ClientCounter, flightLog FlightLog, logger *zap.Logger) *Server {
	return &Server{
		store:     store,
		ingester:  ingester,
		commands:  commands,
		clients:   clients,
		flightLog: flightLog,
		started:   time.Now(),
		logger:    logger,
	}
}

type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

type ingestAck struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type messageBody struct {
	Message string `json:"message"`
}

type healthBody struct {
	Status        string  `json:"status"`
	Uptime        float64 `json:"uptime"`
	Clients       int     `json:"clients"`
	Waypoints     int     `json:"waypoints"`
	LastTelemetry int64   `json:"lastTelemetry"`
}

// PostTelemetry handles POST /telemetry
func (s *Server) PostTelemetry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, &state.ValidationError{Msg: "request body too large or unreadable"})
		return
	}

	tel, err := s.ingester.IngestPayload(r.Context(), "http", body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestAck{Message: ingestAckMsg, Timestamp: tel.Timestamp})
}

// GetTelemetry handles GET /api/telemetry
func (s *Server) GetTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Telemetry())
}

// GetStatus handles GET /api/status
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Status())
}

// ListWaypoints handles GET /api/waypoints
func (s *Server) ListWaypoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Waypoints())
}

// CreateWaypoint handles POST /api/waypoints
func (s *Server) CreateWaypoint(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&raw); err != nil {
		s.writeError(w, &state.ValidationError{Msg: state.WaypointInvalidMsg})
		return
	}

	spec, err := wire.ParseWaypointSpec(raw)
	if err != nil {
		s.writeError(w, err)
		return
	}

	wp, err := s.commands.AddWaypoint(spec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wp)
}

// DeleteWaypoint handles DELETE /api/waypoints/{id}
func (s *Server) DeleteWaypoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.commands.RemoveWaypoint(id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Waypoint deleted successfully"})
}

// GetHealth handles GET /health
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{
		Status:        "healthy",
		Uptime:        time.Since(s.started).Seconds(),
		Clients:       s.clients.Count(),
		Waypoints:     s.store.Len(),
		LastTelemetry: s.store.Telemetry().Timestamp,
	})
}

// GetFlightLog handles GET /api/flightlog
func (s *Server) GetFlightLog(w http.ResponseWriter, r *http.Request) {
	if s.flightLog == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "flight recorder disabled"})
		return
	}

	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, &state.ValidationError{Fields: []string{"limit"}, Msg: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.flightLog.RecentTelemetry(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// writeError maps domain errors onto status codes. Anything unclassified is
// logged and reported as a bare 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ve *state.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Msg, Fields: ve.Fields})
	case errors.Is(err, state.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: waypointGoneMsg})
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}
