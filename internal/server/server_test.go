package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/ingest"
	"github.com/dgnsrekt/telemetry-relay/internal/recorder"
	"github.com/dgnsrekt/telemetry-relay/internal/state"
	"github.com/dgnsrekt/telemetry-relay/internal/wire"
	"github.com/dgnsrekt/telemetry-relay/internal/ws"
)

type fakeFlightLog struct {
	entries []recorder.Entry
	limit   int
}

func (f *fakeFlightLog) RecentTelemetry(_ context.Context, limit int) ([]recorder.Entry, error) {
	f.limit = limit
	return f.entries, nil
}

type fixture struct {
	store  *state.Store
	hub    *ws.Hub
	router http.Handler
}

func newFixture(t *testing.T, flightLog FlightLog) *fixture {
	t.Helper()
	logger := zap.NewNop()

	store := state.NewStore()
	hub := ws.NewHub("test", ws.SnapshotOf(store), logger)
	commands := ws.NewCommandChannel(store, hub, logger)
	gateway := ingest.NewGateway(store, hub, nil, logger)

	srv := NewServer(store, gateway, commands, hub, flightLog, logger)
	streams := StreamHandlers{
		WebSocket: ws.NewHandler(hub, commands, ws.DefaultOptions(), logger),
		Negotiate: ws.NewNegotiateHandler(logger).HandleNegotiate,
	}
	router, err := NewRouter(srv, streams, true, logger)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return &fixture{store: store, hub: hub, router: router}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestPostTelemetry(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/telemetry",
		`{"lat":10,"lon":20,"alt":30,"pitch":1,"roll":2,"yaw":3,"battery":55,"armed":true,"mode":"AUTO"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	ack := decode[ingestAck](t, rec)
	if ack.Message != ingestAckMsg || ack.Timestamp == 0 {
		t.Errorf("unexpected ack: %+v", ack)
	}

	tel := decode[state.Telemetry](t, f.do(t, http.MethodGet, "/api/telemetry", ""))
	if tel.Lat != 10 || tel.Battery != 55 || tel.Satellites != 8 {
		t.Errorf("unexpected telemetry: %+v", tel)
	}

	st := decode[state.Status](t, f.do(t, http.MethodGet, "/api/status", ""))
	if !st.Connected || !st.Armed || st.Mode != "AUTO" {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestPostTelemetryMissingFields(t *testing.T) {
	f := newFixture(t, nil)
	before := f.store.Telemetry()

	rec := f.do(t, http.MethodPost, "/telemetry", `{"lat":10,"lon":20,"alt":30}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if body.Error != state.TelemetryInvalidMsg {
		t.Errorf("unexpected error message %q", body.Error)
	}
	if strings.Join(body.Fields, ",") != "pitch,roll,yaw" {
		t.Errorf("expected pitch,roll,yaw to be named, got %v", body.Fields)
	}
	if f.store.Telemetry() != before {
		t.Error("rejected report must not change telemetry")
	}
}

func TestPostTelemetryWrongType(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/telemetry", `{"lat":"north","lon":20,"alt":30,"pitch":1,"roll":2,"yaw":3}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lat") {
		t.Errorf("expected error to name lat, got %s", rec.Body.String())
	}
}

func TestWaypointLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/waypoints", `{"lat":37.1,"lon":-122.2,"name":"Home"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[state.Waypoint](t, rec)
	if created.ID == "" || created.Name != "Home" || created.Alt != nil {
		t.Errorf("unexpected waypoint: %+v", created)
	}

	list := decode[[]state.Waypoint](t, f.do(t, http.MethodGet, "/api/waypoints", ""))
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("expected created waypoint in list, got %+v", list)
	}

	rec = f.do(t, http.MethodDelete, "/api/waypoints/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/waypoints/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.Error != waypointGoneMsg {
		t.Errorf("unexpected error %q", body.Error)
	}
}

func TestCreateWaypointInvalid(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/waypoints", `{"lat":37.1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if body.Error != state.WaypointInvalidMsg || len(body.Fields) != 1 || body.Fields[0] != "lon" {
		t.Errorf("unexpected body: %+v", body)
	}
	if f.store.Len() != 0 {
		t.Error("invalid waypoint must not be stored")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/waypoints", `{"lat":1,"lon":2}`)

	health := decode[healthBody](t, f.do(t, http.MethodGet, "/health", ""))
	if health.Status != "healthy" || health.Waypoints != 1 || health.Clients != 0 {
		t.Errorf("unexpected health: %+v", health)
	}
	if health.LastTelemetry != f.store.Telemetry().Timestamp {
		t.Errorf("lastTelemetry %d does not match store", health.LastTelemetry)
	}
}

func TestFlightLog(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, nil)
		if rec := f.do(t, http.MethodGet, "/api/flightlog", ""); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		log := &fakeFlightLog{entries: []recorder.Entry{{Source: "http", Mode: "AUTO"}}}
		f := newFixture(t, log)

		rec := f.do(t, http.MethodGet, "/api/flightlog?limit=5", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		entries := decode[[]recorder.Entry](t, rec)
		if len(entries) != 1 || entries[0].Mode != "AUTO" {
			t.Errorf("unexpected entries: %+v", entries)
		}
		if log.limit != 5 {
			t.Errorf("expected limit 5, got %d", log.limit)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		f := newFixture(t, &fakeFlightLog{})
		if rec := f.do(t, http.MethodGet, "/api/flightlog?limit=abc", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodOptions, "/api/waypoints", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "DELETE") {
		t.Errorf("expected DELETE in allowed methods, got %q", got)
	}
}

func TestDocsAndRoot(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/openapi.yaml", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/api/waypoints") {
		t.Errorf("expected embedded document, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/", "")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/docs" {
		t.Errorf("expected redirect to /docs, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestNegotiate(t *testing.T) {
	f := newFixture(t, nil)

	resp := decode[ws.NegotiateResponse](t, f.do(t, http.MethodGet, "/negotiate", ""))
	if !strings.HasSuffix(resp.WebsocketURL, "/ws") || len(resp.Subprotocols) != 3 {
		t.Errorf("unexpected negotiate response: %+v", resp)
	}
}

func TestIngestionReachesSubscriberOnRootPath(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Initial snapshot: telemetry, waypoints, status.
	for _, want := range []string{wire.TypeTelemetry, wire.TypeWaypoints, wire.TypeStatus} {
		if got := readType(t, conn); got != want {
			t.Fatalf("snapshot: expected %s, got %s", want, got)
		}
	}

	resp, err := http.Post(ts.URL+"/telemetry", "application/json",
		strings.NewReader(`{"lat":1,"lon":2,"alt":3,"pitch":0,"roll":0,"yaw":0}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	if got := readType(t, conn); got != wire.TypeTelemetry {
		t.Errorf("expected telemetry push, got %s", got)
	}
	if got := readType(t, conn); got != wire.TypeStatus {
		t.Errorf("expected status push, got %s", got)
	}
}

func readType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m, err := wire.JSON.Decode(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	typ, err := wire.TypeOf(m)
	if err != nil {
		t.Fatalf("frame type: %v", err)
	}
	return typ
}

func TestGetStatusBeforeIngest(t *testing.T) {
	f := newFixture(t, nil)

	body := decode[map[string]any](t, f.do(t, http.MethodGet, "/api/status", ""))
	if ts, ok := body["lastUpdate"].(float64); !ok || ts <= 0 {
		t.Errorf("expected startup lastUpdate, got %v", body)
	}
	if body["connected"] != false {
		t.Errorf("expected disconnected before ingest, got %v", body["connected"])
	}
}

func TestPostTelemetryWholeFloatSatellites(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/telemetry",
		`{"lat":10,"lon":20,"alt":30,"pitch":1,"roll":2,"yaw":3,"satellites":11.0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if tel := f.store.Telemetry(); tel.Satellites != 11 || tel.Lat != 10 {
		t.Errorf("unexpected telemetry: %+v", tel)
	}
}
