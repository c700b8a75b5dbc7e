package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/telemetry-relay/internal/state"
	"github.com/dgnsrekt/telemetry-relay/internal/wire"
)

var ErrNotConnected = errors.New("session not connected")

// State is the connection state of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config controls dialing, reconnect pacing and liveness detection.
type Config struct {
	URL   string
	Codec wire.Codec

	// StaleAfter is how long without a telemetry or status push before the
	// mirrored link is considered lost.
	StaleAfter    time.Duration
	CheckInterval time.Duration

	// ReconnectInterval is the minimum spacing between dial attempts.
	ReconnectInterval time.Duration
	HandshakeTimeout  time.Duration
	WriteWait         time.Duration
	ReadTimeout       time.Duration
	EventBuffer       int
}

// DefaultConfig returns the stock settings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		Codec:             wire.JSON,
		StaleAfter:        5 * time.Second,
		CheckInterval:     time.Second,
		ReconnectInterval: 2 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteWait:         10 * time.Second,
		ReadTimeout:       90 * time.Second,
		EventBuffer:       64,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig(c.URL)
	if c.Codec == nil {
		c.Codec = d.Codec
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	return c
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides the clock used for liveness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session keeps a local mirror of the hub state over a reconnecting
// connection and detects a silent sensor link independently of the socket.
type Session struct {
	cfg     Config
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	now     func() time.Time
	events  chan Event
	logger  *zap.Logger

	mu        sync.Mutex
	state     State
	telemetry state.Telemetry
	waypoints []state.Waypoint
	status    state.Status
	lastPush  time.Time
	linkLost  bool

	writeMu sync.Mutex
	conn    *websocket.Conn
	codec   wire.Codec
}

// New creates a Session. Call Run to start connecting.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Subprotocols:     []string{cfg.Codec.Subprotocol()},
		},
		limiter:   rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		now:       time.Now,
		events:    make(chan Event, cfg.EventBuffer),
		waypoints: []state.Waypoint{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events delivers mirror updates and state changes. Events are dropped when
// the consumer falls behind.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Run dials, reads and redials until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.livenessLoop(ctx)
	}()
	defer wg.Wait()

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			s.setState(Disconnected)
			return nil
		}

		s.setState(Connecting)
		conn, codec, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(Disconnected)
				return nil
			}
			s.logger.Debug("dial failed", zap.String("url", s.cfg.URL), zap.Error(err))
			s.setState(Disconnected)
			continue
		}

		s.attach(conn, codec)
		s.setState(Connected)
		s.logger.Info("session connected",
			zap.String("url", s.cfg.URL),
			zap.String("codec", codec.Name()),
		)

		err = s.readLoop(ctx, conn, codec)
		s.detach()
		s.setState(Disconnected)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Info("session disconnected", zap.Error(err))
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, wire.Codec, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return nil, nil, err
	}
	return conn, wire.ForSubprotocol(conn.Subprotocol()), nil
}

func (s *Session) attach(conn *websocket.Conn, codec wire.Codec) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn = conn
	s.codec = codec
}

func (s *Session) detach() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, codec wire.Codec) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	extend := func() {
		if s.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
	}
	extend()
	conn.SetPingHandler(func(appData string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.cfg.WriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		extend()

		msg, err := codec.Decode(data)
		if err != nil {
			s.logger.Debug("failed to decode push", zap.Error(err))
			continue
		}
		if err := s.apply(msg); err != nil {
			s.logger.Debug("ignoring push", zap.Error(err))
		}
	}
}

// apply updates the mirror from one push.
func (s *Session) apply(msg map[string]any) error {
	msgType, err := wire.TypeOf(msg)
	if err != nil {
		return err
	}

	switch msgType {
	case wire.TypeTelemetry:
		var t state.Telemetry
		if err := wire.DecodeData(msg, &t); err != nil {
			return err
		}
		s.mu.Lock()
		now := s.now()
		s.telemetry = t
		s.status.Connected = true
		s.status.LastUpdate = now.UnixMilli()
		s.lastPush = now
		restored := s.linkLost
		s.linkLost = false
		s.mu.Unlock()

		s.emit(Event{Kind: EventTelemetry, Telemetry: t})
		if restored {
			s.emit(Event{Kind: EventLinkRestored})
		}

	case wire.TypeStatus:
		var st state.Status
		if err := wire.DecodeData(msg, &st); err != nil {
			return err
		}
		s.mu.Lock()
		s.status = st
		s.lastPush = s.now()
		s.mu.Unlock()
		s.emit(Event{Kind: EventStatus, Status: st})

	case wire.TypeWaypoints:
		var wps []state.Waypoint
		if err := wire.DecodeData(msg, &wps); err != nil {
			return err
		}
		if wps == nil {
			wps = []state.Waypoint{}
		}
		s.mu.Lock()
		s.waypoints = wps
		s.mu.Unlock()
		s.emit(Event{Kind: EventWaypoints, Waypoints: copyWaypoints(wps)})

	default:
		return fmt.Errorf("unknown push type: %s", msgType)
	}
	return nil
}

func (s *Session) livenessLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkLiveness()
		}
	}
}

// checkLiveness marks the mirrored link lost when pushes have gone stale,
// even if the socket itself is still open.
func (s *Session) checkLiveness() {
	s.mu.Lock()
	if !s.status.Connected || s.lastPush.IsZero() || s.now().Sub(s.lastPush) <= s.cfg.StaleAfter {
		s.mu.Unlock()
		return
	}
	s.status.Connected = false
	s.linkLost = true
	since := s.now().Sub(s.lastPush)
	s.mu.Unlock()

	s.logger.Warn("telemetry stale, marking link lost", zap.Duration("since", since))
	s.emit(Event{Kind: EventLinkLost})
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()

	if changed {
		s.emit(Event{Kind: EventState, State: st})
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// AddWaypoint asks the hub to add a waypoint. The hub's broadcast, not this
// call, updates the mirror.
func (s *Session) AddWaypoint(spec state.WaypointSpec) error {
	return s.send(wire.AddWaypointCommand(spec))
}

// RemoveWaypoint asks the hub to remove a waypoint.
func (s *Session) RemoveWaypoint(id string) error {
	return s.send(wire.RemoveWaypointCommand(id))
}

func (s *Session) send(cmd map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	return writeFrame(s.conn, s.codec, cmd, s.cfg.WriteWait)
}

func writeFrame(conn *websocket.Conn, codec wire.Codec, v any, wait time.Duration) error {
	frame, err := codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	msgType := websocket.TextMessage
	if codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	conn.SetWriteDeadline(time.Now().Add(wait))
	return conn.WriteMessage(msgType, frame)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Telemetry() state.Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetry
}

func (s *Session) Status() state.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Waypoints() []state.Waypoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyWaypoints(s.waypoints)
}

// Snapshot returns the whole mirror.
func (s *Session) Snapshot() state.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return state.Snapshot{
		Telemetry: s.telemetry,
		Waypoints: copyWaypoints(s.waypoints),
		Status:    s.status,
	}
}

func copyWaypoints(in []state.Waypoint) []state.Waypoint {
	out := make([]state.Waypoint, len(in))
	copy(out, in)
	return out
}

// SendOnce dials, sends a single command and closes the connection.
func SendOnce(ctx context.Context, cfg Config, cmd map[string]any) error {
	cfg = cfg.withDefaults()
	codec := cfg.Codec
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Subprotocols:     []string{codec.Subprotocol()},
	}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	defer conn.Close()

	codec = wire.ForSubprotocol(conn.Subprotocol())
	if err := writeFrame(conn, codec, cmd, cfg.WriteWait); err != nil {
		return fmt.Errorf("send command: %w", err)
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(cfg.WriteWait))
	return nil
}
