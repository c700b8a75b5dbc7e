package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/state"
	"github.com/dgnsrekt/telemetry-relay/internal/wire"
)

// fakeSubscriber records frames and can simulate a full buffer.
type fakeSubscriber struct {
	id     string
	codec  wire.Codec
	limit  int
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFake(id string, limit int) *fakeSubscriber {
	return &fakeSubscriber{id: id, codec: wire.JSON, limit: limit}
}

func (f *fakeSubscriber) ID() string        { return f.id }
func (f *fakeSubscriber) Codec() wire.Codec { return f.codec }

func (f *fakeSubscriber) Enqueue(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSubscriberClosed
	}
	if f.limit > 0 && len(f.frames) >= f.limit {
		return ErrSubscriberSlow
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) types(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.frames))
	for _, frame := range f.frames {
		m, err := f.codec.Decode(frame)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		msgType, _ := wire.TypeOf(m)
		out = append(out, msgType)
	}
	return out
}

func (f *fakeSubscriber) last(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		t.Fatal("no frames received")
	}
	m, err := f.codec.Decode(f.frames[len(f.frames)-1])
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return m
}

func newTestHub(store *state.Store) *Hub {
	return NewHub("test", SnapshotOf(store), zap.NewNop())
}

func equalTypes(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestJoinSendsSnapshotInOrder(t *testing.T) {
	hub := newTestHub(state.NewStore())
	sub := newFake("a", 0)

	if err := hub.Join(sub); err != nil {
		t.Fatalf("join: %v", err)
	}

	want := []string{"telemetry", "waypoints", "status"}
	if got := sub.types(t); !equalTypes(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if hub.Count() != 1 {
		t.Errorf("expected 1 subscriber, got %d", hub.Count())
	}
}

func TestJoinFailureDoesNotRegister(t *testing.T) {
	hub := newTestHub(state.NewStore())
	sub := newFake("a", 2)

	if err := hub.Join(sub); !errors.Is(err, ErrSubscriberSlow) {
		t.Fatalf("expected ErrSubscriberSlow, got %v", err)
	}
	if hub.Count() != 0 {
		t.Errorf("expected no subscribers, got %d", hub.Count())
	}
}

func TestPublishReachesEverySubscriber(t *testing.T) {
	hub := newTestHub(state.NewStore())
	subs := []*fakeSubscriber{newFake("a", 0), newFake("b", 0), newFake("c", 0)}
	for _, s := range subs {
		if err := hub.Join(s); err != nil {
			t.Fatal(err)
		}
	}

	hub.Publish(wire.NewEnvelope(wire.TypeStatus, state.Status{Mode: "AUTO"}))

	for _, s := range subs {
		types := s.types(t)
		if len(types) != 4 || types[3] != "status" {
			t.Errorf("%s: unexpected frames %v", s.id, types)
		}
	}
}

func TestSlowSubscriberIsDroppedAlone(t *testing.T) {
	hub := newTestHub(state.NewStore())
	slow := newFake("slow", 3)
	fast := newFake("fast", 0)
	hub.Join(slow)
	hub.Join(fast)

	hub.Publish(wire.NewEnvelope(wire.TypeStatus, state.Status{}))

	if hub.Count() != 1 {
		t.Fatalf("expected slow subscriber removed, count=%d", hub.Count())
	}
	if !slow.closed {
		t.Error("expected slow subscriber to be closed")
	}
	if got := fast.types(t); len(got) != 4 {
		t.Errorf("fast subscriber should still receive frames, got %v", got)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	hub := newTestHub(state.NewStore())
	sub := newFake("a", 0)
	hub.Join(sub)

	hub.Leave(sub)
	hub.Leave(sub)

	if hub.Count() != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.Count())
	}
	hub.Publish(wire.NewEnvelope(wire.TypeStatus, state.Status{}))
	if got := sub.types(t); len(got) != 3 {
		t.Errorf("departed subscriber must not receive pushes, got %v", got)
	}
}

func TestCommitErrorBroadcastsNothing(t *testing.T) {
	hub := newTestHub(state.NewStore())
	sub := newFake("a", 0)
	hub.Join(sub)

	boom := errors.New("boom")
	err := hub.Commit(func() ([]wire.Envelope, error) {
		return []wire.Envelope{wire.NewEnvelope(wire.TypeStatus, nil)}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := sub.types(t); len(got) != 3 {
		t.Errorf("expected only snapshot frames, got %v", got)
	}
}

func TestRunClosesSubscribersAndRejectsJoins(t *testing.T) {
	hub := newTestHub(state.NewStore())
	sub := newFake("a", 0)
	hub.Join(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	if !sub.closed || hub.Count() != 0 {
		t.Error("expected subscribers closed on shutdown")
	}
	if err := hub.Join(newFake("late", 0)); !errors.Is(err, ErrHubClosed) {
		t.Errorf("expected ErrHubClosed, got %v", err)
	}
}

func TestCommandChannelAddAndRemove(t *testing.T) {
	store := state.NewStore()
	hub := newTestHub(store)
	commands := NewCommandChannel(store, hub, zap.NewNop())
	a, b := newFake("a", 0), newFake("b", 0)
	hub.Join(a)
	hub.Join(b)

	commands.Dispatch("a", map[string]any{"type": "addWaypoint", "lat": 37.8, "lon": -122.4})

	for _, s := range []*fakeSubscriber{a, b} {
		m := s.last(t)
		var wps []state.Waypoint
		if err := wire.DecodeData(m, &wps); err != nil {
			t.Fatal(err)
		}
		if len(wps) != 1 || wps[0].Name != "Waypoint 1" {
			t.Errorf("%s: unexpected waypoints %+v", s.id, wps)
		}
	}

	id := store.Waypoints()[0].ID
	commands.Dispatch("b", map[string]any{"type": "removeWaypoint", "id": id})

	var wps []state.Waypoint
	if err := wire.DecodeData(a.last(t), &wps); err != nil {
		t.Fatal(err)
	}
	if len(wps) != 0 {
		t.Errorf("expected empty list after removal, got %+v", wps)
	}
}

func TestCommandChannelIgnoresInvalidAndUnknown(t *testing.T) {
	store := state.NewStore()
	hub := newTestHub(store)
	commands := NewCommandChannel(store, hub, zap.NewNop())
	sub := newFake("a", 0)
	hub.Join(sub)

	commands.Dispatch("a", map[string]any{"type": "addWaypoint", "lat": "north", "lon": 1.0})
	commands.Dispatch("a", map[string]any{"type": "removeWaypoint", "id": "missing"})
	commands.Dispatch("a", map[string]any{"type": "launch"})

	if got := sub.types(t); len(got) != 3 {
		t.Errorf("expected no broadcasts, got %v", got)
	}
	if store.Len() != 0 {
		t.Error("store must be unchanged")
	}

	if err := commands.RemoveWaypoint("missing"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentCommitsKeepOrderConsistent(t *testing.T) {
	store := state.NewStore()
	hub := newTestHub(store)
	commands := NewCommandChannel(store, hub, zap.NewNop())
	a, b := newFake("a", 0), newFake("b", 0)
	hub.Join(a)
	hub.Join(b)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			commands.AddWaypoint(state.WaypointSpec{ID: fmt.Sprintf("wp-%d", i), Lat: 1, Lon: 1})
		}(i)
	}
	wg.Wait()

	// Each broadcast carries one more waypoint than the last, on every subscriber.
	for _, s := range []*fakeSubscriber{a, b} {
		s.mu.Lock()
		frames := append([][]byte(nil), s.frames[3:]...)
		s.mu.Unlock()

		if len(frames) != 50 {
			t.Fatalf("%s: expected 50 broadcasts, got %d", s.id, len(frames))
		}
		for i, frame := range frames {
			m, _ := wire.JSON.Decode(frame)
			var wps []state.Waypoint
			if err := wire.DecodeData(m, &wps); err != nil {
				t.Fatal(err)
			}
			if len(wps) != i+1 {
				t.Fatalf("%s: broadcast %d has %d waypoints", s.id, i, len(wps))
			}
		}
	}
}

func TestLateJoinerSeesCurrentState(t *testing.T) {
	store := state.NewStore()
	hub := newTestHub(store)
	commands := NewCommandChannel(store, hub, zap.NewNop())

	early := newFake("early", 0)
	if err := hub.Join(early); err != nil {
		t.Fatal(err)
	}

	battery := 42.0
	if _, err := store.ApplyTelemetry(state.Report{Lat: 1, Lon: 2, Alt: 3, Pitch: 4, Roll: 5, Yaw: 6, Battery: &battery}); err != nil {
		t.Fatal(err)
	}
	store.ApplyStatus(state.StatusUpdate{Mode: "AUTO"})
	for _, id := range []string{"a", "b", "c"} {
		if _, err := commands.AddWaypoint(state.WaypointSpec{ID: id, Lat: 1, Lon: 1}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if err := commands.RemoveWaypoint("b"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	late := newFake("late", 0)
	if err := hub.Join(late); err != nil {
		t.Fatal(err)
	}

	want := []string{"telemetry", "waypoints", "status"}
	if got := late.types(t); !equalTypes(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	late.mu.Lock()
	frames := late.frames
	late.mu.Unlock()

	decodeData := func(frame []byte) any {
		m, err := late.codec.Decode(frame)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return m["data"]
	}

	tel, _ := decodeData(frames[0]).(map[string]any)
	if tel["lat"] != 1.0 || tel["yaw"] != 6.0 || tel["battery"] != 42.0 {
		t.Errorf("unexpected telemetry snapshot: %v", tel)
	}

	wps, _ := decodeData(frames[1]).([]any)
	var ids []string
	for _, w := range wps {
		wp, _ := w.(map[string]any)
		id, _ := wp["id"].(string)
		ids = append(ids, id)
	}
	if !equalTypes(ids, []string{"a", "c"}) {
		t.Errorf("expected waypoints [a c], got %v", ids)
	}

	st, _ := decodeData(frames[2]).(map[string]any)
	if st["mode"] != "AUTO" || st["connected"] != true {
		t.Errorf("unexpected status snapshot: %v", st)
	}

	// The early subscriber converged through broadcasts to the same collection.
	wpsEarly, _ := early.last(t)["data"].([]any)
	if len(wpsEarly) != 2 {
		t.Errorf("expected early subscriber to hold 2 waypoints, got %d", len(wpsEarly))
	}
}

// statusFailCodec encodes like JSON but refuses status frames.
type statusFailCodec struct{ wire.Codec }

func (statusFailCodec) Name() string { return "status-fail" }

func (c statusFailCodec) Encode(v any) ([]byte, error) {
	if env, ok := v.(wire.Envelope); ok && env.Type == wire.TypeStatus {
		return nil, errors.New("encode refused")
	}
	return c.Codec.Encode(v)
}

func TestPublishSkipsCodecGroupOnEncodeFailure(t *testing.T) {
	hub := newTestHub(state.NewStore())
	broken := newFake("broken", 0)
	healthy := newFake("healthy", 0)
	for _, s := range []*fakeSubscriber{broken, healthy} {
		if err := hub.Join(s); err != nil {
			t.Fatal(err)
		}
	}
	broken.codec = statusFailCodec{wire.JSON}

	hub.Publish(
		wire.NewEnvelope(wire.TypeTelemetry, state.Telemetry{Lat: 1}),
		wire.NewEnvelope(wire.TypeStatus, state.Status{Mode: "AUTO"}),
	)

	if got := broken.types(t); len(got) != 3 {
		t.Errorf("expected only the join snapshot for the failing codec, got %v", got)
	}
	want := []string{"telemetry", "waypoints", "status", "telemetry", "status"}
	if got := healthy.types(t); !equalTypes(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
