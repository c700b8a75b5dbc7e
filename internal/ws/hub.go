package ws

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/state"
	"github.com/dgnsrekt/telemetry-relay/internal/wire"
)

var (
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrSubscriberSlow   = errors.New("subscriber send buffer full")
	ErrHubClosed        = errors.New("hub closed")
)

// Subscriber is one receiving end of the hub. Enqueue must never block.
type Subscriber interface {
	ID() string
	Codec() wire.Codec
	Enqueue(frame []byte) error
	Close()
}

// SnapshotFunc returns the pushes a new subscriber receives before anything else.
type SnapshotFunc func() []wire.Envelope

// Hub owns the subscriber set and serializes every state mutation with its
// broadcast, so subscribers observe pushes in commit order.
type Hub struct {
	name     string
	clients  map[string]Subscriber
	snapshot SnapshotFunc
	closed   bool
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(name string, snapshot SnapshotFunc, logger *zap.Logger) *Hub {
	return &Hub{
		name:     name,
		clients:  make(map[string]Subscriber),
		snapshot: snapshot,
		logger:   logger,
	}
}

// SnapshotOf returns a SnapshotFunc that pushes telemetry, waypoints and
// status from store, in that order.
func SnapshotOf(store *state.Store) SnapshotFunc {
	return func() []wire.Envelope {
		snap := store.Snapshot()
		return []wire.Envelope{
			wire.NewEnvelope(wire.TypeTelemetry, snap.Telemetry),
			wire.NewEnvelope(wire.TypeWaypoints, snap.Waypoints),
			wire.NewEnvelope(wire.TypeStatus, snap.Status),
		}
	}
}

// Run blocks until ctx is cancelled, then closes every subscriber.
// Call this in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.logger.Info("hub shutting down", zap.String("hub", h.name))
	h.shutdown()
}

// shutdown gracefully closes all subscriber connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, client := range h.clients {
		client.Close()
		delete(h.clients, id)
	}
}

// Join queues the current snapshot for sub and then adds it to the set.
// Both happen under the hub lock, so no commit can slip between them.
func (h *Hub) Join(sub Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	codec := sub.Codec()
	for _, env := range h.snapshot() {
		frame, err := codec.Encode(env)
		if err != nil {
			return err
		}
		if err := sub.Enqueue(frame); err != nil {
			return err
		}
	}

	h.clients[sub.ID()] = sub
	h.logger.Debug("client registered",
		zap.String("hub", h.name),
		zap.String("connID", sub.ID()),
		zap.String("codec", codec.Name()),
	)
	return nil
}

// Leave removes sub and closes it. Safe to call more than once.
func (h *Hub) Leave(sub Subscriber) {
	h.mu.Lock()
	_, ok := h.clients[sub.ID()]
	if ok {
		delete(h.clients, sub.ID())
	}
	h.mu.Unlock()

	sub.Close()
	if ok {
		h.logger.Debug("client unregistered",
			zap.String("hub", h.name),
			zap.String("connID", sub.ID()),
		)
	}
}

// Publish fans msgs out to every subscriber.
func (h *Hub) Publish(msgs ...wire.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(msgs)
}

// Commit runs fn and broadcasts the envelopes it returns under one lock.
// If fn returns an error nothing is broadcast.
func (h *Hub) Commit(fn func() ([]wire.Envelope, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs, err := fn()
	if err != nil {
		return err
	}
	h.publishLocked(msgs)
	return nil
}

// publishLocked must be called with h.mu held. Frames are encoded once per
// codec. A subscriber whose enqueue fails is dropped without affecting others.
func (h *Hub) publishLocked(msgs []wire.Envelope) {
	if len(msgs) == 0 || len(h.clients) == 0 {
		return
	}

	// Copy clients so failed subscribers can be removed while iterating
	clientList := make([]Subscriber, 0, len(h.clients))
	for _, client := range h.clients {
		clientList = append(clientList, client)
	}

	frames := make(map[string][][]byte)
	for _, client := range clientList {
		codec := client.Codec()
		encoded, ok := frames[codec.Name()]
		if !ok {
			encoded = make([][]byte, 0, len(msgs))
			for _, env := range msgs {
				frame, err := codec.Encode(env)
				if err != nil {
					// A codec group receives every envelope of msgs or none of them.
					h.logger.Error("failed to encode frame, skipping publish for codec",
						zap.String("hub", h.name),
						zap.String("codec", codec.Name()),
						zap.String("type", env.Type),
						zap.Error(err),
					)
					encoded = nil
					break
				}
				encoded = append(encoded, frame)
			}
			frames[codec.Name()] = encoded
		}

		for _, frame := range encoded {
			if err := client.Enqueue(frame); err != nil {
				h.logger.Debug("dropping subscriber",
					zap.String("hub", h.name),
					zap.String("connID", client.ID()),
					zap.Error(err),
				)
				delete(h.clients, client.ID())
				client.Close()
				break
			}
		}
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
