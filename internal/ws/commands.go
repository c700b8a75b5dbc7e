package ws

import (
	"go.uber.org/zap"

	"github.com/dgnsrekt/telemetry-relay/internal/state"
	"github.com/dgnsrekt/telemetry-relay/internal/wire"
)

// CommandChannel applies waypoint commands to the store and broadcasts the
// resulting collection. It serves both websocket frames and the REST API.
type CommandChannel struct {
	store  *state.Store
	hub    *Hub
	logger *zap.Logger
}

// NewCommandChannel creates a new CommandChannel.
func NewCommandChannel(store *state.Store, hub *Hub, logger *zap.Logger) *CommandChannel {
	return &CommandChannel{store: store, hub: hub, logger: logger}
}

// AddWaypoint inserts a waypoint and broadcasts the full collection.
func (c *CommandChannel) AddWaypoint(spec state.WaypointSpec) (state.Waypoint, error) {
	var created state.Waypoint
	err := c.hub.Commit(func() ([]wire.Envelope, error) {
		wp, err := c.store.InsertWaypoint(spec)
		if err != nil {
			return nil, err
		}
		created = wp
		return []wire.Envelope{wire.NewEnvelope(wire.TypeWaypoints, c.store.Waypoints())}, nil
	})
	if err != nil {
		return state.Waypoint{}, err
	}

	c.logger.Info("waypoint added",
		zap.String("id", created.ID),
		zap.String("name", created.Name),
	)
	return created, nil
}

// RemoveWaypoint deletes a waypoint and broadcasts the full collection.
// An unknown id returns state.ErrNotFound and broadcasts nothing.
func (c *CommandChannel) RemoveWaypoint(id string) error {
	err := c.hub.Commit(func() ([]wire.Envelope, error) {
		if !c.store.RemoveWaypoint(id) {
			return nil, state.ErrNotFound
		}
		return []wire.Envelope{wire.NewEnvelope(wire.TypeWaypoints, c.store.Waypoints())}, nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("waypoint removed", zap.String("id", id))
	return nil
}

// Dispatch implements Dispatcher. Invalid commands are dropped and logged;
// the sender gets no reply.
func (c *CommandChannel) Dispatch(connID string, msg map[string]any) {
	cmd, err := wire.ParseCommand(msg)
	if err != nil {
		c.logger.Warn("dropping command",
			zap.String("connID", connID),
			zap.Error(err),
		)
		return
	}

	switch m := cmd.(type) {
	case *wire.AddWaypoint:
		if _, err := c.AddWaypoint(m.Spec); err != nil {
			c.logger.Warn("addWaypoint rejected",
				zap.String("connID", connID),
				zap.Error(err),
			)
		}

	case *wire.RemoveWaypoint:
		if err := c.RemoveWaypoint(m.ID); err != nil {
			c.logger.Debug("removeWaypoint ignored",
				zap.String("connID", connID),
				zap.String("id", m.ID),
				zap.Error(err),
			)
		}
	}
}
