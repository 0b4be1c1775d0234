package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upkab/approval-api/internal/unit"
	"github.com/upkab/approval-api/internal/ws"
)

var errHubBusy = errors.New("websocket hub queue full")

// Broadcaster is satisfied by *ws.Hub.
type Broadcaster interface {
	BroadcastToUnit(unitID uuid.UUID, event ws.Event) bool
}

// Hierarchy is satisfied by *unit.Snapshotter.
type Hierarchy interface {
	Hierarchy(ctx context.Context) (*unit.Graph, error)
}

// HubPublisher forwards events to WebSocket clients watching the entity's
// unit or any of its ancestors.
type HubPublisher struct {
	hub   Broadcaster
	units Hierarchy
}

// NewHubPublisher creates a HubPublisher. A nil units delivers to the
// entity's own unit room only.
func NewHubPublisher(hub Broadcaster, units Hierarchy) *HubPublisher {
	return &HubPublisher{hub: hub, units: units}
}

func (p *HubPublisher) Name() string { return "websocket" }

func (p *HubPublisher) Publish(ctx context.Context, e Event) error {
	if e.UnitID == nil {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal approval event: %w", err)
	}
	msg := ws.Event{Type: e.Type, Payload: payload}

	rooms := []uuid.UUID{*e.UnitID}
	var hierErr error
	if p.units != nil {
		g, err := p.units.Hierarchy(ctx)
		if err != nil {
			hierErr = fmt.Errorf("ancestor rooms: %w", err)
		} else {
			rooms = append(rooms, g.Ancestors(*e.UnitID)...)
		}
	}

	busy := false
	for _, id := range rooms {
		if !p.hub.BroadcastToUnit(id, msg) {
			busy = true
		}
	}
	if busy {
		return errors.Join(errHubBusy, hierErr)
	}
	return hierErr
}
