package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// unitEvent routes an event to the room of one unit
type unitEvent struct {
	UnitID uuid.UUID
	Event  Event
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients by unit ID
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// Outbound messages to broadcast
	broadcast chan *unitEvent

	// Closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *unitEvent, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done.
// This should be called as a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.unitID] == nil {
				h.rooms[client.unitID] = make(map[*Client]bool)
			}
			h.rooms[client.unitID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			message, err := json.Marshal(event.Event)
			if err != nil {
				continue
			}

			h.mu.Lock()
			for client := range h.rooms[event.UnitID] {
				select {
				case client.send <- message:
				default:
					// Slow consumer: drop it rather than block the hub
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove closes a client's send channel and deletes empty rooms.
// Caller holds h.mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.rooms[client.unitID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.unitID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.rooms {
		for client := range clients {
			h.remove(client)
		}
	}
}

// BroadcastToUnit queues an event for every client watching unitID.
// It never blocks: when the queue is full the event is dropped and false is
// returned.
func (h *Hub) BroadcastToUnit(unitID uuid.UUID, event Event) bool {
	select {
	case h.broadcast <- &unitEvent{UnitID: unitID, Event: event}:
		return true
	default:
		return false
	}
}
