package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes events on approvals.<kind>.<action>.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal approval event: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.conn.Publish(Subject(e), data)
}

// Subject is the NATS subject an event is published on.
func Subject(e Event) string {
	return fmt.Sprintf("approvals.%s.%s", e.Kind, e.Action)
}
