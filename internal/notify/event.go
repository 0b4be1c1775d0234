package notify

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/upkab/approval-api/internal/enum"
)

// Event describes one committed workflow transition.
type Event struct {
	Type        string           `json:"type"`
	Kind        enum.Kind        `json:"kind"`
	EntityID    uuid.UUID        `json:"entity_id"`
	UnitID      *uuid.UUID       `json:"unit_id,omitempty"`
	FromStatus  enum.Status      `json:"from_status"`
	Status      enum.Status      `json:"status"`
	Action      string           `json:"action"`
	ActorID     uuid.UUID        `json:"actor_id"`
	Role        string           `json:"role"`
	Terminal    bool             `json:"terminal"`
	Number      string           `json:"number,omitempty"`
	TotalAmount *decimal.Decimal `json:"total_amount,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	At          time.Time        `json:"at"`
}

// EventType names the event of an action, e.g. "approval.approve".
func EventType(action string) string {
	return "approval." + action
}
