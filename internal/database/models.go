package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/upkab/approval-api/internal/enum"
)

// Approvable is the approval state of one entity of any kind, joined with
// the data that selects its path variant. For invoices, UnitID, PaymentCode
// and RecipientCode come from the owning booking order.
type Approvable struct {
	Kind            enum.Kind
	ID              uuid.UUID
	UnitID          *uuid.UUID
	ApprovalStatus  enum.Status
	PathVariant     string
	SubmittedBy     *uuid.UUID
	SubmittedAt     *time.Time
	IsFullyApproved bool
	FullyApprovedBy *uuid.UUID
	FullyApprovedAt *time.Time
	PaymentCode     string
	RecipientCode   string
	HasRecipient    bool
	DocumentNumber  string
	TotalAmount     pgtype.Numeric
	ExpiredAt       *time.Time
	IsExpired       bool
}

// ApprovalLog is one immutable audit entry.
type ApprovalLog struct {
	ID             uuid.UUID
	Kind           enum.Kind
	EntityID       uuid.UUID
	PreviousStatus enum.Status
	ApprovalStatus enum.Status
	Action         string
	ActionBy       uuid.UUID
	RoleName       string
	ScopeUnitID    *uuid.UUID
	Notes          string
	CreatedAt      time.Time
}
