package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/upkab/approval-api/internal/database"
	"github.com/upkab/approval-api/internal/enum"
	"github.com/upkab/approval-api/internal/workflow"
)

// Progress is an entity together with its projected position on its path.
type Progress struct {
	Entity     database.Approvable
	Projection workflow.Projection
}

// Permissions lists what one user may do to one entity right now. Each
// capability is decided by the same checks the transition itself runs.
type Permissions struct {
	Status      enum.Status `json:"status"`
	CanSubmit   bool        `json:"can_submit"`
	SubmitRole  string      `json:"submit_role,omitempty"`
	CanApprove  bool        `json:"can_approve"`
	ApproveRole string      `json:"approve_role,omitempty"`
	CanReject   bool        `json:"can_reject"`
	RejectRole  string      `json:"reject_role,omitempty"`
	CanCancel   bool        `json:"can_cancel"`
	CancelRole  string      `json:"cancel_role,omitempty"`
}

// Progress returns the step projection of an entity the user can observe.
func (s *ApprovalService) Progress(ctx context.Context, kind enum.Kind, id, userID uuid.UUID) (*Progress, error) {
	def, cur, _, err := s.observed(ctx, kind, id, userID)
	if err != nil {
		return nil, err
	}
	return &Progress{
		Entity: cur,
		Projection: def.Project(workflow.Snapshot{
			Status:      cur.ApprovalStatus,
			SubmittedAt: cur.SubmittedAt,
			Context:     contextOf(cur),
		}),
	}, nil
}

// Permissions evaluates Submit, Approve, Reject and Cancel for userID
// without writing anything.
func (s *ApprovalService) Permissions(ctx context.Context, kind enum.Kind, id, userID uuid.UUID) (*Permissions, error) {
	def, cur, who, err := s.observed(ctx, kind, id, userID)
	if err != nil {
		return nil, err
	}

	p := &Permissions{Status: cur.ApprovalStatus}
	if ch, err := planSubmit(def, cur, who); err == nil {
		p.CanSubmit, p.SubmitRole = true, ch.role
	}
	if ch, err := planApprove(def, cur, who); err == nil {
		p.CanApprove, p.ApproveRole = true, ch.role
	}
	if ch, err := planReject(def, cur, who); err == nil {
		p.CanReject, p.RejectRole = true, ch.role
	}
	if ch, err := planCancel(def, cur, who); err == nil {
		p.CanCancel, p.CancelRole = true, ch.role
	}
	return p, nil
}

// ListLogs returns the audit trail of an entity the user can observe,
// oldest first.
func (s *ApprovalService) ListLogs(ctx context.Context, kind enum.Kind, id, userID uuid.UUID) ([]database.ApprovalLog, error) {
	if _, _, _, err := s.observed(ctx, kind, id, userID); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %w", ErrDependencyUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	logs, err := s.newStore(tx).ListApprovalLogs(ctx, database.ListApprovalLogsParams{Kind: kind, EntityID: id})
	if err != nil {
		return nil, fmt.Errorf("%w: list audit log: %w", ErrDependencyUnavailable, err)
	}
	return logs, nil
}

// CanObserveUnit reports whether userID holds any role reaching unitID.
// Used to gate the live event feed of a unit.
func (s *ApprovalService) CanObserveUnit(ctx context.Context, userID, unitID uuid.UUID) (bool, error) {
	who, err := s.resolveActor(ctx, userID)
	if err != nil {
		return false, err
	}
	return who.authz.CanObserve(who.assignments, unitID), nil
}

// observed loads an entity in a read-only transaction and checks the user
// can see it. Entities without a unit are visible to global roles only.
func (s *ApprovalService) observed(ctx context.Context, kind enum.Kind, id, userID uuid.UUID) (*workflow.Definition, database.Approvable, actor, error) {
	def, ok := workflow.For(kind)
	if !ok {
		return nil, database.Approvable{}, actor{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	who, err := s.resolveActor(ctx, userID)
	if err != nil {
		return nil, database.Approvable{}, actor{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, database.Approvable{}, actor{}, fmt.Errorf("%w: begin tx: %w", ErrDependencyUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cur, err := s.newStore(tx).GetApprovable(ctx, kind, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.Approvable{}, actor{}, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
		}
		return nil, database.Approvable{}, actor{}, fmt.Errorf("%w: load entity: %w", ErrDependencyUnavailable, err)
	}

	if !canSee(who, cur.UnitID) {
		return nil, database.Approvable{}, actor{}, fmt.Errorf("%w: %s %s is outside your units", ErrUnauthorized, kind, id)
	}
	return def, cur, who, nil
}

func canSee(who actor, unitID *uuid.UUID) bool {
	if unitID != nil {
		return who.authz.CanObserve(who.assignments, *unitID)
	}
	for _, as := range who.assignments {
		if who.authz.IsGlobal(as.Role) {
			return true
		}
	}
	return false
}

// CanSubmit reports whether userID may submit the entity and the role that
// would be recorded.
func (s *ApprovalService) CanSubmit(ctx context.Context, kind enum.Kind, id, userID uuid.UUID) (string, bool, error) {
	p, err := s.Permissions(ctx, kind, id, userID)
	if err != nil {
		return "", false, err
	}
	return p.SubmitRole, p.CanSubmit, nil
}

// CanApprove reports whether userID may approve the entity. The same role
// may reject it.
func (s *ApprovalService) CanApprove(ctx context.Context, kind enum.Kind, id, userID uuid.UUID) (string, bool, error) {
	p, err := s.Permissions(ctx, kind, id, userID)
	if err != nil {
		return "", false, err
	}
	return p.ApproveRole, p.CanApprove, nil
}

func (s *ApprovalService) CanCancel(ctx context.Context, kind enum.Kind, id, userID uuid.UUID) (string, bool, error) {
	p, err := s.Permissions(ctx, kind, id, userID)
	if err != nil {
		return "", false, err
	}
	return p.CancelRole, p.CanCancel, nil
}
