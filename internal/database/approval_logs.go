package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/upkab/approval-api/internal/enum"
)

// CreateApprovalLogParams is one audit entry to append.
type CreateApprovalLogParams struct {
	Kind           enum.Kind
	EntityID       uuid.UUID
	PreviousStatus enum.Status
	ApprovalStatus enum.Status
	Action         string
	ActionBy       uuid.UUID
	RoleName       string
	ScopeUnitID    *uuid.UUID
	Notes          string
}

// CreateApprovalLog appends an audit entry. approval_logs rejects UPDATE and
// DELETE through a trigger, so this is the only write.
func (q *Queries) CreateApprovalLog(ctx context.Context, arg CreateApprovalLogParams) (ApprovalLog, error) {
	l := ApprovalLog{
		Kind:           arg.Kind,
		EntityID:       arg.EntityID,
		PreviousStatus: arg.PreviousStatus,
		ApprovalStatus: arg.ApprovalStatus,
		Action:         arg.Action,
		ActionBy:       arg.ActionBy,
		RoleName:       arg.RoleName,
		ScopeUnitID:    arg.ScopeUnitID,
		Notes:          arg.Notes,
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO approval_logs
		    (workflow_kind, entity_id, previous_status, approval_status,
		     action, action_by, role_name, scope_unit_id, notes)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		string(arg.Kind),
		arg.EntityID,
		string(arg.PreviousStatus),
		string(arg.ApprovalStatus),
		arg.Action,
		arg.ActionBy,
		arg.RoleName,
		arg.ScopeUnitID,
		arg.Notes,
	).Scan(&l.ID, &l.CreatedAt)
	return l, err
}

// ListApprovalLogsParams selects the trail of one entity.
type ListApprovalLogsParams struct {
	Kind     enum.Kind
	EntityID uuid.UUID
}

// ListApprovalLogs returns the audit trail of one entity oldest-first.
func (q *Queries) ListApprovalLogs(ctx context.Context, arg ListApprovalLogsParams) ([]ApprovalLog, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, workflow_kind, entity_id, COALESCE(previous_status, ''), approval_status,
		       action, action_by, role_name, scope_unit_id, notes, created_at
		FROM approval_logs
		WHERE workflow_kind = $1 AND entity_id = $2
		ORDER BY created_at, id`, string(arg.Kind), arg.EntityID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ApprovalLog, error) {
		var l ApprovalLog
		var kind, prev, status string
		err := row.Scan(
			&l.ID,
			&kind,
			&l.EntityID,
			&prev,
			&status,
			&l.Action,
			&l.ActionBy,
			&l.RoleName,
			&l.ScopeUnitID,
			&l.Notes,
			&l.CreatedAt,
		)
		l.Kind = enum.Kind(kind)
		l.PreviousStatus = enum.Status(prev)
		l.ApprovalStatus = enum.Status(status)
		return l, err
	})
}
