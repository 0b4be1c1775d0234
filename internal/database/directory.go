package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/upkab/approval-api/internal/scope"
	"github.com/upkab/approval-api/internal/unit"
)

// GetRoleAssignments returns the roles of a user with their directly scoped
// units, ordered by priority then role name. That order decides which role
// is recorded when several could authorize the same action.
func (q *Queries) GetRoleAssignments(ctx context.Context, userID uuid.UUID) ([]scope.Assignment, error) {
	rows, err := q.db.Query(ctx, `
		SELECT ur.role_name,
		       COALESCE(array_agg(s.unit_id::text ORDER BY s.unit_id) FILTER (WHERE s.unit_id IS NOT NULL), '{}')
		FROM user_roles ur
		LEFT JOIN user_role_scopes s ON s.user_role_id = ur.id
		WHERE ur.user_id = $1
		GROUP BY ur.id, ur.role_name, ur.priority
		ORDER BY ur.priority, ur.role_name`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (scope.Assignment, error) {
		var as scope.Assignment
		var units []string
		if err := row.Scan(&as.Role, &units); err != nil {
			return as, err
		}
		for _, u := range units {
			id, err := uuid.Parse(u)
			if err != nil {
				return as, fmt.Errorf("parse scoped unit %q: %w", u, err)
			}
			as.Units = append(as.Units, id)
		}
		return as, nil
	})
}

// GetSystemPrincipal returns the user recorded as actor for system actions.
func (q *Queries) GetSystemPrincipal(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx,
		`SELECT id FROM users WHERE is_system ORDER BY created_at LIMIT 1`).Scan(&id)
	return id, err
}

// LoadUnits returns the whole unit tree.
func (q *Queries) LoadUnits(ctx context.Context) ([]unit.Unit, error) {
	rows, err := q.db.Query(ctx, `SELECT id, parent_id, name FROM units`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (unit.Unit, error) {
		var u unit.Unit
		err := row.Scan(&u.ID, &u.ParentID, &u.Name)
		return u, err
	})
}
