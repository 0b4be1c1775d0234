package scope

import (
	"github.com/google/uuid"
	"github.com/upkab/approval-api/internal/unit"
)

// Assignment is one role held by a user together with the units the role is
// directly scoped to. Authority extends to every descendant of those units.
type Assignment struct {
	Role  string      `json:"role"`
	Units []uuid.UUID `json:"units"`
}

// Authorizer answers scope questions against one hierarchy snapshot.
// It holds no mutable state and is safe for concurrent use.
type Authorizer struct {
	graph  *unit.Graph
	global map[string]struct{}
}

// NewAuthorizer creates an Authorizer. Roles listed in globalRoles skip the
// scope check entirely.
func NewAuthorizer(graph *unit.Graph, globalRoles ...string) *Authorizer {
	global := make(map[string]struct{}, len(globalRoles))
	for _, r := range globalRoles {
		global[r] = struct{}{}
	}
	return &Authorizer{graph: graph, global: global}
}

// IsGlobal reports whether role acts on every unit without a scope.
func (a *Authorizer) IsGlobal(role string) bool {
	_, ok := a.global[role]
	return ok
}

// IsAuthorized reports whether target lies within the descendant closure of
// the assignment's scoped units. An assignment with no units has no authority
// over any specific unit.
func (a *Authorizer) IsAuthorized(as Assignment, target uuid.UUID) bool {
	if len(as.Units) == 0 {
		return false
	}
	return a.graph.Closure(as.Units).Contains(target)
}

// FindAuthorizedRole walks assignments in order and returns the first role
// that is in required and either global or scoped over target. A nil target
// can only be satisfied by a global role.
func (a *Authorizer) FindAuthorizedRole(assignments []Assignment, required []string, target *uuid.UUID) (string, bool) {
	for _, as := range assignments {
		if !contains(required, as.Role) {
			continue
		}
		if a.IsGlobal(as.Role) {
			return as.Role, true
		}
		if target != nil && a.IsAuthorized(as, *target) {
			return as.Role, true
		}
	}
	return "", false
}

// CanObserve reports whether any assignment reaches target, used for read
// access such as live event feeds.
func (a *Authorizer) CanObserve(assignments []Assignment, target uuid.UUID) bool {
	for _, as := range assignments {
		if a.IsGlobal(as.Role) || a.IsAuthorized(as, target) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
