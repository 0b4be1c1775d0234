package unit

import "github.com/google/uuid"

// Unit is a node in the organizational hierarchy. Root units have no parent.
type Unit struct {
	ID       uuid.UUID  `json:"id"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
	Name     string     `json:"name"`
}

// Set is a set of unit IDs.
type Set map[uuid.UUID]struct{}

// NewSet builds a Set from ids.
func NewSet(ids ...uuid.UUID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is in the set.
func (s Set) Contains(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in no particular order.
func (s Set) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// Graph is an immutable parent/child snapshot of the unit hierarchy.
// It is safe for concurrent use.
type Graph struct {
	children map[uuid.UUID][]uuid.UUID
	parent   map[uuid.UUID]uuid.UUID
	size     int
}

// NewGraph indexes units by parent.
func NewGraph(units []Unit) *Graph {
	g := &Graph{
		children: make(map[uuid.UUID][]uuid.UUID),
		parent:   make(map[uuid.UUID]uuid.UUID),
		size:     len(units),
	}
	for _, u := range units {
		if u.ParentID == nil {
			continue
		}
		g.children[*u.ParentID] = append(g.children[*u.ParentID], u.ID)
		g.parent[u.ID] = *u.ParentID
	}
	return g
}

// Ancestors returns the parent chain of id, nearest first, excluding id
// itself. The walk stops at a unit it has already visited.
func (g *Graph) Ancestors(id uuid.UUID) []uuid.UUID {
	if g == nil {
		return nil
	}
	var out []uuid.UUID
	seen := NewSet(id)
	for {
		p, ok := g.parent[id]
		if !ok || seen.Contains(p) {
			return out
		}
		seen[p] = struct{}{}
		out = append(out, p)
		id = p
	}
}

// Len returns the number of units in the snapshot.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return g.size
}

// Closure returns seeds plus every unit reachable by following parent->child
// edges. A unit is expanded at most once, so a cyclic parent relation still
// terminates. No seeds yields an empty set.
func (g *Graph) Closure(seeds []uuid.UUID) Set {
	out := NewSet(seeds...)
	if g == nil {
		return out
	}

	frontier := out.IDs()
	for len(frontier) > 0 {
		var next []uuid.UUID
		for _, id := range frontier {
			for _, child := range g.children[id] {
				if out.Contains(child) {
					continue
				}
				out[child] = struct{}{}
				next = append(next, child)
			}
		}
		frontier = next
	}
	return out
}
