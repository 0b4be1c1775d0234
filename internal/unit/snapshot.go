package unit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader reads the full unit list from its source of truth.
type Loader interface {
	LoadUnits(ctx context.Context) ([]Unit, error)
}

// Snapshotter caches a hierarchy Graph and reloads it once it is older than
// ttl. Callers therefore see scope data at most ttl stale. A failed reload is
// returned to the caller; the expired snapshot is not served.
type Snapshotter struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group

	mu       sync.RWMutex
	graph    *Graph
	loadedAt time.Time
}

// loadTimeout bounds a reload, which no longer follows the caller's
// cancellation once it is shared.
const loadTimeout = 10 * time.Second

// NewSnapshotter creates a Snapshotter. A ttl <= 0 reloads on every call.
func NewSnapshotter(loader Loader, ttl time.Duration) *Snapshotter {
	return &Snapshotter{loader: loader, ttl: ttl, now: time.Now}
}

// Hierarchy returns the current snapshot, reloading it if expired.
// Concurrent reloads are collapsed into one call to the Loader. The shared
// reload is detached from ctx, so a caller that gives up does not fail the
// others waiting on it.
func (s *Snapshotter) Hierarchy(ctx context.Context) (*Graph, error) {
	s.mu.RLock()
	g, at := s.graph, s.loadedAt
	s.mu.RUnlock()
	if g != nil && s.ttl > 0 && s.now().Sub(at) < s.ttl {
		return g, nil
	}

	v, err, _ := s.group.Do("hierarchy", func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		units, err := s.loader.LoadUnits(loadCtx)
		if err != nil {
			return nil, err
		}
		fresh := NewGraph(units)
		s.mu.Lock()
		s.graph = fresh
		s.loadedAt = s.now()
		s.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load unit hierarchy: %w", err)
	}
	return v.(*Graph), nil
}

// Invalidate drops the cached snapshot so the next call reloads it.
func (s *Snapshotter) Invalidate() {
	s.mu.Lock()
	s.graph = nil
	s.mu.Unlock()
}
