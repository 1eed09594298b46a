package routing

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
)

// MemoryTable keeps routes in process memory.
type MemoryTable struct {
	mu        sync.Mutex
	routes    map[string]Route
	maxRoutes int
}

// NewMemoryTable creates a table holding at most maxRoutes entries
// (maxRoutes <= 0 means unbounded).
func NewMemoryTable(maxRoutes int) *MemoryTable {
	return &MemoryTable{
		routes:    make(map[string]Route),
		maxRoutes: maxRoutes,
	}
}

func (t *MemoryTable) Record(_ context.Context, r Route) error {
	if r.CorrelationID == "" {
		return errspkg.ErrCorrelationIDRequired
	}
	r.Partitions = slices.Clone(r.Partitions)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.routes[r.CorrelationID]; !exists && t.maxRoutes > 0 && len(t.routes) >= t.maxRoutes {
		return fmt.Errorf("%w: limit %d", errspkg.ErrRouteTableFull, t.maxRoutes)
	}
	t.routes[r.CorrelationID] = r
	return nil
}

func (t *MemoryTable) Take(_ context.Context, correlationID string) (Route, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.routes[correlationID]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", errspkg.ErrNoRouteForCorrelation, correlationID)
	}
	delete(t.routes, correlationID)
	return r, nil
}

// Restore ignores the size bound; the slot was held until the matching Take.
// A route recorded again in the meantime wins.
func (t *MemoryTable) Restore(_ context.Context, r Route) error {
	if r.CorrelationID == "" {
		return errspkg.ErrCorrelationIDRequired
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.routes[r.CorrelationID]; !exists {
		t.routes[r.CorrelationID] = r
	}
	return nil
}

func (t *MemoryTable) Sweep(_ context.Context, olderThan time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, r := range t.routes {
		if r.ReceivedAt.Before(olderThan) {
			delete(t.routes, id)
			removed++
		}
	}
	return removed, nil
}

func (t *MemoryTable) Len(context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.routes), nil
}
