// Package routing remembers, per correlation id, which partitions a reply
// must be published to. The client broker records a route when a command
// arrives and takes it when the reply goes out.
package routing

import (
	"context"
	"time"
)

// Route is the reply destination learned from a command.
type Route struct {
	CorrelationID string    `json:"correlationId"`
	TenantID      string    `json:"tenantId"`
	Partitions    []string  `json:"partitions"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// Table stores routes. Implementations are safe for concurrent use.
type Table interface {
	// Record stores r, replacing any route already held for its id.
	Record(ctx context.Context, r Route) error
	// Take removes and returns the route for correlationID. A missing route
	// yields ErrNoRouteForCorrelation.
	Take(ctx context.Context, correlationID string) (Route, error)
	// Restore puts back a route taken by a publish that then failed.
	Restore(ctx context.Context, r Route) error
	// Sweep drops routes received before olderThan and reports how many.
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
	Len(ctx context.Context) (int, error)
}
