// Package correlation tracks requests that are waiting for a reply, keyed by
// correlation id.
//
// Each entry is removed exactly once: by the matching response, by its
// context ending, or by an explicit Cancel, Expire or Fail. Whichever happens
// first wins and every later attempt sees the id as unmatched.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/protocol"
)

// Registry is safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	entries    map[string]*Pending
	maxPending int
	now        func() time.Time
}

// NewRegistry creates a registry. maxPending <= 0 means unbounded.
func NewRegistry(maxPending int) *Registry {
	return &Registry{
		entries:    make(map[string]*Pending),
		maxPending: maxPending,
		now:        time.Now,
	}
}

// Register adds a pending entry bound to ctx. When ctx ends before a reply
// arrives the entry expires (deadline) or is cancelled (anything else).
func (r *Registry) Register(ctx context.Context, correlationID, tenantID string) (*Pending, error) {
	if correlationID == "" {
		return nil, errspkg.ErrCorrelationIDRequired
	}
	if tenantID == "" {
		return nil, errspkg.ErrTenantRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[correlationID]; exists {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrDuplicateCorrelation, correlationID)
	}
	if r.maxPending > 0 && len(r.entries) >= r.maxPending {
		return nil, fmt.Errorf("%w: limit %d", errspkg.ErrRegistryFull, r.maxPending)
	}

	p := newPending(correlationID, tenantID, r.now())
	r.entries[correlationID] = p
	// the hook runs on its own goroutine, so taking r.mu there is safe
	p.stop = context.AfterFunc(ctx, func() {
		r.onContextDone(ctx, p)
	})
	return p, nil
}

func (r *Registry) onContextDone(ctx context.Context, p *Pending) {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		r.finish(p, Result{Outcome: OutcomeExpired, Err: fmt.Errorf("%w: %w", errspkg.ErrExpired, err)})
		return
	}
	r.finish(p, Result{Outcome: OutcomeCancelled, Err: fmt.Errorf("%w: %w", errspkg.ErrCancelled, err)})
}

// Complete resolves the entry for correlationID with resp. A response whose
// tenant differs from the registered one leaves the entry pending.
func (r *Registry) Complete(correlationID string, resp *protocol.Response) error {
	if resp == nil {
		return errspkg.ErrResponseRequired
	}

	r.mu.Lock()
	p, ok := r.entries[correlationID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", errspkg.ErrUnmatchedCorrelation, correlationID)
	}
	if p.TenantID != resp.TenantID {
		r.mu.Unlock()
		return fmt.Errorf("%w: %w: %s registered for %q, response from %q",
			errspkg.ErrUnmatchedCorrelation, errspkg.ErrTenantMismatch, correlationID, p.TenantID, resp.TenantID)
	}
	delete(r.entries, correlationID)
	r.mu.Unlock()

	p.stop()
	p.resolve(Result{Outcome: OutcomeResolved, Response: resp})
	return nil
}

// Cancel removes the entry with a cancellation outcome. It reports whether
// an entry was removed.
func (r *Registry) Cancel(correlationID string) bool {
	return r.finishID(correlationID, Result{Outcome: OutcomeCancelled, Err: errspkg.ErrCancelled})
}

// Expire removes the entry with an expiry outcome.
func (r *Registry) Expire(correlationID string) bool {
	return r.finishID(correlationID, Result{Outcome: OutcomeExpired, Err: errspkg.ErrExpired})
}

// Fail removes p after its command could not be published.
func (r *Registry) Fail(p *Pending, err error) bool {
	if p == nil {
		return false
	}
	return r.finish(p, Result{Outcome: OutcomeFailed, Err: err})
}

// Len reports how many requests are outstanding.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) finishID(correlationID string, res Result) bool {
	r.mu.Lock()
	p, ok := r.entries[correlationID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.finish(p, res)
}

// finish removes p only if it is still the live entry for its id, so a stale
// hook cannot evict a newer request that reused the id.
func (r *Registry) finish(p *Pending, res Result) bool {
	r.mu.Lock()
	current, ok := r.entries[p.CorrelationID]
	if !ok || current != p {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, p.CorrelationID)
	r.mu.Unlock()

	if p.stop != nil {
		p.stop()
	}
	p.resolve(res)
	return true
}
