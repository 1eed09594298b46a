package correlation

import (
	"sync"
	"time"

	"github.com/drblury/replybridge/internal/runtime/protocol"
)

// Outcome is how a pending request ended.
type Outcome int

const (
	OutcomeResolved Outcome = iota + 1
	OutcomeCancelled
	OutcomeExpired
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeExpired:
		return "expired"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result carries the final state of a Pending. Response is set only for
// OutcomeResolved; Err is set for every other outcome.
type Result struct {
	Outcome  Outcome
	Response *protocol.Response
	Err      error
}

// Pending is the one-shot completion handle for an outstanding request.
type Pending struct {
	CorrelationID string
	TenantID      string
	CreatedAt     time.Time

	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	result Result

	// stop detaches the context hook; set under the registry lock.
	stop func() bool
}

func newPending(correlationID, tenantID string, now time.Time) *Pending {
	return &Pending{
		CorrelationID: correlationID,
		TenantID:      tenantID,
		CreatedAt:     now,
		done:          make(chan struct{}),
	}
}

// resolve completes the handle exactly once. Later calls are ignored.
func (p *Pending) resolve(res Result) {
	p.once.Do(func() {
		p.mu.Lock()
		p.result = res
		p.mu.Unlock()
		close(p.done)
	})
}

// Done is closed once the request reached its outcome.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the request is resolved, cancelled, expired or failed.
// The context given to Register bounds the wait.
func (p *Pending) Wait() Result {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Result returns the outcome without blocking. ok is false while pending.
func (p *Pending) Result() (res Result, ok bool) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.result, true
	default:
		return Result{}, false
	}
}
