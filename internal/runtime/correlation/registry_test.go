package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/protocol"
)

func response(id, tenant string) *protocol.Response {
	return &protocol.Response{Kind: protocol.KindResponse, CorrelationID: id, TenantID: tenant}
}

func waitResult(t *testing.T, p *Pending) Result {
	t.Helper()
	select {
	case <-p.Done():
		return p.Wait()
	case <-time.After(2 * time.Second):
		t.Fatalf("pending %s never completed", p.CorrelationID)
		return Result{}
	}
}

func TestRegisterAndComplete(t *testing.T) {
	reg := NewRegistry(0)
	p, err := reg.Register(context.Background(), "c1", "contoso")
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	_, done := p.Result()
	assert.False(t, done)

	resp := response("c1", "contoso")
	require.NoError(t, reg.Complete("c1", resp))

	res := waitResult(t, p)
	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Same(t, resp, res.Response)
	assert.NoError(t, res.Err)
	assert.Zero(t, reg.Len())
}

func TestRegisterValidatesArguments(t *testing.T) {
	reg := NewRegistry(0)
	_, err := reg.Register(context.Background(), "", "contoso")
	assert.ErrorIs(t, err, errspkg.ErrCorrelationIDRequired)
	_, err = reg.Register(context.Background(), "c1", "")
	assert.ErrorIs(t, err, errspkg.ErrTenantRequired)
}

func TestRegisterDuplicateKeepsOriginal(t *testing.T) {
	reg := NewRegistry(0)
	first, err := reg.Register(context.Background(), "c1", "contoso")
	require.NoError(t, err)

	_, err = reg.Register(context.Background(), "c1", "contoso")
	require.ErrorIs(t, err, errspkg.ErrDuplicateCorrelation)
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, reg.Complete("c1", response("c1", "contoso")))
	assert.Equal(t, OutcomeResolved, waitResult(t, first).Outcome)
}

func TestRegisterRespectsBound(t *testing.T) {
	reg := NewRegistry(2)
	for i := range 2 {
		_, err := reg.Register(context.Background(), fmt.Sprintf("c%d", i), "contoso")
		require.NoError(t, err)
	}

	_, err := reg.Register(context.Background(), "overflow", "contoso")
	assert.ErrorIs(t, err, errspkg.ErrRegistryFull)

	assert.True(t, reg.Cancel("c0"))
	_, err = reg.Register(context.Background(), "overflow", "contoso")
	assert.NoError(t, err)
}

func TestCompleteUnmatched(t *testing.T) {
	reg := NewRegistry(0)
	err := reg.Complete("missing", response("missing", "contoso"))
	assert.ErrorIs(t, err, errspkg.ErrUnmatchedCorrelation)
	assert.ErrorIs(t, reg.Complete("missing", nil), errspkg.ErrResponseRequired)
}

func TestUnmatchedDoesNotBlockMatched(t *testing.T) {
	reg := NewRegistry(0)
	p, err := reg.Register(context.Background(), "c1", "contoso")
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Complete("stray", response("stray", "contoso")), errspkg.ErrUnmatchedCorrelation)
	require.NoError(t, reg.Complete("c1", response("c1", "contoso")))
	assert.Equal(t, OutcomeResolved, waitResult(t, p).Outcome)
}

func TestCompleteTenantMismatchLeavesPending(t *testing.T) {
	reg := NewRegistry(0)
	p, err := reg.Register(context.Background(), "c1", "contoso")
	require.NoError(t, err)

	err = reg.Complete("c1", response("c1", "northwind"))
	assert.ErrorIs(t, err, errspkg.ErrUnmatchedCorrelation)
	assert.ErrorIs(t, err, errspkg.ErrTenantMismatch)
	assert.Equal(t, 1, reg.Len())
	_, done := p.Result()
	assert.False(t, done)

	require.NoError(t, reg.Complete("c1", response("c1", "contoso")))
	assert.Equal(t, OutcomeResolved, waitResult(t, p).Outcome)
}

func TestDuplicateCompleteResolvesOnce(t *testing.T) {
	reg := NewRegistry(0)
	p, err := reg.Register(context.Background(), "c1", "contoso")
	require.NoError(t, err)

	first := response("c1", "contoso")
	require.NoError(t, reg.Complete("c1", first))
	assert.ErrorIs(t, reg.Complete("c1", response("c1", "contoso")), errspkg.ErrUnmatchedCorrelation)
	assert.Same(t, first, waitResult(t, p).Response)
}

func TestContextCancellationCancels(t *testing.T) {
	reg := NewRegistry(0)
	ctx, cancel := context.WithCancel(context.Background())
	p, err := reg.Register(ctx, "c1", "contoso")
	require.NoError(t, err)

	cancel()
	res := waitResult(t, p)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.ErrorIs(t, res.Err, errspkg.ErrCancelled)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, reg.Len())

	assert.ErrorIs(t, reg.Complete("c1", response("c1", "contoso")), errspkg.ErrUnmatchedCorrelation)
}

func TestContextDeadlineExpires(t *testing.T) {
	reg := NewRegistry(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p, err := reg.Register(ctx, "c1", "contoso")
	require.NoError(t, err)

	res := waitResult(t, p)
	assert.Equal(t, OutcomeExpired, res.Outcome)
	assert.ErrorIs(t, res.Err, errspkg.ErrExpired)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Zero(t, reg.Len())
}

func TestRegisterWithDoneContext(t *testing.T) {
	reg := NewRegistry(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := reg.Register(ctx, "c1", "contoso")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, waitResult(t, p).Outcome)
}

func TestExplicitCancelExpireFail(t *testing.T) {
	reg := NewRegistry(0)

	a, _ := reg.Register(context.Background(), "a", "contoso")
	b, _ := reg.Register(context.Background(), "b", "contoso")
	c, _ := reg.Register(context.Background(), "c", "contoso")

	assert.True(t, reg.Cancel("a"))
	assert.False(t, reg.Cancel("a"))
	assert.True(t, reg.Expire("b"))
	publishErr := errors.New("broker down")
	assert.True(t, reg.Fail(c, publishErr))
	assert.False(t, reg.Fail(c, publishErr))
	assert.False(t, reg.Fail(nil, publishErr))

	assert.Equal(t, OutcomeCancelled, waitResult(t, a).Outcome)
	assert.Equal(t, OutcomeExpired, waitResult(t, b).Outcome)
	res := waitResult(t, c)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, publishErr)
	assert.Zero(t, reg.Len())
}

func TestStaleHandleDoesNotRemoveReusedID(t *testing.T) {
	reg := NewRegistry(0)
	old, err := reg.Register(context.Background(), "c1", "contoso")
	require.NoError(t, err)
	require.True(t, reg.Cancel("c1"))

	fresh, err := reg.Register(context.Background(), "c1", "contoso")
	require.NoError(t, err)

	assert.False(t, reg.Fail(old, errors.New("late")))
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, reg.Complete("c1", response("c1", "contoso")))
	assert.Equal(t, OutcomeResolved, waitResult(t, fresh).Outcome)
}

func TestCompletedEntryIgnoresLaterContextCancel(t *testing.T) {
	reg := NewRegistry(0)
	ctx, cancel := context.WithCancel(context.Background())
	p, err := reg.Register(ctx, "c1", "contoso")
	require.NoError(t, err)

	require.NoError(t, reg.Complete("c1", response("c1", "contoso")))
	cancel()

	assert.Equal(t, OutcomeResolved, waitResult(t, p).Outcome)
}

func TestConcurrentRegisterAndComplete(t *testing.T) {
	reg := NewRegistry(0)
	const n = 200

	var wg sync.WaitGroup
	results := make([]Result, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			p, err := reg.Register(context.Background(), id, "contoso")
			if !assert.NoError(t, err) {
				return
			}
			go func() { _ = reg.Complete(id, response(id, "contoso")) }()
			results[i] = p.Wait()
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		assert.Equal(t, OutcomeResolved, res.Outcome, "request %d", i)
	}
	assert.Zero(t, reg.Len())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "resolved", OutcomeResolved.String())
	assert.Equal(t, "cancelled", OutcomeCancelled.String())
	assert.Equal(t, "expired", OutcomeExpired.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
