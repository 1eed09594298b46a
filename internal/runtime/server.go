package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/replybridge/internal/runtime/correlation"
	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	"github.com/drblury/replybridge/internal/runtime/protocol"
	"github.com/drblury/replybridge/transport"
)

const responsesConsumerName = "replybridge-responses"

// ServerBroker sends commands to tenant channels and blocks each caller
// until the matching response arrives on the shared responses channel.
type ServerBroker struct {
	svc      *Service
	registry *correlation.Registry
	logger   loggingpkg.ServiceLogger

	tenantsMu sync.RWMutex
	tenants   map[string]struct{}
}

// NewServerBroker registers the responses consumer on svc. Tenants come
// from the Tenants config and can be changed later with AddTenant and
// RemoveTenant.
func NewServerBroker(svc *Service) (*ServerBroker, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}

	b := &ServerBroker{
		svc:      svc,
		registry: correlation.NewRegistry(svc.Conf.MaxPendingRequests),
		logger:   svc.Logger.With(loggingpkg.LogFields{"component": "server_broker"}),
		tenants:  make(map[string]struct{}, len(svc.Conf.Tenants)),
	}
	for _, tenant := range svc.Conf.Tenants {
		b.tenants[strings.TrimSpace(tenant)] = struct{}{}
	}

	if err := svc.RegisterConsumer(ConsumerRegistration{
		Name:         responsesConsumerName,
		ConsumeQueue: protocol.ResponseChannel,
		Handler:      b.handleResponse,
	}); err != nil {
		return nil, err
	}
	svc.RegisterHealthCheck("pending_requests", func(context.Context) (any, error) {
		return b.registry.Len(), nil
	})

	return b, nil
}

// AddTenant allows commands to be sent to tenantID. Surrounding whitespace
// is trimmed.
func (b *ServerBroker) AddTenant(tenantID string) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return errspkg.ErrTenantRequired
	}
	b.tenantsMu.Lock()
	defer b.tenantsMu.Unlock()
	b.tenants[tenantID] = struct{}{}
	return nil
}

// RemoveTenant stops new commands to tenantID. Requests already pending
// still resolve.
func (b *ServerBroker) RemoveTenant(tenantID string) {
	b.tenantsMu.Lock()
	defer b.tenantsMu.Unlock()
	delete(b.tenants, strings.TrimSpace(tenantID))
}

// Tenants lists the known tenants in sorted order.
func (b *ServerBroker) Tenants() []string {
	b.tenantsMu.RLock()
	defer b.tenantsMu.RUnlock()
	out := make([]string, 0, len(b.tenants))
	for tenant := range b.tenants {
		out = append(out, tenant)
	}
	slices.Sort(out)
	return out
}

func (b *ServerBroker) hasTenant(tenantID string) bool {
	b.tenantsMu.RLock()
	defer b.tenantsMu.RUnlock()
	_, ok := b.tenants[tenantID]
	return ok
}

// Pending reports how many requests are waiting for a response.
func (b *ServerBroker) Pending() int {
	return b.registry.Len()
}

// Start runs the underlying service.
func (b *ServerBroker) Start(ctx context.Context) error {
	return b.svc.Start(ctx)
}

// SendCommand publishes cmd to its tenant's command channel and waits for
// the response. ctx bounds the wait; without a deadline CommandTimeout
// applies. Cancellation returns an error wrapping ErrCancelled, a deadline
// ErrExpired.
func (b *ServerBroker) SendCommand(ctx context.Context, cmd *protocol.Command) (*protocol.Response, error) {
	if cmd == nil {
		return nil, errspkg.ErrCommandRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !b.hasTenant(cmd.TenantID) {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownTenant, cmd.TenantID)
	}
	if cmd.CorrelationID == "" {
		return nil, errspkg.ErrCorrelationIDRequired
	}
	if cmd.CommandName == "" {
		return nil, errspkg.ErrCommandNameRequired
	}

	out := *cmd
	out.ReplyPartitionHints = slices.Clone(cmd.ReplyPartitionHints)
	if len(out.ReplyPartitionHints) == 0 {
		out.ReplyPartitionHints = slices.Clone(b.svc.Conf.ResponsePartitions)
	}
	if out.SentAt.IsZero() {
		out.SentAt = time.Now().UTC()
	}
	payload, err := protocol.EncodeCommand(&out)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && b.svc.Conf.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.svc.Conf.CommandTimeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", errspkg.ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", errspkg.ErrCancelled, err)
	}

	pending, err := b.registry.Register(ctx, out.CorrelationID, out.TenantID)
	if err != nil {
		return nil, err
	}
	metrics := b.svc.Metrics()
	metrics.SetPending(b.registry.Len())
	defer func() { metrics.SetPending(b.registry.Len()) }()

	fields := loggingpkg.LogFields{
		"correlation_id": out.CorrelationID,
		"tenant_id":      out.TenantID,
		"command":        out.CommandName,
	}
	started := time.Now()

	topic := protocol.CommandChannel(out.TenantID)
	if err := b.svc.Publish(ctx, topic, "", payload, out.Metadata()); err != nil {
		if !b.registry.Fail(pending, err) {
			// cancelled or expired while publishing
			res := pending.Wait()
			metrics.CommandFinished(res.Outcome.String(), time.Since(started))
			return nil, res.Err
		}
		b.logger.Error("Failed to publish command", err, fields)
		metrics.CommandFinished(correlation.OutcomeFailed.String(), time.Since(started))
		return nil, err
	}
	metrics.CommandSent(out.TenantID)
	b.logger.Debug("Command sent", fields)

	res := pending.Wait()
	metrics.CommandFinished(res.Outcome.String(), time.Since(started))
	if res.Outcome == correlation.OutcomeResolved {
		return res.Response, nil
	}
	b.logger.Info("Command did not complete", loggingpkg.LogFields{
		"correlation_id": out.CorrelationID,
		"tenant_id":      out.TenantID,
		"outcome":        res.Outcome.String(),
	})
	return nil, res.Err
}

// handleResponse is the shared responses consumer. It never fails: malformed,
// unmatched and foreign-tenant responses are logged and acked.
func (b *ServerBroker) handleResponse(msg *message.Message) error {
	fields := loggingpkg.LogFields{
		"topic":        protocol.ResponseChannel,
		"partition":    transport.PartitionOf(msg),
		"message_uuid": msg.UUID,
	}

	resp, err := protocol.DecodeResponse(msg.Payload)
	if err != nil {
		b.logger.Error("Dropping undecodable response", err, fields)
		b.svc.Metrics().ResponseDropped(DropReasonDecode)
		return nil
	}
	fields["correlation_id"] = resp.CorrelationID
	fields["tenant_id"] = resp.TenantID

	if err := b.registry.Complete(resp.CorrelationID, resp); err != nil {
		reason := DropReasonUnmatched
		if errors.Is(err, errspkg.ErrTenantMismatch) {
			reason = DropReasonTenantMismatch
		}
		fields["reason"] = reason
		b.logger.Info("Dropping response without pending request", fields)
		b.svc.Metrics().ResponseDropped(reason)
		return nil
	}

	b.logger.Debug("Response matched", fields)
	return nil
}
