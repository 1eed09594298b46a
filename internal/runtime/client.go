package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/replybridge/internal/runtime/config"
	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/replybridge/internal/runtime/handlers"
	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	"github.com/drblury/replybridge/internal/runtime/protocol"
	"github.com/drblury/replybridge/internal/runtime/routing"
	"github.com/drblury/replybridge/transport"
)

// ClientBroker is the agent side: it consumes its tenant's command channel,
// dispatches commands to registered handlers and publishes each reply to the
// partition the command asked for.
type ClientBroker struct {
	svc      *Service
	tenantID string
	routes   routing.Table
	logger   loggingpkg.ServiceLogger
	closers  []func() error

	handlersMu sync.RWMutex
	handlers   map[string]handlerpkg.CommandHandler
}

// NewClientBroker registers the command consumer for the configured TenantID.
// A nil routes table is built from the RouteStore config.
func NewClientBroker(svc *Service, routes routing.Table) (*ClientBroker, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}
	tenantID := svc.Conf.TenantID
	if tenantID == "" {
		return nil, errspkg.ErrTenantRequired
	}

	b := &ClientBroker{
		svc:      svc,
		tenantID: tenantID,
		routes:   routes,
		logger: svc.Logger.With(loggingpkg.LogFields{
			"component": "client_broker",
			"tenant_id": tenantID,
		}),
		handlers: make(map[string]handlerpkg.CommandHandler),
	}
	if b.routes == nil {
		table, closer, err := NewRouteTable(svc.Conf)
		if err != nil {
			return nil, err
		}
		b.routes = table
		if closer != nil {
			b.closers = append(b.closers, closer)
		}
	}

	if err := svc.RegisterConsumer(ConsumerRegistration{
		Name:         "replybridge-commands-" + tenantID,
		ConsumeQueue: protocol.CommandChannel(tenantID),
		Handler:      b.handleCommand,
	}); err != nil {
		return nil, err
	}
	svc.RegisterHealthCheck("reply_routes", func(ctx context.Context) (any, error) {
		n, err := b.routes.Len(ctx)
		return n, err
	})

	return b, nil
}

// NewRouteTable builds the table selected by conf.RouteStore. The returned
// closer, when non-nil, releases the backing connection.
func NewRouteTable(conf *configpkg.Config) (routing.Table, func() error, error) {
	switch strings.ToLower(conf.RouteStore) {
	case "", configpkg.RouteStoreMemory:
		return routing.NewMemoryTable(conf.MaxRoutes), nil, nil
	case configpkg.RouteStoreRedis:
		client, err := routing.NewRedisClient(routing.RedisOptions{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		table, err := routing.NewRedisTable(client, conf.RedisKeyPrefix, conf.RouteTTL)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return table, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown route store %q", conf.RouteStore)
	}
}

// TenantID is the tenant this agent serves.
func (b *ClientBroker) TenantID() string {
	return b.tenantID
}

// Handle registers h for commands named name, replacing any earlier handler.
func (b *ClientBroker) Handle(name string, h handlerpkg.CommandHandler) error {
	if name == "" {
		return errspkg.ErrCommandNameRequired
	}
	if h == nil {
		return errspkg.ErrHandlerRequired
	}
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers[name] = h
	return nil
}

func (b *ClientBroker) handler(name string) (handlerpkg.CommandHandler, bool) {
	b.handlersMu.RLock()
	defer b.handlersMu.RUnlock()
	h, ok := b.handlers[name]
	return h, ok
}

// Start runs the route sweeper and the underlying service until ctx is done.
func (b *ClientBroker) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.runSweeper(ctx)
	}()
	err := b.svc.Start(ctx)
	wg.Wait()
	return err
}

// Close releases the route store connection.
func (b *ClientBroker) Close() error {
	var errs []error
	for _, closer := range b.closers {
		errs = append(errs, closer())
	}
	return errors.Join(errs...)
}

func (b *ClientBroker) runSweeper(ctx context.Context) {
	interval := b.svc.Conf.RouteSweepInterval
	if interval <= 0 || b.svc.Conf.RouteTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := b.SweepRoutes(ctx); err != nil && ctx.Err() == nil {
				b.logger.Error("Route sweep failed", err, nil)
			}
		}
	}
}

// SweepRoutes evicts routes older than RouteTTL, for commands whose handler
// never replied.
func (b *ClientBroker) SweepRoutes(ctx context.Context) (int, error) {
	n, err := b.routes.Sweep(ctx, time.Now().Add(-b.svc.Conf.RouteTTL))
	if n > 0 {
		b.logger.Info("Swept abandoned reply routes", loggingpkg.LogFields{"count": n})
		b.svc.Metrics().RoutesSwept(n)
	}
	b.updateRouteGauge(ctx)
	return n, err
}

func (b *ClientBroker) updateRouteGauge(ctx context.Context) {
	if b.svc.Metrics() == nil {
		return
	}
	if n, err := b.routes.Len(ctx); err == nil {
		b.svc.Metrics().SetRoutes(n)
	}
}

// SendResponse publishes resp to the first partition recorded for its
// correlation id and removes the route. A failed publish restores the route
// so the reply can be sent again.
func (b *ClientBroker) SendResponse(ctx context.Context, resp *protocol.Response) error {
	if resp == nil {
		return errspkg.ErrResponseRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}

	route, err := b.routes.Take(ctx, resp.CorrelationID)
	if err != nil {
		return err
	}
	defer b.updateRouteGauge(ctx)

	if route.TenantID != resp.TenantID {
		return errors.Join(
			fmt.Errorf("%w: response for %q carries tenant %q", errspkg.ErrTenantMismatch, resp.CorrelationID, resp.TenantID),
			b.routes.Restore(ctx, route),
		)
	}
	if len(route.Partitions) == 0 {
		return fmt.Errorf("%w: %s", errspkg.ErrNoReplyPartition, resp.CorrelationID)
	}

	out := *resp
	out.Kind = protocol.KindResponse
	payload, err := protocol.EncodeResponse(&out)
	if err != nil {
		return errors.Join(err, b.routes.Restore(ctx, route))
	}

	partition := route.Partitions[0]
	if err := b.svc.Publish(ctx, protocol.ResponseChannel, partition, payload, out.Metadata()); err != nil {
		if errors.Is(err, errspkg.ErrInvalidPartition) {
			// the hint can never be delivered to, keep the route dropped
			return err
		}
		return errors.Join(err, b.routes.Restore(ctx, route))
	}

	b.svc.Metrics().ResponsePublished()
	b.logger.Debug("Response published", loggingpkg.LogFields{
		"correlation_id": resp.CorrelationID,
		"partition":      partition,
	})
	return nil
}

// handleCommand is the tenant command consumer. Returning an error nacks the
// message so the transport redelivers it.
func (b *ClientBroker) handleCommand(msg *message.Message) error {
	fields := loggingpkg.LogFields{
		"topic":        protocol.CommandChannel(b.tenantID),
		"partition":    transport.PartitionOf(msg),
		"message_uuid": msg.UUID,
	}

	cmd, err := protocol.DecodeCommand(msg.Payload)
	if err != nil {
		b.logger.Error("Dropping undecodable command", err, fields)
		b.svc.Metrics().CommandDropped(DropReasonDecode)
		return nil
	}
	fields["correlation_id"] = cmd.CorrelationID
	fields["command"] = cmd.CommandName

	if cmd.TenantID != b.tenantID {
		fields["command_tenant_id"] = cmd.TenantID
		b.logger.Info("Dropping command addressed to another tenant", fields)
		b.svc.Metrics().CommandDropped(DropReasonTenantMismatch)
		return nil
	}

	h, ok := b.handler(cmd.CommandName)
	if !ok {
		b.logger.Debug("Ignoring command without handler", fields)
		b.svc.Metrics().CommandDropped(DropReasonUnknownCommand)
		return nil
	}

	ctx := msg.Context()
	if err := b.routes.Record(ctx, routing.Route{
		CorrelationID: cmd.CorrelationID,
		TenantID:      cmd.TenantID,
		Partitions:    cmd.ReplyPartitionHints,
		ReceivedAt:    time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("record reply route for %s: %w", cmd.CorrelationID, err)
	}
	b.updateRouteGauge(ctx)

	logger := b.logger.With(fields)
	ctx = handlerpkg.WithCommand(ctx, handlerpkg.CommandContext{
		Command:   cmd,
		Partition: transport.PartitionOf(msg),
		Logger:    logger,
	})

	resp, err := h(ctx, cmd)
	if err != nil {
		logger.Error("Command handler failed", err, nil)
		resp = protocol.NewErrorResponse(cmd, err)
	}
	if resp == nil {
		return nil
	}

	if err := b.SendResponse(ctx, resp); err != nil {
		switch {
		case errors.Is(err, errspkg.ErrNoRouteForCorrelation),
			errors.Is(err, errspkg.ErrNoReplyPartition),
			errors.Is(err, errspkg.ErrTenantMismatch),
			errors.Is(err, errspkg.ErrMessageTooLarge),
			errors.Is(err, errspkg.ErrInvalidPartition):
			logger.Error("Reply cannot be delivered", err, nil)
			b.svc.Metrics().CommandDropped(DropReasonNoRoute)
			return nil
		}
		return err
	}
	return nil
}
