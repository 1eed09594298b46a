/*
Package runtime hosts the two brokers of the reply bridge on a Watermill
router.

# Architecture Overview

A Service owns the transport (publisher and subscriber), the router with its
middleware chain, the Prometheus collectors and the admin HTTP endpoints.
Brokers attach consumers to it:

  - ServerBroker publishes commands to "<tenant>-commands" and blocks the
    caller until the response with the same correlation id arrives on the
    shared "responses" channel, the context ends or CommandTimeout passes.
  - ClientBroker consumes its tenant's command channel, runs the handler
    registered for the command name and publishes the reply to the partition
    the command named, remembering that partition in a routing.Table between
    the two.

# Package Structure

## Service (service.go, registration.go, middleware.go, publisher.go)

The router is supervised: if it stops while the start context is still live
it is rebuilt and restarted with exponential backoff. Publishing retries with
backoff and pins a partition hint on the outgoing message.

## Monitoring (metrics.go, stats.go, admin.go)

Counters for sent, resolved, expired and dropped traffic, per consumer stats
and the /metrics, /healthz and /consumers endpoints.

# Sub-packages

  - config/: configuration loading, env overrides and validation
  - correlation/: pending request registry
  - routing/: reply route tables (memory, redis)
  - protocol/: command and response envelopes
  - handlers/: command handler types and context helpers
  - transport/: transport factory used by NewService
  - errors/, ids/, jsoncodec/, logging/, metadata/: shared plumbing

# Usage Example

	svc, err := runtime.NewService(cfg, logger, ctx, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	agent, err := runtime.NewClientBroker(svc, nil)
	if err != nil {
		return err
	}
	_ = runtime.RegisterJSONHandler(agent, "Ping", func(ctx context.Context, cmd *protocol.Command, _ struct{}) (string, error) {
		return "pong", nil
	})
	return agent.Start(ctx)
*/
package runtime
