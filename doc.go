// Package replybridge lets a server issue commands to tenant-side agents over
// a partitioned pub/sub transport and wait for the matching reply, as if it
// were a blocking call.
//
// A ServerBroker publishes each Command to the tenant's "<tenant>-commands"
// channel and parks the caller on the command's correlation id. Agents run a
// ClientBroker that consumes their own tenant channel, invokes the handler
// registered for the command name and publishes the Response on the shared
// "responses" channel, pinned to the partition the command asked for. The
// server broker matches the response by correlation id and tenant and hands
// it back to the waiting caller. Cancellation, deadlines, duplicates and late
// replies all resolve each request exactly once.
//
// # Transports
//
// The transport is chosen by Config.PubSubSystem:
//   - channel: in-process Go channels, for tests and single-binary setups
//   - kafka: partition hints select the Kafka partition of the reply
//   - rabbitmq: AMQP durable queues
//   - nats: NATS core subjects
//   - aws: SNS topics fanned out to SQS queues, LocalStack supported
//
// Only kafka honours the reply partition natively. The other transports carry
// the hint as a message header.
//
// # Service host
//
// Both brokers run on a Service, which owns the Watermill router with the
// default middleware chain (correlation id, debug logging, tracing,
// Prometheus metrics, retry, poison queue, panic recovery), restarts the
// router when the transport drops it, and serves /metrics, /healthz and
// /consumers on Config.MetricsPort.
//
// A minimal agent:
//
//	svc, err := replybridge.NewService(cfg, logger, ctx, replybridge.ServiceDependencies{})
//	agent, err := replybridge.NewClientBroker(svc, nil)
//	replybridge.RegisterJSONHandler(agent, "GetCustomers", getCustomers)
//	agent.Start(ctx)
//
// and the server side:
//
//	server, err := replybridge.NewServerBroker(svc)
//	go server.Start(ctx)
//	customers, err := replybridge.SendJSON[[]Customer](ctx, server, "contoso", "GetCustomers", nil)
package replybridge
