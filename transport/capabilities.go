package transport

// Capabilities describes the features a transport backend offers the brokers.
type Capabilities struct {
	// SupportsOrdering indicates messages within a partition are delivered in order.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// SupportsPartitioning indicates a reply can be pinned to a partition the
	// server broker consumes. Without it the partition hint is only a header.
	SupportsPartitioning bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of size bytes is within MaxMessageSize.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsAck:          true,
		SupportsNack:         true,
		SupportsPartitioning: true,
		MaxMessageSize:       1048576, // broker default message.max.bytes
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// NATS core is at-most-once; a crashed agent loses in-flight commands.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576,
	}

	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
		MaxMessageSize:   262144, // 256KB
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
