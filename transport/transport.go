// Package transport defines the publisher/subscriber pair the brokers run on
// and a registry of named builders. Each implementation (kafka, nats,
// rabbitmq, aws, channel) lives in its own sub-package and registers itself
// on import.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports need without depending on the full
// config package.
type Config interface {
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
