// Package kafka provides the Kafka transport. Responses are pinned to the
// partition named by the reply hint so they land on the server broker that
// owns it.
package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/replybridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, errors.New("kafka brokers are required")
	}
	marshaler := PartitionMarshaler{}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: publisherSaramaConfig(cfg.GetKafkaClientID()),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler,
			ConsumerGroup:         cfg.GetKafkaConsumerGroup(),
			OverwriteSaramaConfig: subscriberSaramaConfig(cfg.GetKafkaClientID()),
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

func publisherSaramaConfig(clientID string) *sarama.Config {
	conf := kafka.DefaultSaramaSyncPublisherConfig()
	conf.Producer.Partitioner = NewHintPartitioner
	if clientID != "" {
		conf.ClientID = clientID
	}
	return conf
}

func subscriberSaramaConfig(clientID string) *sarama.Config {
	conf := kafka.DefaultSaramaSubscriberConfig()
	if clientID != "" {
		conf.ClientID = clientID
	}
	return conf
}
