// Package nats provides a NATS Core transport. NATS subjects have no
// partitions; the reply hint rides along as a message header.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/replybridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a new NATS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errors.New("nats url is required")
	}
	marshaler := &nats.NATSMarshaler{}
	options := []nc.Option{
		nc.Name("replybridge"),
		nc.MaxReconnects(-1),
	}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:         url,
			NatsOptions: options,
			Unmarshaler: marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: true},
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
	return transport.NATSCapabilities
}
