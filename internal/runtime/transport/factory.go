// Package transport resolves the publisher/subscriber pair a service runs on.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/replybridge/internal/runtime/config"
	registry "github.com/drblury/replybridge/transport"

	_ "github.com/drblury/replybridge/transport/transports"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// Capabilities of the backend; zero when the factory cannot tell.
	Capabilities registry.Capabilities
}

// Factory abstracts how a service initialises its message transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the factory backed by the transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errors.New("config is required")
	}

	t, err := registry.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:    t.Publisher,
		Subscriber:   t.Subscriber,
		Capabilities: registry.GetCapabilities(conf.GetPubSubSystem()),
	}, nil
}

// Static always returns the same publisher and subscriber. Two services
// built from one Static factory share a bus.
func Static(pub message.Publisher, sub message.Subscriber, caps registry.Capabilities) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (Transport, error) {
		if pub == nil || sub == nil {
			return Transport{}, errors.New("publisher and subscriber are required")
		}
		return Transport{Publisher: pub, Subscriber: sub, Capabilities: caps}, nil
	})
}
