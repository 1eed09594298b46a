// Package channel provides an in-memory transport on top of watermill's Go
// channel pubsub. Every build in a process shares one bus, so a server
// broker and an agent started side by side can talk to each other.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/replybridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

type bus struct {
	pub  message.Publisher
	sub  message.Subscriber
	refs int
}

var (
	sharedMu sync.Mutex
	shared   *bus
)

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build returns a handle on the process-wide channel bus, creating the bus on
// first use. The returned Publisher and Subscriber are the same handle.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared == nil {
		pub, sub := Factory(gochannel.Config{OutputChannelBuffer: 64}, logger)
		shared = &bus{pub: pub, sub: sub}
	}
	shared.refs++

	h := &handle{bus: shared}
	return transport.Transport{
		Publisher:  h,
		Subscriber: h,
	}, nil
}

// Reset drops the shared bus so the next Build starts a fresh one. Handles
// already built keep using the old bus.
func Reset() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	shared = nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

// handle is one Build's reference to the bus. The last handle to close
// closes the bus.
type handle struct {
	bus  *bus
	once sync.Once
}

func (h *handle) Publish(topic string, messages ...*message.Message) error {
	return h.bus.pub.Publish(topic, messages...)
}

func (h *handle) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return h.bus.sub.Subscribe(ctx, topic)
}

func (h *handle) Close() error {
	var err error
	h.once.Do(func() { err = release(h.bus) })
	return err
}

func release(b *bus) error {
	sharedMu.Lock()
	b.refs--
	last := b.refs <= 0
	if last && shared == b {
		shared = nil
	}
	sharedMu.Unlock()

	if !last {
		return nil
	}
	err := b.pub.Close()
	if any(b.sub) != any(b.pub) {
		err = errors.Join(err, b.sub.Close())
	}
	return err
}
