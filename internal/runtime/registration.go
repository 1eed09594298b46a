package runtime

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/transport"
)

// ConsumerRegistration wires a handler that consumes a topic and publishes
// nothing through the router. Brokers publish replies themselves so they can
// pin partitions and retry.
type ConsumerRegistration struct {
	Name         string
	ConsumeQueue string
	Subscriber   message.Subscriber // Defaults to the service subscriber.
	Handler      message.NoPublishHandlerFunc
}

type consumer struct {
	reg   ConsumerRegistration
	stats *ConsumerStats
}

func (c *consumer) addTo(router *message.Router) {
	router.AddNoPublisherHandler(
		c.reg.Name,
		c.reg.ConsumeQueue,
		c.reg.Subscriber,
		wrapHandlerWithStats(c.reg.Handler, c.stats, transport.PartitionOf),
	)
}

// RegisterConsumer attaches cfg to the router. Consumers registered after
// Start join the running router immediately.
func (s *Service) RegisterConsumer(cfg ConsumerRegistration) error {
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.ConsumeQueue == "" {
		return errspkg.ErrConsumeQueueRequired
	}
	if cfg.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}
	if cfg.Subscriber == nil {
		cfg.Subscriber = s.subscriber
	}

	s.routerMu.Lock()
	defer s.routerMu.Unlock()

	for _, existing := range s.consumers {
		if existing.reg.Name == cfg.Name {
			return fmt.Errorf("consumer %q already registered", cfg.Name)
		}
	}

	c := &consumer{reg: cfg, stats: &ConsumerStats{}}
	s.consumers = append(s.consumers, c)
	c.addTo(s.router)

	if s.runCtx != nil && s.router.IsRunning() {
		return s.router.RunHandlers(s.runCtx)
	}
	return nil
}

// Consumers lists the registered consumers with their current stats.
func (s *Service) Consumers() []ConsumerInfo {
	s.routerMu.RLock()
	defer s.routerMu.RUnlock()

	infos := make([]ConsumerInfo, 0, len(s.consumers))
	for _, c := range s.consumers {
		infos = append(infos, ConsumerInfo{
			Name:         c.reg.Name,
			ConsumeQueue: c.reg.ConsumeQueue,
			Stats:        c.stats.Snapshot(),
		})
	}
	slices.SortFunc(infos, func(a, b ConsumerInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return infos
}
