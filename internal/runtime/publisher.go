package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	idspkg "github.com/drblury/replybridge/internal/runtime/ids"
	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/replybridge/internal/runtime/metadata"
	"github.com/drblury/replybridge/transport"
)

// NewMessage wraps payload in a Watermill message carrying md and, when
// partition is set, the partition hint.
func NewMessage(payload []byte, partition string, md metadatapkg.Metadata) *message.Message {
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	md.Apply(msg)
	transport.SetPartition(msg, partition)
	return msg
}

// Publish sends payload to topic, pinned to partition when one is given.
// Failed attempts are retried with exponential backoff up to
// PublishMaxAttempts. Every failure wraps ErrTransport.
func (s *Service) Publish(ctx context.Context, topic, partition string, payload []byte, md metadatapkg.Metadata) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if s.publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if !s.capabilities.Fits(len(payload)) {
		return fmt.Errorf("%w: %w: %d bytes on %s (limit %d)",
			errspkg.ErrTransport, errspkg.ErrMessageTooLarge, len(payload), s.capabilities.Name, s.capabilities.MaxMessageSize)
	}

	msg := NewMessage(payload, partition, md)
	if ctx != nil {
		msg.SetContext(ctx)
	} else {
		ctx = context.Background()
	}

	attempts := s.Conf.PublishMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.Conf.PublishRetryInterval
	b.MaxInterval = 20 * s.Conf.PublishRetryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.publisher.Publish(topic, msg)
		if errors.Is(err, errspkg.ErrInvalidPartition) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.Logger.Error("Publish failed, retrying", err, loggingpkg.LogFields{
				"topic":          topic,
				"partition":      partition,
				"correlation_id": md.CorrelationID(),
				"retry_in":       next.String(),
			})
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: publish to %s: %w", errspkg.ErrTransport, topic, err)
	}
	return nil
}
