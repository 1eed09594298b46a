package runtime

import (
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/replybridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/replybridge/internal/runtime/metadata"
	"github.com/drblury/replybridge/transport"
)

const tracerName = "github.com/drblury/replybridge"

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard middleware chain used by the Service
// constructor. The first entry is the outermost.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		PoisonQueueMiddleware(nil),
		RetryMiddleware(),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware copies the correlation and tenant ids from the
// payload into metadata when a producer did not set the headers.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return correlationIDMiddleware, nil
		},
	}
}

// LogMessagesMiddleware logs payload and metadata of handled messages at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return tracerMiddleware(otel.Tracer(tracerName)), nil
		},
	}
}

// MetricsMiddleware attaches watermill's Prometheus router metrics to every
// router the service builds. It is a no-op unless metrics are enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}
			builder := metrics.NewPrometheusMetricsBuilder(s.registerer, metricsNamespace, s.Conf.PubSubSystem)
			s.routerMetrics = &builder
			return nil, nil
		},
	}
}

// PoisonQueueMiddleware forwards messages whose handler still fails after
// retries to the configured poison queue. Without a queue it is skipped.
func PoisonQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if s.Conf.PoisonQueue == "" {
				return nil, nil
			}
			if s.publisher == nil {
				return nil, errors.New("publisher is required for poison queue middleware")
			}
			f := filter
			if f == nil {
				f = func(error) bool { return true }
			}
			return middleware.PoisonQueueWithFilter(s.publisher, s.Conf.PoisonQueue, f)
		},
	}
}

// RetryMiddleware retries failed handlers with exponential backoff using
// the service's retry settings.
func RetryMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			initial := s.Conf.RetryInitialInterval
			if initial <= 0 {
				initial = 100 * time.Millisecond
			}
			maxInterval := s.Conf.RetryMaxInterval
			if maxInterval <= 0 {
				maxInterval = 10 * time.Second
			}
			return middleware.Retry{
				MaxRetries:      s.Conf.RetryMaxRetries,
				InitialInterval: initial,
				MaxInterval:     max(initial, maxInterval),
				Multiplier:      2,
				Logger:          s.wmLogger,
			}.Middleware, nil
		},
	}
}

// RecovererMiddleware converts panics into handler errors so they can be retried or sent to the poison queue.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware adds a middleware to every router the service builds.
// Call it before Start.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.routerMu.Lock()
	defer s.routerMu.Unlock()
	s.middlewares = append(s.middlewares, namedMiddleware{name: cfg.Name, mw: mw})
	if s.router != nil {
		s.router.AddMiddleware(mw)
	}
	return nil
}

type payloadIdentity struct {
	CorrelationID string `json:"correlationId"`
	TenantID      string `json:"tenantId"`
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
			var ident payloadIdentity
			if err := jsoncodec.Unmarshal(msg.Payload, &ident); err == nil {
				if ident.CorrelationID != "" {
					msg.Metadata.Set(metadatapkg.KeyCorrelationID, ident.CorrelationID)
				}
				if ident.TenantID != "" && msg.Metadata.Get(metadatapkg.KeyTenantID) == "" {
					msg.Metadata.Set(metadatapkg.KeyTenantID, ident.TenantID)
				}
			}
		}
		return h(msg)
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			fields := loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"partition":    transport.PartitionOf(msg),
				"payload":      string(msg.Payload),
			}
			for k, v := range metadatapkg.FromMessage(msg) {
				fields[k] = v
			}
			logger.Debug("Processing message", fields)
			return h(msg)
		}
	}
}

func tracerMiddleware(tracer trace.Tracer) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			md := metadatapkg.FromMessage(msg)
			ctx, span := tracer.Start(msg.Context(), message.HandlerNameFromCtx(msg.Context()),
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.message.id", msg.UUID),
					attribute.String("replybridge.correlation_id", md.CorrelationID()),
					attribute.String("replybridge.tenant_id", md.TenantID()),
					attribute.String("replybridge.kind", md.Kind()),
					attribute.String("replybridge.partition", transport.PartitionOf(msg)),
				),
			)
			defer span.End()
			msg.SetContext(ctx)

			out, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return out, err
		}
	}
}
