package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/replybridge/internal/runtime/config"
	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	transportpkg "github.com/drblury/replybridge/internal/runtime/transport"
	"github.com/drblury/replybridge/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	// MetricsRegisterer receives broker and router collectors when metrics
	// are enabled. Defaults to prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
	// RestartBackOff paces router restarts after the transport drops.
	RestartBackOff func() backoff.BackOff
}

// HealthCheck reports one component's state for /healthz.
type HealthCheck func(ctx context.Context) (any, error)

// Service wires a Watermill router, publisher, subscriber and middleware
// chain, and restarts the router when the transport drops it.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	wmLogger     watermill.LoggerAdapter
	publisher    message.Publisher
	subscriber   message.Subscriber
	capabilities transport.Capabilities

	metrics        *Metrics
	registerer     prometheus.Registerer
	routerMetrics  *metrics.PrometheusMetricsBuilder
	restartBackOff func() backoff.BackOff

	routerMu    sync.RWMutex
	router      *message.Router
	runCtx      context.Context
	middlewares []namedMiddleware
	consumers   []*consumer

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	healthChecks   map[string]HealthCheck
	healthChecksMu sync.RWMutex
}

type namedMiddleware struct {
	name string
	mw   message.HandlerMiddleware
}

// NewService constructs a Service for the supplied configuration. Register
// consumers (or create brokers) on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	conf.WithDefaults()
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating replybridge service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})

	s := &Service{
		Conf:           conf,
		Logger:         log,
		wmLogger:       wmLogger,
		registerer:     deps.MetricsRegisterer,
		restartBackOff: deps.RestartBackOff,
		healthChecks:   make(map[string]HealthCheck),
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	if s.restartBackOff == nil {
		s.restartBackOff = defaultRestartBackOff
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errspkg.ErrTransport, err)
	}
	s.publisher = tr.Publisher
	s.subscriber = tr.Subscriber
	s.capabilities = tr.Capabilities

	if conf.MetricsEnabled {
		if s.metrics, err = NewMetrics(s.registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	if s.router, err = s.newRouter(); err != nil {
		return nil, err
	}

	return s, nil
}

func defaultRestartBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return b
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// newRouter builds a router carrying the middleware chain and every
// registered consumer. Routers cannot be restarted once closed, so a
// supervised restart always gets a fresh one.
func (s *Service) newRouter() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, s.wmLogger)
	if err != nil {
		return nil, err
	}
	for _, m := range s.middlewares {
		router.AddMiddleware(m.mw)
	}
	if s.routerMetrics != nil {
		s.routerMetrics.AddPrometheusRouterMetrics(router)
	}
	for _, c := range s.consumers {
		c.addTo(router)
	}
	return router, nil
}

// Start runs the router until ctx is cancelled. If the router stops on its
// own (a subscription closed or failed to open) it is rebuilt and restarted
// after a backoff.
func (s *Service) Start(ctx context.Context) error {
	if s.capabilities.Name != "" && !s.capabilities.SupportsReliableDelivery() {
		s.Logger.Info("Transport does not redeliver unacknowledged messages; commands in flight during a crash are lost", loggingpkg.LogFields{
			"pubsub_system": s.capabilities.Name,
		})
	}
	s.startHTTPServers(ctx)

	restart := s.restartBackOff()
	for {
		router := s.currentRouter(ctx)
		started := time.Now()
		err := routerRun(router, ctx)
		if ctx.Err() != nil {
			return nil
		}

		if time.Since(started) > time.Minute {
			restart.Reset()
		}
		wait := restart.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("%w: router stopped: %v", errspkg.ErrTransport, err)
		}
		s.Logger.Error("Router stopped unexpectedly, restarting", err, loggingpkg.LogFields{
			"restart_in": wait.String(),
		})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		next, err := s.newRouter()
		if err != nil {
			return err
		}
		s.routerMu.Lock()
		s.router = next
		s.routerMu.Unlock()
	}
}

func (s *Service) currentRouter(ctx context.Context) *message.Router {
	s.routerMu.Lock()
	defer s.routerMu.Unlock()
	s.runCtx = ctx
	return s.router
}

// Running is closed once the current router has started all handlers.
func (s *Service) Running() chan struct{} {
	s.routerMu.RLock()
	defer s.routerMu.RUnlock()
	return s.router.Running()
}

// Capabilities reports what the underlying transport supports.
func (s *Service) Capabilities() transport.Capabilities {
	return s.capabilities
}

// Metrics returns the broker metrics, nil when metrics are disabled.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// Close shuts down the transport. The router stops when its Start context
// is cancelled.
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.subscriber != nil && any(s.subscriber) != any(s.publisher) {
		errs = append(errs, s.subscriber.Close())
	}
	return errors.Join(errs...)
}

// RegisterHealthCheck exposes check under name on /healthz.
func (s *Service) RegisterHealthCheck(name string, check HealthCheck) {
	s.healthChecksMu.Lock()
	defer s.healthChecksMu.Unlock()
	s.healthChecks[name] = check
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers(ctx context.Context) {
	s.registerAdminHandlers()

	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
}
