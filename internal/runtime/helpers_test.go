package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/replybridge/internal/runtime/config"
	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	transportpkg "github.com/drblury/replybridge/internal/runtime/transport"
	"github.com/drblury/replybridge/transport"
	"github.com/drblury/replybridge/transport/transporttest"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

func newTestConfig() *configpkg.Config {
	return &configpkg.Config{
		PubSubSystem:         "channel",
		Tenants:              []string{"contoso"},
		TenantID:             "contoso",
		MetricsEnabled:       true,
		PublishMaxAttempts:   1,
		PublishRetryInterval: time.Millisecond,
		RetryMaxRetries:      1,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
	}
}

// newTestService builds a service over pub/sub with its own metrics registry.
func newTestService(t *testing.T, conf *configpkg.Config, pub message.Publisher, sub message.Subscriber, caps transport.Capabilities) *Service {
	t.Helper()
	svc, err := NewService(conf, newTestLogger(), context.Background(), ServiceDependencies{
		TransportFactory:  transportpkg.Static(pub, sub, caps),
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return svc
}

// newRecordingService runs on a publisher that only records, so broker
// loops can be driven by calling their handlers directly.
func newRecordingService(t *testing.T, conf *configpkg.Config) (*Service, *transporttest.Publisher) {
	t.Helper()
	pub := &transporttest.Publisher{}
	return newTestService(t, conf, pub, &transporttest.Subscriber{}, transport.ChannelCapabilities), pub
}

func newBus(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

// runUntilCleanup starts run and blocks until every svc has its handlers
// subscribed. The run context is cancelled when the test ends.
func runUntilCleanup(t *testing.T, run func(context.Context) error, svcs ...*Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("service did not stop")
		}
	})

	for _, svc := range svcs {
		select {
		case <-svc.Running():
		case err := <-done:
			t.Fatalf("service stopped before running: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("service did not start")
		}
	}
}

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	topics   []string
}

func (p *flakyPublisher) Publish(topic string, _ ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return p.err
	}
	p.topics = append(p.topics, topic)
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func (p *flakyPublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
