package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

// ErrUnknownTransport is returned by Build for names nobody registered.
var ErrUnknownTransport = errors.New("replybridge: unknown transport")

// Registry maps transport names (the pubsub_system config value) to
// builders and capabilities.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// DefaultRegistry is the global transport registry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a builder with unknown capabilities.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{Name: name})
}

// RegisterWithCapabilities adds a builder and its capabilities. Registering
// a name twice replaces the earlier entry.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// GetCapabilities returns the capabilities for a registered transport, or a
// zero value carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build creates a transport using the builder registered for cfg's pubsub system.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errors.New("replybridge: transport config is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetPubSubSystem()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return Transport{}, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownTransport, name, r.Names())
	}

	t, err := builder(ctx, cfg, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("build %s transport: %w", name, err)
	}
	return t, nil
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has reports whether a transport is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a transport builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a transport builder and its capabilities to the default registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build creates a transport using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
