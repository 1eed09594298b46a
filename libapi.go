package replybridge

import (
	"context"

	runtimepkg "github.com/drblury/replybridge/internal/runtime"
	configpkg "github.com/drblury/replybridge/internal/runtime/config"
	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	handlerpkg "github.com/drblury/replybridge/internal/runtime/handlers"
	idspkg "github.com/drblury/replybridge/internal/runtime/ids"
	jsoncodec "github.com/drblury/replybridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/replybridge/internal/runtime/metadata"
	"github.com/drblury/replybridge/internal/runtime/protocol"
	"github.com/drblury/replybridge/internal/runtime/routing"
	transportpkg "github.com/drblury/replybridge/internal/runtime/transport"
	newtransport "github.com/drblury/replybridge/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	ServerBroker = runtimepkg.ServerBroker
	ClientBroker = runtimepkg.ClientBroker

	Command  = protocol.Command
	Response = protocol.Response

	CommandHandler                = handlerpkg.CommandHandler
	JSONCommandFunc[A any, R any] = handlerpkg.JSONCommandFunc[A, R]
	CommandContext                = handlerpkg.CommandContext

	RouteTable = routing.Table
	Route      = routing.Route

	ConsumerRegistration   = runtimepkg.ConsumerRegistration
	ConsumerInfo           = runtimepkg.ConsumerInfo
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	HealthCheck            = runtimepkg.HealthCheck
	Metrics                = runtimepkg.Metrics

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	ConfigValidationError = errspkg.ConfigValidationError

	Capabilities      = newtransport.Capabilities
	TransportBuilder  = newtransport.Builder
	TransportConfig   = newtransport.Config
	TransportRegistry = newtransport.Registry
)

var (
	NewService          = runtimepkg.NewService
	NewServerBroker     = runtimepkg.NewServerBroker
	NewClientBroker     = runtimepkg.NewClientBroker
	NewRouteTable       = runtimepkg.NewRouteTable
	NewMemoryRouteTable = routing.NewMemoryTable
	LoadConfig          = configpkg.Load
	LoadConfigFrom      = configpkg.LoadViper
	NewConfigViper      = configpkg.NewViper
	StaticTransport     = transportpkg.Static

	NewCommand       = protocol.NewCommand
	NewResponse      = protocol.NewResponse
	NewErrorResponse = protocol.NewErrorResponse
	CommandChannel   = protocol.CommandChannel

	CommandFromContext       = handlerpkg.FromContext
	TenantIDFromContext      = handlerpkg.TenantIDFromContext
	CorrelationIDFromContext = handlerpkg.CorrelationIDFromContext
	LoggerFromContext        = handlerpkg.LoggerFromContext

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	GetCapabilities          = newtransport.GetCapabilities
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrUnknownTenant         = errspkg.ErrUnknownTenant
	ErrDuplicateCorrelation  = errspkg.ErrDuplicateCorrelation
	ErrTransport             = errspkg.ErrTransport
	ErrDecode                = errspkg.ErrDecode
	ErrUnmatchedCorrelation  = errspkg.ErrUnmatchedCorrelation
	ErrNoRouteForCorrelation = errspkg.ErrNoRouteForCorrelation
	ErrCancelled             = errspkg.ErrCancelled
	ErrExpired               = errspkg.ErrExpired
	ErrTenantMismatch        = errspkg.ErrTenantMismatch
	ErrNoReplyPartition      = errspkg.ErrNoReplyPartition
	ErrRegistryFull          = errspkg.ErrRegistryFull
	ErrRouteTableFull        = errspkg.ErrRouteTableFull
	ErrMessageTooLarge       = errspkg.ErrMessageTooLarge
	ErrCommandFailed         = errspkg.ErrCommandFailed
	ErrInvalidPartition      = errspkg.ErrInvalidPartition

	ErrCorrelationIDRequired = errspkg.ErrCorrelationIDRequired
	ErrTenantRequired        = errspkg.ErrTenantRequired
	ErrCommandNameRequired   = errspkg.ErrCommandNameRequired
	ErrCommandRequired       = errspkg.ErrCommandRequired
	ErrResponseRequired      = errspkg.ErrResponseRequired
	ErrServiceRequired       = errspkg.ErrServiceRequired
	ErrHandlerRequired       = errspkg.ErrHandlerRequired
	ErrHandlerNameRequired   = errspkg.ErrHandlerNameRequired
	ErrConsumeQueueRequired  = errspkg.ErrConsumeQueueRequired
	ErrPublisherRequired     = errspkg.ErrPublisherRequired
	ErrTopicRequired         = errspkg.ErrTopicRequired
	ErrConfigRequired        = errspkg.ErrConfigRequired
	ErrLoggerRequired        = errspkg.ErrLoggerRequired

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger  = loggingpkg.NewZapServiceLogger
	NewNopServiceLogger  = loggingpkg.NewNopServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID       = idspkg.CreateULID
	NewCorrelationID = idspkg.NewCorrelationID
)

// Channel and metadata names shared by both brokers.
const (
	ResponseChannel = protocol.ResponseChannel

	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyTenantID      = metadatapkg.KeyTenantID
	MetadataKeyPartition     = newtransport.MetadataKeyPartition
)

// RegisterJSONHandler registers a typed handler for commands named name on
// the agent.
func RegisterJSONHandler[A any, R any](b *ClientBroker, name string, fn JSONCommandFunc[A, R]) error {
	return runtimepkg.RegisterJSONHandler(b, name, fn)
}

// SendJSON sends a command with JSON arguments and decodes the reply into R.
func SendJSON[R any](ctx context.Context, b *ServerBroker, tenantID, name string, args any) (R, error) {
	return runtimepkg.SendJSON[R](ctx, b, tenantID, name, args)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
