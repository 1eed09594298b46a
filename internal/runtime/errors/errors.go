package errors

import sterrors "errors"

// Request/reply failures surfaced to SendCommand and SendResponse callers.
var (
	ErrUnknownTenant         = sterrors.New("replybridge: unknown tenant")
	ErrDuplicateCorrelation  = sterrors.New("replybridge: correlation id already pending")
	ErrTransport             = sterrors.New("replybridge: transport failure")
	ErrNoRouteForCorrelation = sterrors.New("replybridge: no reply route for correlation id")
	ErrNoReplyPartition      = sterrors.New("replybridge: command carried no reply partition")
	ErrCancelled             = sterrors.New("replybridge: request cancelled")
	ErrExpired               = sterrors.New("replybridge: request expired")
	ErrRegistryFull          = sterrors.New("replybridge: too many pending requests")
	ErrRouteTableFull        = sterrors.New("replybridge: too many reply routes")
	ErrMessageTooLarge       = sterrors.New("replybridge: message exceeds transport size limit")
	ErrCommandFailed         = sterrors.New("replybridge: agent reported command failure")
	ErrInvalidPartition      = sterrors.New("replybridge: partition does not exist on topic")
)

// Consumption loop events. They are logged and dropped, never returned to callers.
var (
	ErrDecode               = sterrors.New("replybridge: malformed message payload")
	ErrUnmatchedCorrelation = sterrors.New("replybridge: no pending request for correlation id")
	ErrTenantMismatch       = sterrors.New("replybridge: tenant does not own correlation id")
)

// Argument validation.
var (
	ErrCorrelationIDRequired = sterrors.New("replybridge: correlation id is required")
	ErrTenantRequired        = sterrors.New("replybridge: tenant id is required")
	ErrCommandNameRequired   = sterrors.New("replybridge: command name is required")
	ErrCommandRequired       = sterrors.New("replybridge: command is required")
	ErrResponseRequired      = sterrors.New("replybridge: response is required")
	ErrServiceRequired       = sterrors.New("replybridge: service is required")
	ErrHandlerRequired       = sterrors.New("replybridge: handler function is required")
	ErrHandlerNameRequired   = sterrors.New("replybridge: handler name is required")
	ErrConsumeQueueRequired  = sterrors.New("replybridge: consume queue is required")
	ErrPublisherRequired     = sterrors.New("replybridge: publisher is required")
	ErrTopicRequired         = sterrors.New("replybridge: topic is required")
	ErrConfigRequired        = sterrors.New("replybridge: config is required")
	ErrLoggerRequired        = sterrors.New("replybridge: logger is required")
)

// ConfigValidationError marks an error produced while validating configuration.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "replybridge: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
