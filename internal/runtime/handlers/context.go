package handlers

import (
	"context"

	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	"github.com/drblury/replybridge/internal/runtime/protocol"
)

type contextKey struct{}

// CommandContext is what the client broker attaches to the context passed
// to a CommandHandler.
type CommandContext struct {
	Command   *protocol.Command
	Partition string
	Logger    loggingpkg.ServiceLogger
}

// WithCommand stores cc in ctx.
func WithCommand(ctx context.Context, cc CommandContext) context.Context {
	return context.WithValue(ctx, contextKey{}, cc)
}

// FromContext returns the CommandContext stored by WithCommand.
func FromContext(ctx context.Context) (CommandContext, bool) {
	if v := ctx.Value(contextKey{}); v != nil {
		if cc, ok := v.(CommandContext); ok {
			return cc, true
		}
	}
	return CommandContext{}, false
}

// TenantIDFromContext returns the tenant of the command being handled.
func TenantIDFromContext(ctx context.Context) string {
	if cc, ok := FromContext(ctx); ok && cc.Command != nil {
		return cc.Command.TenantID
	}
	return ""
}

// CorrelationIDFromContext returns the correlation id of the command being handled.
func CorrelationIDFromContext(ctx context.Context) string {
	if cc, ok := FromContext(ctx); ok && cc.Command != nil {
		return cc.Command.CorrelationID
	}
	return ""
}

// LoggerFromContext returns a logger scoped to the current command, or a
// no-op logger outside of a handler.
func LoggerFromContext(ctx context.Context) loggingpkg.ServiceLogger {
	if cc, ok := FromContext(ctx); ok && cc.Logger != nil {
		return cc.Logger
	}
	return loggingpkg.NewNopServiceLogger()
}
