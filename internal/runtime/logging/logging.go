// Package logging defines the ServiceLogger used across the bridge and its
// adapters for slog, zap, logrus and Watermill.
package logging

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is what brokers, handlers and the service host log through.
// Trace is the noisiest level and carries per-message chatter such as
// route bookkeeping.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// merged returns fields with extra laid over it. Neither input is modified.
func merged(fields, extra LogFields) LogFields {
	switch {
	case len(extra) == 0:
		return fields
	case len(fields) == 0:
		return extra
	}
	out := make(LogFields, len(fields)+len(extra))
	for k, v := range fields {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
