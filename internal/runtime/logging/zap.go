package logging

import (
	"sort"

	"go.uber.org/zap"
)

// NewZapServiceLogger adapts a zap.Logger. Trace maps to Debug since zap has
// no finer level.
func NewZapServiceLogger(log *zap.Logger) ServiceLogger {
	if log == nil {
		panic("replybridge: zap logger cannot be nil")
	}
	return &zapServiceLogger{inner: log}
}

type zapServiceLogger struct {
	inner *zap.Logger
}

func (z *zapServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return z
	}
	return &zapServiceLogger{inner: z.inner.With(zapFields(fields)...)}
}

func (z *zapServiceLogger) Debug(msg string, fields LogFields) {
	z.inner.Debug(msg, zapFields(fields)...)
}

func (z *zapServiceLogger) Info(msg string, fields LogFields) {
	z.inner.Info(msg, zapFields(fields)...)
}

func (z *zapServiceLogger) Error(msg string, err error, fields LogFields) {
	zf := zapFields(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	z.inner.Error(msg, zf...)
}

func (z *zapServiceLogger) Trace(msg string, fields LogFields) {
	z.inner.Debug(msg, zapFields(fields)...)
}

// zapFields sorts keys so output is stable across runs.
func zapFields(fields LogFields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
