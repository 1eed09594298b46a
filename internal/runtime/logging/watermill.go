package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// slogTrace is the level Watermill's slog adapter emits Trace at.
const slogTrace = slog.LevelDebug - 4

// slogLevels folds trace into debug so handlers configured at debug see
// per-message output.
var slogLevels = map[slog.Level]slog.Level{
	slogTrace: slog.LevelDebug,
}

// NewSlogServiceLogger wraps a slog.Logger so it satisfies ServiceLogger.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("replybridge: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLoggerWithLevelMapping(log, slogLevels))
}

// NewNopServiceLogger discards everything.
func NewNopServiceLogger() ServiceLogger {
	return NewWatermillServiceLogger(watermill.NopLogger{})
}

// NewWatermillServiceLogger wraps an existing Watermill LoggerAdapter.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("replybridge: watermill logger cannot be nil")
	}
	return &watermillLogger{inner: logger}
}

type watermillLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return w
	}
	return &watermillLogger{inner: w.inner.With(watermill.LogFields(fields))}
}

func (w *watermillLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, watermill.LogFields(fields))
}

func (w *watermillLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, watermill.LogFields(fields))
}

func (w *watermillLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, watermill.LogFields(fields))
}

func (w *watermillLogger) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, watermill.LogFields(fields))
}

// NewWatermillAdapter exposes a ServiceLogger to Watermill routers,
// publishers and subscribers. Fields added through With are carried along
// and merged into every entry.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("replybridge: ServiceLogger cannot be nil")
	}
	return &routerLogger{log: log}
}

type routerLogger struct {
	log    ServiceLogger
	fields LogFields
}

func (r *routerLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.log.Error(msg, err, merged(r.fields, LogFields(fields)))
}

func (r *routerLogger) Info(msg string, fields watermill.LogFields) {
	r.log.Info(msg, merged(r.fields, LogFields(fields)))
}

func (r *routerLogger) Debug(msg string, fields watermill.LogFields) {
	r.log.Debug(msg, merged(r.fields, LogFields(fields)))
}

func (r *routerLogger) Trace(msg string, fields watermill.LogFields) {
	r.log.Trace(msg, merged(r.fields, LogFields(fields)))
}

func (r *routerLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &routerLogger{log: r.log, fields: merged(r.fields, LogFields(fields))}
}
