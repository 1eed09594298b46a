package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEntryServiceLoggerWithLogrus(t *testing.T) {
	base, hook := logrustest.NewNullLogger()
	base.SetLevel(logrus.TraceLevel)
	logger := NewEntryServiceLogger(logrus.NewEntry(base))

	logger.Info("agent started", LogFields{"tenant_id": "contoso"})

	child := logger.With(LogFields{"correlation_id": "c1"})
	child.Debug("dispatching command", LogFields{"command": "Ping"})

	boom := errors.New("boom")
	child.Error("publish failed", boom, nil)
	child.Trace("trace", nil)

	entries := hook.AllEntries()
	require.Len(t, entries, 4)

	assert.Equal(t, logrus.InfoLevel, entries[0].Level)
	assert.Equal(t, "agent started", entries[0].Message)
	assert.Equal(t, "contoso", entries[0].Data["tenant_id"])

	assert.Equal(t, logrus.DebugLevel, entries[1].Level)
	assert.Equal(t, "c1", entries[1].Data["correlation_id"])
	assert.Equal(t, "Ping", entries[1].Data["command"])

	assert.Equal(t, logrus.ErrorLevel, entries[2].Level)
	assert.Equal(t, boom, entries[2].Data[logrus.ErrorKey])

	assert.Equal(t, logrus.TraceLevel, entries[3].Level)
}

func TestEntryServiceLoggerWithNilFieldsReturnsSelf(t *testing.T) {
	base, _ := logrustest.NewNullLogger()
	logger := NewEntryServiceLogger(logrus.NewEntry(base))
	assert.Same(t, logger, logger.With(nil))
}

func TestEntryServiceLoggerPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() {
		NewEntryServiceLogger[*logrus.Entry](nil)
	})

	var entry *logrus.Entry
	assert.PanicsWithValue(t, "replybridge: entry logger cannot be nil", func() {
		NewEntryServiceLogger(entry)
	})
}

func TestZapServiceLoggerDelegates(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := NewZapServiceLogger(zap.New(core))

	logger.Info("route recorded", LogFields{"partition": "p0", "correlation_id": "c1"})
	logger.With(LogFields{"tenant_id": "northwind"}).Trace("swept", nil)
	logger.Error("publish failed", errors.New("broker down"), LogFields{"topic": "responses"})

	entries := observed.All()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "p0", entries[0].ContextMap()["partition"])
	assert.Equal(t, "c1", entries[0].ContextMap()["correlation_id"])

	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "northwind", entries[1].ContextMap()["tenant_id"])

	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "broker down", entries[2].ContextMap()["error"])
}

func TestZapServiceLoggerPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewZapServiceLogger(nil) })
}

func TestSlogServiceLoggerWritesFields(t *testing.T) {
	buf := &bytes.Buffer{}
	base := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger := NewSlogServiceLogger(base)

	logger.With(LogFields{"tenant_id": "contoso"}).Info("command sent", LogFields{"correlation_id": "c1"})

	out := buf.String()
	assert.Contains(t, out, "command sent")
	assert.Contains(t, out, "tenant_id=contoso")
	assert.Contains(t, out, "correlation_id=c1")
}

func TestConstructorsPanicOnNil(t *testing.T) {
	assert.Panics(t, func() { NewSlogServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillServiceLogger(nil) })
	assert.Panics(t, func() { NewWatermillAdapter(nil) })
}

func TestWatermillAdapterDelegates(t *testing.T) {
	base := &recordingServiceLogger{}
	adapter := NewWatermillAdapter(base)

	adapter.Debug("dbg", watermill.LogFields{"k": "v"})
	adapter.Info("info", nil)
	adapter.Trace("trace", nil)
	adapter.Error("err", errors.New("boom"), nil)

	child := adapter.With(watermill.LogFields{"child": "yes"})
	child.Info("child_info", watermill.LogFields{"k": "w"})
	child.With(watermill.LogFields{"child": "no"}).Debug("grandchild", nil)

	require.Len(t, base.entries, 6)
	assert.Equal(t, "v", base.entries[0].fields["k"])
	assert.Nil(t, base.entries[1].fields)
	assert.Equal(t, "trace", base.entries[2].level)
	assert.EqualError(t, base.entries[3].err, "boom")

	assert.Equal(t, LogFields{"child": "yes", "k": "w"}, base.entries[4].fields)
	assert.Equal(t, LogFields{"child": "no"}, base.entries[5].fields)
}

func TestWatermillServiceLoggerWithoutFieldsReturnsSelf(t *testing.T) {
	logger := NewWatermillServiceLogger(watermill.NopLogger{})
	assert.Same(t, logger, logger.With(nil))
}

func TestMergedLeavesInputsUntouched(t *testing.T) {
	base := LogFields{"tenant_id": "contoso"}
	extra := LogFields{"tenant_id": "northwind", "partition": "p0"}

	out := merged(base, extra)

	assert.Equal(t, LogFields{"tenant_id": "northwind", "partition": "p0"}, out)
	assert.Equal(t, LogFields{"tenant_id": "contoso"}, base)
	assert.Equal(t, extra, merged(nil, extra))
	assert.Equal(t, base, merged(base, nil))
}

func TestNopServiceLogger(t *testing.T) {
	logger := NewNopServiceLogger()
	logger.With(LogFields{"a": 1}).Error("ignored", errors.New("x"), nil)
}

type recordingServiceLogger struct {
	entries []loggedEntry
}

type loggedEntry struct {
	level  string
	msg    string
	fields LogFields
	err    error
}

func (r *recordingServiceLogger) With(fields LogFields) ServiceLogger {
	cloned := &recordingServiceLogger{}
	cloned.entries = append(cloned.entries, loggedEntry{level: "with", fields: fields})
	return cloned
}

func (r *recordingServiceLogger) Debug(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "debug", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Info(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "info", msg: msg, fields: fields})
}

func (r *recordingServiceLogger) Error(msg string, err error, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "error", msg: msg, fields: fields, err: err})
}

func (r *recordingServiceLogger) Trace(msg string, fields LogFields) {
	r.entries = append(r.entries, loggedEntry{level: "trace", msg: msg, fields: fields})
}
