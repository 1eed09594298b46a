package runtime

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	loggingpkg "github.com/drblury/replybridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/replybridge/internal/runtime/metadata"
)

func passthrough(msg *message.Message) ([]*message.Message, error) {
	return nil, nil
}

func TestDefaultMiddlewaresOrder(t *testing.T) {
	var names []string
	for _, reg := range DefaultMiddlewares() {
		names = append(names, reg.Name)
	}
	assert.Equal(t, []string{"correlation_id", "log_messages", "tracer", "metrics", "poison_queue", "retry", "recoverer"}, names)
}

func TestCorrelationIDMiddlewareReadsPayload(t *testing.T) {
	msg := message.NewMessage("1", []byte(`{"kind":"command","correlationId":"c1","tenantId":"contoso"}`))
	_, err := correlationIDMiddleware(passthrough)(msg)
	require.NoError(t, err)
	assert.Equal(t, "c1", msg.Metadata.Get(metadatapkg.KeyCorrelationID))
	assert.Equal(t, "contoso", msg.Metadata.Get(metadatapkg.KeyTenantID))
}

func TestCorrelationIDMiddlewareKeepsHeaders(t *testing.T) {
	msg := message.NewMessage("1", []byte(`{"correlationId":"from-body"}`))
	msg.Metadata.Set(metadatapkg.KeyCorrelationID, "from-header")
	_, err := correlationIDMiddleware(passthrough)(msg)
	require.NoError(t, err)
	assert.Equal(t, "from-header", msg.Metadata.Get(metadatapkg.KeyCorrelationID))

	garbage := message.NewMessage("2", []byte(`not json`))
	_, err = correlationIDMiddleware(passthrough)(garbage)
	require.NoError(t, err)
	assert.Empty(t, garbage.Metadata.Get(metadatapkg.KeyCorrelationID))
}

func TestLogMessagesMiddlewareLogsBridgeHeaders(t *testing.T) {
	base, hook := logrustest.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	mw := logMessagesMiddleware(loggingpkg.NewEntryServiceLogger(logrus.NewEntry(base)))

	msg := NewMessage([]byte(`{}`), "p0", metadatapkg.New(
		metadatapkg.KeyCorrelationID, "c1",
		metadatapkg.KeyTenantID, "contoso",
		metadatapkg.KeyCommandName, "Ping",
	))
	_, err := mw(passthrough)(msg)
	require.NoError(t, err)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "c1", entry.Data[metadatapkg.KeyCorrelationID])
	assert.Equal(t, "contoso", entry.Data[metadatapkg.KeyTenantID])
	assert.Equal(t, "Ping", entry.Data[metadatapkg.KeyCommandName])
	assert.Equal(t, "p0", entry.Data["partition"])
	assert.NotContains(t, entry.Data, metadatapkg.KeyMessageKind)
}

func TestTracerMiddlewarePropagatesError(t *testing.T) {
	boom := errors.New("handler failed")
	mw := tracerMiddleware(noop.NewTracerProvider().Tracer("test"))
	_, err := mw(func(*message.Message) ([]*message.Message, error) { return nil, boom })(message.NewMessage("1", nil))
	assert.ErrorIs(t, err, boom)
}

func TestRegisterMiddlewareRequiresImplementation(t *testing.T) {
	svc, _ := newRecordingService(t, newTestConfig())
	assert.Error(t, svc.RegisterMiddleware(MiddlewareRegistration{Name: "empty"}))

	boom := errors.New("builder failed")
	err := svc.RegisterMiddleware(MiddlewareRegistration{
		Name:    "broken",
		Builder: func(*Service) (message.HandlerMiddleware, error) { return nil, boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestPoisonQueueMiddlewareSkippedWithoutQueue(t *testing.T) {
	svc, _ := newRecordingService(t, newTestConfig())
	mw, err := PoisonQueueMiddleware(nil).Builder(svc)
	require.NoError(t, err)
	assert.Nil(t, mw)

	svc.Conf.PoisonQueue = "replybridge-poison"
	mw, err = PoisonQueueMiddleware(nil).Builder(svc)
	require.NoError(t, err)
	assert.NotNil(t, mw)
}

func TestPoisonQueueReceivesFailedMessages(t *testing.T) {
	conf := newTestConfig()
	conf.PoisonQueue = "replybridge-poison"
	svc, pub := newRecordingService(t, conf)

	mw, err := PoisonQueueMiddleware(nil).Builder(svc)
	require.NoError(t, err)

	_, err = mw(func(*message.Message) ([]*message.Message, error) {
		return nil, errors.New("route store down")
	})(message.NewMessage("1", []byte(`{}`)))
	require.NoError(t, err)
	assert.Len(t, pub.Published("replybridge-poison"), 1)
}

func TestRetryMiddlewareRetries(t *testing.T) {
	conf := newTestConfig()
	conf.RetryMaxRetries = 2
	svc, _ := newRecordingService(t, conf)

	mw, err := RetryMiddleware().Builder(svc)
	require.NoError(t, err)

	attempts := 0
	_, err = mw(func(*message.Message) ([]*message.Message, error) {
		attempts++
		return nil, errors.New("transient")
	})(message.NewMessage("1", nil))
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRecovererMiddlewareTurnsPanicsIntoErrors(t *testing.T) {
	mw := RecovererMiddleware().Middleware
	_, err := mw(func(*message.Message) ([]*message.Message, error) {
		panic("handler exploded")
	})(message.NewMessage("1", nil))
	assert.ErrorContains(t, err, "handler exploded")
}
