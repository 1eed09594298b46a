package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/replybridge/transport"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CommandSent("contoso")
		m.CommandFinished("resolved", time.Millisecond)
		m.ResponseDropped(DropReasonUnmatched)
		m.CommandDropped(DropReasonDecode)
		m.ResponsePublished()
		m.RoutesSwept(3)
		m.SetPending(1)
		m.SetRoutes(1)
	})
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.CommandSent("contoso")
	m.CommandSent("contoso")
	m.CommandFinished("resolved", 20*time.Millisecond)
	m.CommandFinished("expired", time.Second)
	m.ResponseDropped(DropReasonUnmatched)
	m.RoutesSwept(0)
	m.RoutesSwept(4)
	m.SetPending(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsSent.WithLabelValues("contoso")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandOutcomes.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandOutcomes.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responsesDropped.WithLabelValues(DropReasonUnmatched)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.routesSwept))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.pendingRequests))

	var duration dto.Metric
	require.NoError(t, m.commandDuration.Write(&duration))
	assert.Equal(t, uint64(2), duration.GetHistogram().GetSampleCount())
	assert.InDelta(t, 1.02, duration.GetHistogram().GetSampleSum(), 1e-9)
}

func TestNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	require.NoError(t, err)
	second, err := NewMetrics(reg)
	require.NoError(t, err)

	second.ResponsePublished()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.responsesSent))
}

func TestNewMetricsReportsConflicts(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "commands_sent_total",
		Help:      "conflicting type",
	})))

	_, err := NewMetrics(reg)
	assert.Error(t, err)
}

func TestConsumerStats(t *testing.T) {
	stats := &ConsumerStats{}
	boom := errors.New("publish failed")
	calls := 0
	handler := wrapHandlerWithStats(func(*message.Message) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	}, stats, transport.PartitionOf)

	msg := message.NewMessage("1", nil)
	transport.SetPartition(msg, "3")
	require.NoError(t, handler(msg))
	assert.ErrorIs(t, handler(message.NewMessage("2", nil)), boom)

	view := stats.Snapshot()
	assert.Equal(t, uint64(2), view.MessagesProcessed)
	assert.Equal(t, uint64(1), view.MessagesFailed)
	assert.Zero(t, view.InFlight)
	assert.Equal(t, "3", view.LastPartition)
	assert.Equal(t, "publish failed", view.LastError)
	assert.False(t, view.LastProcessedAt.IsZero())
}
