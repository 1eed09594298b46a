package runtime

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "replybridge"

// Reasons a consumed message is dropped instead of handled.
const (
	DropReasonDecode         = "decode"
	DropReasonUnmatched      = "unmatched"
	DropReasonTenantMismatch = "tenant_mismatch"
	DropReasonUnknownCommand = "unknown_command"
	DropReasonNoRoute        = "no_route"
)

// Metrics holds the broker collectors. A nil *Metrics records nothing, so
// callers never need to check whether metrics are enabled.
type Metrics struct {
	commandsSent     *prometheus.CounterVec
	commandOutcomes  *prometheus.CounterVec
	responsesDropped *prometheus.CounterVec
	commandsDropped  *prometheus.CounterVec
	responsesSent    prometheus.Counter
	routesSwept      prometheus.Counter
	commandDuration  prometheus.Histogram
	pendingRequests  prometheus.Gauge
	replyRoutes      prometheus.Gauge
}

// NewMetrics registers the broker collectors with registerer. Collectors
// already registered by an earlier service are reused.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	var errs []error
	m := &Metrics{}
	m.commandsSent = registerCollector(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "commands_sent_total",
		Help:      "Commands published to tenant command channels.",
	}, []string{"tenant"}), &errs)
	m.commandOutcomes = registerCollector(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "command_outcomes_total",
		Help:      "Terminal outcomes of sent commands.",
	}, []string{"outcome"}), &errs)
	m.responsesDropped = registerCollector(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "responses_dropped_total",
		Help:      "Responses consumed but not matched to a pending request.",
	}, []string{"reason"}), &errs)
	m.commandsDropped = registerCollector(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "commands_dropped_total",
		Help:      "Commands consumed by an agent but not dispatched.",
	}, []string{"reason"}), &errs)
	m.responsesSent = registerCollector(registerer, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "responses_published_total",
		Help:      "Responses published to the responses channel.",
	}), &errs)
	m.routesSwept = registerCollector(registerer, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "routes_swept_total",
		Help:      "Reply routes evicted by the TTL sweep.",
	}), &errs)
	m.commandDuration = registerCollector(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "command_duration_seconds",
		Help:      "Time from publishing a command to its terminal outcome.",
		Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}), &errs)
	m.pendingRequests = registerCollector(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "pending_requests",
		Help:      "Requests waiting for a response.",
	}), &errs)
	m.replyRoutes = registerCollector(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "reply_routes",
		Help:      "Reply routes recorded by the agent.",
	}), &errs)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func registerCollector[T prometheus.Collector](registerer prometheus.Registerer, c T, errs *[]error) T {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		*errs = append(*errs, err)
	}
	return c
}

func (m *Metrics) CommandSent(tenant string) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(tenant).Inc()
}

func (m *Metrics) CommandFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commandOutcomes.WithLabelValues(outcome).Inc()
	m.commandDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ResponseDropped(reason string) {
	if m == nil {
		return
	}
	m.responsesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) CommandDropped(reason string) {
	if m == nil {
		return
	}
	m.commandsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ResponsePublished() {
	if m == nil {
		return
	}
	m.responsesSent.Inc()
}

func (m *Metrics) RoutesSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.routesSwept.Add(float64(n))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingRequests.Set(float64(n))
}

func (m *Metrics) SetRoutes(n int) {
	if m == nil {
		return
	}
	m.replyRoutes.Set(float64(n))
}
