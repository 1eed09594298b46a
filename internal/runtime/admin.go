package runtime

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/replybridge/internal/runtime/jsoncodec"
)

type healthReport struct {
	Status string                 `json:"status"`
	Checks map[string]CheckReport `json:"checks"`
}

// CheckReport is one entry of the /healthz body.
type CheckReport struct {
	Status string `json:"status"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

// registerAdminHandlers mounts /metrics, /healthz and /consumers on
// MetricsPort. A zero port disables the listener.
func (s *Service) registerAdminHandlers() {
	port := s.Conf.MetricsPort
	if port <= 0 {
		return
	}
	if s.Conf.MetricsEnabled {
		handler := promhttp.Handler()
		if gatherer, ok := s.registerer.(prometheus.Gatherer); ok {
			handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		}
		s.RegisterHTTPHandler(port, "/metrics", handler)
	}
	s.RegisterHTTPHandler(port, "/healthz", http.HandlerFunc(s.handleHealth))
	s.RegisterHTTPHandler(port, "/consumers", http.HandlerFunc(s.handleConsumers))
}

// Health runs every registered check.
func (s *Service) Health(ctx context.Context) (bool, map[string]CheckReport) {
	s.healthChecksMu.RLock()
	checks := make(map[string]HealthCheck, len(s.healthChecks))
	for name, check := range s.healthChecks {
		checks[name] = check
	}
	s.healthChecksMu.RUnlock()

	healthy := true
	reports := make(map[string]CheckReport, len(checks))
	for name, check := range checks {
		value, err := check(ctx)
		if err != nil {
			healthy = false
			reports[name] = CheckReport{Status: "degraded", Error: err.Error()}
			continue
		}
		reports[name] = CheckReport{Status: "ok", Value: value}
	}
	return healthy, reports
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthy, checks := s.Health(ctx)
	report := healthReport{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !healthy {
		report.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Service) handleConsumers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.Consumers())
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		s.Logger.Error("Failed to encode admin response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
