// Package metrics exposes Prometheus collectors for the finance layer.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "finance_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finance_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finance_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	paymentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finance_layer",
			Subsystem: "payments",
			Name:      "transitions_total",
			Help:      "Total number of payment state transitions.",
		},
		[]string{"from", "to"},
	)

	paymentReconciliation = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "finance_layer",
			Subsystem: "payments",
			Name:      "reconciliation_needed_total",
			Help:      "Payments whose failure transition could not be persisted.",
		},
	)

	approvalDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finance_layer",
			Subsystem: "authz",
			Name:      "approval_decisions_total",
			Help:      "Total number of approval decisions computed.",
		},
		[]string{"approved"},
	)

	invariantFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "finance_layer",
			Subsystem: "ledger",
			Name:      "invariant_failed",
			Help:      "Whether the named invariant failed in the most recent check (1 = failed).",
		},
		[]string{"project_id", "invariant"},
	)

	healthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "finance_layer",
			Subsystem: "ledger",
			Name:      "health_score",
			Help:      "Most recent ledger health score per project (0-100).",
		},
		[]string{"project_id"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		paymentTransitions,
		paymentReconciliation,
		approvalDecisions,
		invariantFailures,
		healthScore,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// ObservePaymentTransition records one payment state transition.
func ObservePaymentTransition(from, to string) {
	paymentTransitions.WithLabelValues(from, to).Inc()
}

// ObserveReconciliationNeeded counts a payment whose FAILED write was lost.
func ObserveReconciliationNeeded() {
	paymentReconciliation.Inc()
}

// ObserveApprovalDecision records one approval decision outcome.
func ObserveApprovalDecision(approved bool) {
	approvalDecisions.WithLabelValues(strconv.FormatBool(approved)).Inc()
}

// ObserveInvariant records the latest evaluation of an invariant.
func ObserveInvariant(projectID int64, invariant string, passed bool) {
	v := 0.0
	if !passed {
		v = 1.0
	}
	invariantFailures.WithLabelValues(strconv.FormatInt(projectID, 10), invariant).Set(v)
}

// ObserveHealthScore records the latest health score for a project.
func ObserveHealthScore(projectID int64, score int) {
	healthScore.WithLabelValues(strconv.FormatInt(projectID, 10)).Set(float64(score))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "payments":
		if len(parts) == 1 {
			return "/payments"
		}
		if len(parts) == 2 {
			return "/payments/:id"
		}
		return "/payments/:id/" + parts[2]
	case "projects":
		if len(parts) <= 2 {
			return "/projects/:id"
		}
		return "/projects/:id/" + parts[2]
	case "roles":
		if len(parts) == 1 {
			return "/roles"
		}
		return "/roles/:id"
	default:
		return "/" + parts[0]
	}
}
