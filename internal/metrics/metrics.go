package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder holds the service's RED metrics. A nil *Recorder records nothing.
type Recorder struct {
	useCaseRequests *prometheus.CounterVec   // usecase_requests_total{use_case,outcome}
	useCaseDuration *prometheus.HistogramVec // usecase_duration_seconds{use_case}
	adjustments     *prometheus.CounterVec   // inventory_adjustments_total{direction}
	gatewayRequests *prometheus.CounterVec   // gateway_requests_total{operation,outcome}
	httpRequests    *prometheus.CounterVec   // http_requests_total{method,route,status}
	httpDuration    *prometheus.HistogramVec // http_request_duration_seconds{method,route}
}

// New creates the collectors and registers them on reg. Pass
// prometheus.NewRegistry() in tests to keep them isolated.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		useCaseRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usecase_requests_total",
			Help: "Use case executions by outcome.",
		}, []string{"use_case", "outcome"}),
		useCaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usecase_duration_seconds",
			Help:    "Use case latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"use_case"}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_adjustments_total",
			Help: "Product counter adjustments applied by the inventory ledger.",
		}, []string{"direction"}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Payment gateway calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route template and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg != nil {
		reg.MustRegister(r.useCaseRequests, r.useCaseDuration, r.adjustments, r.gatewayRequests, r.httpRequests, r.httpDuration)
	}
	return r
}

func (r *Recorder) UseCase(useCase, outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.useCaseRequests.WithLabelValues(useCase, outcome).Inc()
	r.useCaseDuration.WithLabelValues(useCase).Observe(took.Seconds())
}

// Adjustment counts one ledger write. direction is "out" for a decrement of
// stock, "in" for a restock and "sold" for a sold-only increment.
func (r *Recorder) Adjustment(direction string) {
	if r == nil {
		return
	}
	r.adjustments.WithLabelValues(direction).Inc()
}

func (r *Recorder) Gateway(operation, outcome string) {
	if r == nil {
		return
	}
	r.gatewayRequests.WithLabelValues(operation, outcome).Inc()
}

// HTTP records one served request. route must be the route template, not
// the raw path.
func (r *Recorder) HTTP(method, route string, status int, took time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

// Outcome labels err as success or error.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
