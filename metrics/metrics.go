// Package metrics exposes the bridge's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components take metrics as
// an optional dependency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "xmlrpc_bridge"

// Outcomes of an inbound request.
const (
	OutcomeOK        = "ok"
	OutcomeFault     = "fault"
	OutcomeNotFound  = "not_found"
	OutcomeTimeout   = "timeout"
	OutcomeAbandoned = "abandoned"
	OutcomeRejected  = "rejected"
)

type Metrics struct {
	calls             *prometheus.CounterVec
	callDuration      *prometheus.HistogramVec
	requests          *prometheus.CounterVec
	pending           prometheus.Gauge
	registered        prometheus.Gauge
	correlationMisuse prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "calls_total",
				Help:      "Outbound XML-RPC calls by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		callDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "call_duration_seconds",
				Help:      "Outbound XML-RPC call latency.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"method"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "requests_total",
				Help:      "Inbound XML-RPC requests by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "pending_responses",
			Help:      "Inbound requests waiting for a response.",
		}),
		registered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "registered_methods",
			Help:      "Methods with a registered listener.",
		}),
		correlationMisuse: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flow",
			Name:      "correlation_misuse_total",
			Help:      "Response events without a usable reply token.",
		}),
	}
}

// ObserveCall records one outbound call.
func (m *Metrics) ObserveCall(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFault
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	m.callDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveRequest records one inbound request outcome.
func (m *Metrics) ObserveRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}

// PendingAdd adjusts the number of requests waiting for a response.
func (m *Metrics) PendingAdd(delta float64) {
	if m == nil {
		return
	}
	m.pending.Add(delta)
}

// RegisteredAdd adjusts the number of registered methods.
func (m *Metrics) RegisteredAdd(delta float64) {
	if m == nil {
		return
	}
	m.registered.Add(delta)
}

// CorrelationMisuse counts one response event without a usable token.
func (m *Metrics) CorrelationMisuse() {
	if m == nil {
		return
	}
	m.correlationMisuse.Inc()
}

// Calls returns the outbound call counter, for tests and dashboards.
func (m *Metrics) Calls() *prometheus.CounterVec { return m.calls }

// Requests returns the inbound request counter.
func (m *Metrics) Requests() *prometheus.CounterVec { return m.requests }

// Pending returns the pending responses gauge.
func (m *Metrics) Pending() prometheus.Gauge { return m.pending }

// Registered returns the registered methods gauge.
func (m *Metrics) Registered() prometheus.Gauge { return m.registered }

// Misuse returns the correlation misuse counter.
func (m *Metrics) Misuse() prometheus.Counter { return m.correlationMisuse }
