package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/promisectl/internal/protocol"
)

// Metrics counts requests served by one module runtime. Each runtime owns
// its registry so several runtimes can live in one test binary.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	fatal    prometheus.Counter
}

func NewMetrics(module string) *Metrics {
	labels := prometheus.Labels{"module": module}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "promise_module",
				Name:        "requests_total",
				Help:        "Requests answered, by operation and result.",
				ConstLabels: labels,
			},
			[]string{"operation", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   "promise_module",
				Name:        "request_duration_seconds",
				Help:        "Time spent handling one request, in seconds.",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		fatal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   "promise_module",
				Name:        "protocol_errors_total",
				Help:        "Fatal protocol errors.",
				ConstLabels: labels,
			},
		),
	}
	m.registry.MustRegister(m.requests, m.duration, m.fatal)
	return m
}

// RecordRequest counts one answered request.
func (m *Metrics) RecordRequest(op protocol.Operation, result protocol.Result, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(op), string(result)).Inc()
	m.duration.WithLabelValues(string(op)).Observe(duration.Seconds())
}

// RecordProtocolError counts a fatal protocol error.
func (m *Metrics) RecordProtocolError() {
	if m == nil {
		return
	}
	m.fatal.Inc()
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current values in the node exporter textfile
// format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
