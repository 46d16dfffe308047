package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit writes.
type Metrics struct {
	Written       *prometheus.CounterVec
	WriteFailures *prometheus.CounterVec
	WriteDuration prometheus.Histogram
}

// NewMetrics registers audit writer metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers audit writer metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Written: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dataplane_audit_entries_written_total",
			Help: "Total number of audit entries persisted, by action",
		}, []string{"action"}),
		WriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dataplane_audit_write_failures_total",
			Help: "Total number of audit entries that failed to persist, by action",
		}, []string{"action"}),
		WriteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dataplane_audit_write_duration_seconds",
			Help:    "Time spent persisting an audit entry",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
}

func (m *Metrics) IncWritten(action string) {
	m.Written.WithLabelValues(action).Inc()
}

func (m *Metrics) IncWriteFailures(action string) {
	m.WriteFailures.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveWriteDuration(seconds float64) {
	m.WriteDuration.Observe(seconds)
}
