package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metrics provides observability for the dataset module.
type Metrics struct {
	DatasetsCreated  prometheus.Counter
	RecordsCreated   *prometheus.CounterVec
	RecordsUpdated   prometheus.Counter
	RecordsDeleted   prometheus.Counter
	BatchesRejected  *prometheus.CounterVec
	BatchSize        prometheus.Histogram
	QueryDuration    prometheus.Histogram
	AccessDenied     *prometheus.CounterVec
	NotifyFailures   prometheus.Counter
	ExportsCompleted prometheus.Counter
}

// New registers the dataset metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the dataset metrics with reg. Tests pass a fresh registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DatasetsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "dataplane_datasets_created_total",
			Help: "Total number of datasets created",
		}),
		RecordsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dataplane_records_created_total",
			Help: "Total number of records created, by path",
		}, []string{"path"}),
		RecordsUpdated: f.NewCounter(prometheus.CounterOpts{
			Name: "dataplane_records_updated_total",
			Help: "Total number of record updates applied",
		}),
		RecordsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "dataplane_records_deleted_total",
			Help: "Total number of records soft deleted",
		}),
		BatchesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dataplane_batches_rejected_total",
			Help: "Batch imports rejected before any record was written",
		}, []string{"reason"}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dataplane_batch_size_records",
			Help:    "Records per accepted batch import",
			Buckets: prometheus.ExponentialBuckets(1, 4, 6),
		}),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dataplane_query_duration_seconds",
			Help:    "Duration of QueryRecords operations",
			Buckets: durationBuckets,
		}),
		AccessDenied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dataplane_access_denied_total",
			Help: "Authorization denials by actor kind",
		}, []string{"actor_kind"}),
		NotifyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "dataplane_notify_failures_total",
			Help: "Dataset events that could not be published",
		}),
		ExportsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "dataplane_exports_completed_total",
			Help: "CSV exports written to object storage",
		}),
	}
}

func (m *Metrics) IncDatasetsCreated() {
	m.DatasetsCreated.Inc()
}

// IncRecordsCreated counts n records created via path ("single" or "batch").
func (m *Metrics) IncRecordsCreated(path string, n int) {
	m.RecordsCreated.WithLabelValues(path).Add(float64(n))
}

func (m *Metrics) IncRecordsUpdated() {
	m.RecordsUpdated.Inc()
}

func (m *Metrics) IncRecordsDeleted() {
	m.RecordsDeleted.Inc()
}

func (m *Metrics) IncBatchRejected(reason string) {
	m.BatchesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveBatchSize(n int) {
	m.BatchSize.Observe(float64(n))
}

// ObserveQuery records the duration of a QueryRecords call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveQuery(start time.Time) {
	m.QueryDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncAccessDenied(actorKind string) {
	m.AccessDenied.WithLabelValues(actorKind).Inc()
}

func (m *Metrics) IncNotifyFailures() {
	m.NotifyFailures.Inc()
}

func (m *Metrics) IncExportsCompleted() {
	m.ExportsCompleted.Inc()
}
