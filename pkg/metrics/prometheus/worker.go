package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stayware/bookingest/pkg/metrics"
	"github.com/stayware/bookingest/pkg/worker"
)

// workerMetrics is the Prometheus implementation of worker.Metrics.
type workerMetrics struct {
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	rowsTotal    *prometheus.CounterVec
	requeueTotal prometheus.Counter
	poisonTotal  prometheus.Counter
}

// NewWorkerMetrics creates the processor metrics set, or nil when metrics
// are disabled.
func NewWorkerMetrics() worker.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &workerMetrics{
		tasksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookingest_worker_tasks_total",
				Help: "Total number of processed tasks by terminal status",
			},
			[]string{"status"},
		),
		taskDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "bookingest_worker_task_duration_milliseconds",
				Help: "End-to-end task processing duration in milliseconds",
				Buckets: []float64{
					50,     // 50ms - tiny sheets
					250,    // 250ms
					1000,   // 1s
					5000,   // 5s
					15000,  // 15s
					60000,  // 1m - large sheets
					300000, // 5m
				},
			},
			[]string{"status"},
		),
		rowsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookingest_worker_rows_total",
				Help: "Total number of spreadsheet rows by validation outcome",
			},
			[]string{"outcome"},
		),
		requeueTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bookingest_worker_requeues_total",
			Help: "Total number of deliveries routed through the delay queue",
		}),
		poisonTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bookingest_worker_poison_messages_total",
			Help: "Total number of malformed deliveries dropped",
		}),
	}
}

func (m *workerMetrics) ObserveTask(status string, d time.Duration) {
	m.tasksTotal.WithLabelValues(status).Inc()
	if d > 0 {
		m.taskDuration.WithLabelValues(status).Observe(d.Seconds() * 1000)
	}
}

func (m *workerMetrics) RecordRows(upserted, rejected int) {
	if upserted > 0 {
		m.rowsTotal.WithLabelValues("upserted").Add(float64(upserted))
	}
	if rejected > 0 {
		m.rowsTotal.WithLabelValues("rejected").Add(float64(rejected))
	}
}

func (m *workerMetrics) RecordRequeue() {
	m.requeueTotal.Inc()
}

func (m *workerMetrics) RecordPoison() {
	m.poisonTotal.Inc()
}
