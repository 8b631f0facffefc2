// Package prometheus provides the Prometheus-backed implementations of the
// metrics interfaces declared next to each instrumented component.
// Constructors return nil while metrics are disabled; every consumer
// treats a nil sink as a no-op.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stayware/bookingest/pkg/metrics"
	"github.com/stayware/bookingest/pkg/store/objectstore"
)

// objectStoreMetrics is the Prometheus implementation of objectstore.Metrics.
type objectStoreMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewObjectStoreMetrics creates the object-store metrics set, or nil when
// metrics are disabled.
func NewObjectStoreMetrics() objectstore.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &objectStoreMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookingest_s3_operations_total",
				Help: "Total number of object-store operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "bookingest_s3_operation_duration_milliseconds",
				Help: "Duration of object-store operations in milliseconds",
				Buckets: []float64{
					10,    // 10ms - metadata operations
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms - part uploads
					1000,  // 1s
					5000,  // 5s - large downloads
					10000, // 10s
					30000, // 30s
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookingest_s3_bytes_transferred_total",
				Help: "Total bytes transferred to and from the object store",
			},
			[]string{"operation", "direction"},
		),
	}
}

func (m *objectStoreMetrics) ObserveOperation(op string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(op, status).Inc()
	m.operationDuration.WithLabelValues(op).Observe(d.Seconds() * 1000)
}

func (m *objectStoreMetrics) RecordBytes(op string, n int64) {
	if n <= 0 {
		return
	}
	direction := "write"
	if op == "GetObject" {
		direction = "read"
	}
	m.bytesTransferred.WithLabelValues(op, direction).Add(float64(n))
}
