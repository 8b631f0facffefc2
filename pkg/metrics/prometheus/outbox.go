package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stayware/bookingest/pkg/metrics"
	"github.com/stayware/bookingest/pkg/outbox"
)

// outboxMetrics is the Prometheus implementation of outbox.Metrics.
type outboxMetrics struct {
	publishedTotal  prometheus.Counter
	publishFailures prometheus.Counter
	recoveredTotal  prometheus.Counter
	cycleDuration   prometheus.Histogram
}

// NewOutboxMetrics creates the dispatcher metrics set, or nil when metrics
// are disabled.
func NewOutboxMetrics() outbox.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &outboxMetrics{
		publishedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bookingest_outbox_events_published_total",
			Help: "Total number of outbox events published to the bus",
		}),
		publishFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bookingest_outbox_publish_failures_total",
			Help: "Total number of outbox events that failed to publish",
		}),
		recoveredTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bookingest_outbox_events_recovered_total",
			Help: "Total number of stale outbox claims returned to NEW",
		}),
		cycleDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "bookingest_outbox_publish_cycle_duration_milliseconds",
			Help: "Duration of non-empty outbox publish cycles in milliseconds",
			Buckets: []float64{
				5,    // 5ms - single event
				25,   // 25ms
				100,  // 100ms
				500,  // 500ms
				1000, // 1s - full batch
				5000, // 5s
			},
		}),
	}
}

func (m *outboxMetrics) RecordPublished(count int) {
	m.publishedTotal.Add(float64(count))
}

func (m *outboxMetrics) RecordPublishFailure() {
	m.publishFailures.Inc()
}

func (m *outboxMetrics) RecordRecovered(count int64) {
	m.recoveredTotal.Add(float64(count))
}

func (m *outboxMetrics) ObserveCycle(d time.Duration) {
	m.cycleDuration.Observe(d.Seconds() * 1000)
}
