package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	QuotaDecisions   *prometheus.CounterVec
	StoreErrors      prometheus.Counter
	StoreLatencyMs   prometheus.Histogram
	SubjectsRejected prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		QuotaDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_quota_decisions_total",
			Help: "Total quota decisions by outcome",
		}, []string{"outcome"}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_counter_store_errors_total",
			Help: "Total counter store failures",
		}),
		StoreLatencyMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_counter_store_latency_ms",
			Help:    "Latency of counter store operations in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
		}),
		SubjectsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_quota_rejections_total",
			Help: "Total requests rejected for exceeding quota",
		}),
	}
}

func (m *Metrics) RecordDecision(allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
		m.SubjectsRejected.Inc()
	}
	m.QuotaDecisions.WithLabelValues(outcome).Inc()
}
