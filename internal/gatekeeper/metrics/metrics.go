package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Requests      *prometheus.CounterVec
	Redactions    prometheus.Counter
	PIIEntities   prometheus.Counter
	StoreFailures prometheus.Counter
	LatencyMs     prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_pipeline_requests_total",
			Help: "Pipeline terminal outcomes",
		}, []string{"outcome"}),
		Redactions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_redacted_responses_total",
			Help: "Responses with at least one masked span",
		}),
		PIIEntities: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_pii_entities_total",
			Help: "Total sensitive spans masked across responses",
		}),
		StoreFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_quota_store_failures_total",
			Help: "Counter store failures observed by the pipeline",
		}),
		LatencyMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_pipeline_latency_ms",
			Help:    "End to end pipeline latency in milliseconds",
			Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
	}
}
