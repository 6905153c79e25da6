package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics counts delivery outcomes and enrichment failures. Outcome
// labels: processed, filtered, ignored, duplicate, ping, rejected.
type PipelineMetrics struct {
	deliveriesTotal    *prometheus.CounterVec
	enrichmentFailures prometheus.Counter
}

func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		deliveriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gitmem",
			Subsystem: "pipeline",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by terminal outcome.",
		}, []string{"outcome"}),
		enrichmentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "gitmem",
			Subsystem: "pipeline",
			Name:      "enrichment_failures_total",
			Help:      "Best-effort enrichment attempts that returned an error.",
		}),
	}
}

func (m *PipelineMetrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) ObserveEnrichmentFailure() {
	if m == nil {
		return
	}
	m.enrichmentFailures.Inc()
}
