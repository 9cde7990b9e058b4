package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for webhook ingress.
type Metrics struct {
	// Deliveries by provider and terminal state
	Deliveries *prometheus.CounterVec

	// Gate failures by provider, gate and reason
	GateFailures *prometheus.CounterVec

	// Deliveries accepted without signature validation
	AuthSkipped *prometheus.CounterVec

	NoncesPurged prometheus.Counter

	ProcessLatency *prometheus.HistogramVec
}

// New creates a new Metrics instance with all webhook metrics registered.
func New() *Metrics {
	return &Metrics{
		Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "patron_webhook_deliveries_total",
			Help: "Webhook deliveries by provider and terminal state",
		}, []string{"provider", "state"}),

		GateFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "patron_webhook_gate_failures_total",
			Help: "Webhook deliveries rejected by a gate",
		}, []string{"provider", "gate", "reason"}),

		AuthSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "patron_webhook_auth_skipped_total",
			Help: "Deliveries accepted because no secret is configured",
		}, []string{"provider"}),

		NoncesPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "patron_webhook_nonces_purged_total",
			Help: "Processed-event nonces deleted by the retention sweeper",
		}),

		ProcessLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patron_webhook_process_duration_seconds",
			Help:    "Time to process one webhook delivery",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

func (m *Metrics) RecordDelivery(provider, state string, d time.Duration) {
	if m != nil {
		m.Deliveries.WithLabelValues(provider, state).Inc()
		m.ProcessLatency.WithLabelValues(provider).Observe(d.Seconds())
	}
}

func (m *Metrics) RecordGateFailure(provider, gate, reason string) {
	if m != nil {
		m.GateFailures.WithLabelValues(provider, gate, reason).Inc()
	}
}

func (m *Metrics) RecordAuthSkipped(provider string) {
	if m != nil {
		m.AuthSkipped.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) RecordPurged(n int64) {
	if m != nil && n > 0 {
		m.NoncesPurged.Add(float64(n))
	}
}
