package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the loyalty ledger.
type Metrics struct {
	// Appended entries by transaction type
	Entries *prometheus.CounterVec

	// Rejected mutations by type and error code
	Rejections *prometheus.CounterVec

	// Points moved by transaction type (absolute values)
	Points *prometheus.CounterVec

	CardsCompleted prometheus.Counter

	// Tier upgrades by destination tier
	TierUpgrades *prometheus.CounterVec

	// Time spent inside Mutate, including lock wait
	MutateLatency prometheus.Histogram
}

// New creates a new Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		Entries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "patron_ledger_entries_total",
			Help: "Ledger transactions appended by type",
		}, []string{"type"}),

		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "patron_ledger_rejections_total",
			Help: "Ledger mutations rejected by type and error code",
		}, []string{"type", "code"}),

		Points: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "patron_ledger_points_total",
			Help: "Absolute points moved by transaction type",
		}, []string{"type"}),

		CardsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "patron_ledger_cards_completed_total",
			Help: "Stamp cards completed",
		}),

		TierUpgrades: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "patron_ledger_tier_upgrades_total",
			Help: "Tier upgrades by destination tier",
		}, []string{"tier"}),

		MutateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "patron_ledger_mutate_duration_seconds",
			Help:    "Duration of ledger mutations including lock acquisition",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// RecordEntry counts an appended transaction and the points it moved.
func (m *Metrics) RecordEntry(txType string, points int64) {
	if m != nil {
		m.Entries.WithLabelValues(txType).Inc()
		if points < 0 {
			points = -points
		}
		m.Points.WithLabelValues(txType).Add(float64(points))
	}
}

func (m *Metrics) RecordRejection(txType, code string) {
	if m != nil {
		m.Rejections.WithLabelValues(txType, code).Inc()
	}
}

func (m *Metrics) RecordCardCompleted() {
	if m != nil {
		m.CardsCompleted.Inc()
	}
}

func (m *Metrics) RecordTierUpgrade(tier string) {
	if m != nil {
		m.TierUpgrades.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) ObserveMutateLatency(d time.Duration) {
	if m != nil {
		m.MutateLatency.Observe(d.Seconds())
	}
}
