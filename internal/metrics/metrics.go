package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. One instance is created
// at startup and passed by reference to the dispatcher and sweeper.
type Metrics struct {
	// DispatchTotal counts dispatch attempts by channel and outcome
	// (sent, failed, retried, skipped).
	DispatchTotal *prometheus.CounterVec

	// SweepsTotal counts sweeper passes.
	SweepsTotal prometheus.Counter

	// SweptRecords counts records the sweeper enqueued for dispatch.
	SweptRecords *prometheus.CounterVec

	// QueueDepth tracks the dispatch queue backlog.
	QueueDepth prometheus.Gauge
}

// New creates and registers the engine's collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "sweeps_total",
			Help:      "Scheduled dispatch sweeper passes.",
		}),
		SweptRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notify",
			Name:      "swept_records_total",
			Help:      "Records the sweeper acted on, by outcome.",
		}, []string{"outcome"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "notify",
			Name:      "dispatch_queue_depth",
			Help:      "Notifications waiting in the dispatch queue.",
		}),
	}
	reg.MustRegister(m.DispatchTotal, m.SweepsTotal, m.SweptRecords, m.QueueDepth)
	return m
}

// NewNop returns collectors that are never registered, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
