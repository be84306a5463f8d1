package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics pipeline instruments on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	Cycles                 *prometheus.CounterVec
	CycleDuration          *prometheus.HistogramVec
	CapabilityErrors       *prometheus.CounterVec
	Commits                *prometheus.CounterVec
	RejectedCommits        *prometheus.CounterVec
	ReservationRejects     *prometheus.CounterVec
	PersistenceRetries     prometheus.Counter
	PersistenceEscalations prometheus.Counter
	PendingCommits         prometheus.Gauge
	Cash                   prometheus.Gauge
	Sentiment              *prometheus.GaugeVec
}

// NewMetrics creates and registers all pipeline metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "decision_cycles_total", Help: "Decision cycles by outcome"},
			[]string{"symbol", "outcome"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "decision_cycle_seconds", Help: "Decision cycle latency", Buckets: prometheus.DefBuckets},
			[]string{"symbol"},
		),
		CapabilityErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "capability_errors_total", Help: "Failed capability calls by stage"},
			[]string{"stage"},
		),
		Commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "commits_total", Help: "Trades applied to the portfolio"},
			[]string{"symbol", "side"},
		),
		RejectedCommits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "rejected_commits_total", Help: "Fills that failed re-validation"},
			[]string{"symbol"},
		),
		ReservationRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "reservation_rejects_total", Help: "Buys dropped because cash was already reserved"},
			[]string{"symbol"},
		),
		PersistenceRetries: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "persistence_retries_total", Help: "Store write retries"},
		),
		PersistenceEscalations: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "persistence_escalations_total", Help: "Commits whose store write exhausted retries"},
		),
		PendingCommits: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "pending_commits", Help: "Commits applied but not yet durably stored"},
		),
		Cash: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "portfolio_cash", Help: "Cash after the latest commit"},
		),
		Sentiment: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "sentiment_score", Help: "Latest sentiment value by scope"},
			[]string{"scope"},
		),
	}
	m.registry.MustRegister(
		m.Cycles, m.CycleDuration, m.CapabilityErrors, m.Commits, m.RejectedCommits,
		m.ReservationRejects, m.PersistenceRetries, m.PersistenceEscalations,
		m.PendingCommits, m.Cash, m.Sentiment,
	)
	return m
}

// Registry returns the registry to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
