package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "badge_review_decisions_total", Help: "Review decisions by action and outcome"},
		[]string{"action", "outcome"},
	)
	IssuanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "badge_issuance_total", Help: "Badge issuances by mode"},
		[]string{"mode"},
	)
	ChainErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "badge_chain_errors_total", Help: "Chain call failures by operation"},
		[]string{"op"},
	)
	PersistenceFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "badge_persistence_failures_total", Help: "Store writes that failed after a mint"},
	)
	MintDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "badge_mint_duration_seconds", Help: "Mint round-trip duration", Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90}},
	)
	ReconcileRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "badge_reconcile_runs_total", Help: "Reconciliation job runs"},
		[]string{"job", "outcome"},
	)
	DegradedBadges = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "badge_degraded_records", Help: "Badge records still waiting for an on-chain mint"},
	)
	StakingOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "staking_operations_total", Help: "Staking writes by operation and outcome"},
		[]string{"op", "outcome"},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		DecisionsTotal,
		IssuanceTotal,
		ChainErrorsTotal,
		PersistenceFailuresTotal,
		MintDuration,
		ReconcileRuns,
		DegradedBadges,
		StakingOpsTotal,
	)
}

func IncDecision(action, outcome string) { DecisionsTotal.WithLabelValues(action, outcome).Inc() }
func IncIssuance(mode string)            { IssuanceTotal.WithLabelValues(mode).Inc() }
func IncChainError(op string)            { ChainErrorsTotal.WithLabelValues(op).Inc() }
func IncPersistenceFailure()             { PersistenceFailuresTotal.Inc() }
func ObserveMint(seconds float64)        { MintDuration.Observe(seconds) }

func IncReconcile(job string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ReconcileRuns.WithLabelValues(job, outcome).Inc()
}

func SetDegraded(n int64) { DegradedBadges.Set(float64(n)) }

func IncStaking(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StakingOpsTotal.WithLabelValues(op, outcome).Inc()
}
