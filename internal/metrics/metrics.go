// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChangesCreated counts changes created.
	ChangesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "changeguard_changes_created_total",
		Help: "Total changes created",
	})

	// ChangeTransitions counts lifecycle transitions by source and target status.
	ChangeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changeguard_change_transitions_total",
		Help: "Total change status transitions",
	}, []string{"from", "to"})

	// RiskAssessments counts persisted risk assessments by level.
	RiskAssessments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changeguard_risk_assessments_total",
		Help: "Total risk assessments by level",
	}, []string{"level"})

	// SimulationsQueued counts runs created in the queued state.
	SimulationsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "changeguard_simulations_queued_total",
		Help: "Total simulation runs queued",
	})

	// SimulationsFinished counts runs reaching a terminal state.
	SimulationsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changeguard_simulations_finished_total",
		Help: "Total simulation runs finished by status",
	}, []string{"status"})

	// SimulationDuration tracks wall time from running to terminal state.
	SimulationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "changeguard_simulation_duration_seconds",
		Help:    "Simulation execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})

	// TrafficFallbacks counts simulations that used the built-in sample.
	TrafficFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "changeguard_traffic_fallbacks_total",
		Help: "Total simulations run against the built-in traffic sample",
	})

	// EnqueueFailures counts post-commit hand-offs that failed and were left
	// for the reconciler.
	EnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "changeguard_enqueue_failures_total",
		Help: "Total simulation jobs that could not be enqueued after commit",
	})

	// JobsProcessed counts queue deliveries by backend and result.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changeguard_jobs_processed_total",
		Help: "Total simulation jobs processed by backend and result",
	}, []string{"backend", "result"})

	// JobsRequeued counts runs re-enqueued by the reconciliation sweep.
	JobsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "changeguard_jobs_requeued_total",
		Help: "Total stale queued runs re-enqueued by the reconciler",
	})

	// IdempotencyOutcomes counts guarded requests by outcome
	// (executed, replayed, conflict).
	IdempotencyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "changeguard_idempotency_outcomes_total",
		Help: "Total idempotency-guarded requests by outcome",
	}, []string{"outcome"})
)
