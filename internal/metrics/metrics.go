package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_transitions_total",
			Help: "Workflow transitions by kind, action and outcome",
		},
		[]string{"kind", "action", "outcome"},
	)

	TransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "approval_transition_duration_seconds",
			Help:    "Time spent executing one workflow transition including its transaction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "action"},
	)

	SweepEntities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_expiry_sweep_entities_total",
			Help: "Entities visited by the expiry sweep by result",
		},
		[]string{"result"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_expiry_sweep_runs_total",
			Help: "Expiry sweep runs by result",
		},
		[]string{"result"},
	)

	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "approval_notifications_dropped_total",
			Help: "Approval events dropped because the dispatch queue was full",
		},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_notifications_failed_total",
			Help: "Approval events a publisher failed to deliver",
		},
		[]string{"publisher"},
	)
)
