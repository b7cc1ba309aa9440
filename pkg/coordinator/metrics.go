package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "convoy",
		Subsystem: "coordinator",
		Name:      "sessions_started_total",
		Help:      "Number of coordination sessions started.",
	})

	sessionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convoy",
		Subsystem: "coordinator",
		Name:      "session_outcomes_total",
		Help:      "Session terminations by outcome.",
	}, []string{"outcome"})

	messagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convoy",
		Subsystem: "coordinator",
		Name:      "messages_routed_total",
		Help:      "Messages routed between workers by type.",
	}, []string{"type"})

	conflictsObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convoy",
		Subsystem: "coordinator",
		Name:      "conflicts_total",
		Help:      "Conflicts observed by kind.",
	}, []string{"kind"})

	conflictsEscalated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "convoy",
		Subsystem: "coordinator",
		Name:      "conflicts_escalated_total",
		Help:      "Conflicts escalated to the operator.",
	})

	workerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "convoy",
		Subsystem: "coordinator",
		Name:      "worker_errors_total",
		Help:      "Workers that terminated in the error state.",
	})

	persistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "convoy",
		Subsystem: "coordinator",
		Name:      "persistence_failures_total",
		Help:      "Store writes that failed after retries.",
	})
)
