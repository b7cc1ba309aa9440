package contextlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	compactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "convoy",
		Subsystem: "context",
		Name:      "compactions_total",
		Help:      "Ratio compactions applied to context logs.",
	})

	emergencyCompactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "convoy",
		Subsystem: "context",
		Name:      "emergency_compactions_total",
		Help:      "Emergency collapses applied to context logs.",
	})

	thresholdCrossings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convoy",
		Subsystem: "context",
		Name:      "threshold_crossings_total",
		Help:      "Upward budget threshold crossings by level.",
	}, []string{"level"})
)
