package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studiosync",
			Name:      "sync_attempts_total",
			Help:      "Remote sync deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "studiosync",
			Name:      "sync_queue_items",
			Help:      "Sync queue items by status.",
		},
		[]string{"status"},
	)

	conflictsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studiosync",
			Name:      "conflicts_detected_total",
			Help:      "Booking conflict evaluations by severity.",
		},
		[]string{"severity"},
	)

	workflowTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studiosync",
			Name:      "workflow_transitions_total",
			Help:      "Automated booking state transitions.",
		},
		[]string{"to"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncAttempts, queueDepth, conflictsDetected, workflowTransitions)
	})
}

// IncSyncAttempt records one delivery attempt outcome: success, retry or failed.
func IncSyncAttempt(outcome string) {
	syncAttempts.WithLabelValues(outcome).Inc()
}

// SetQueueDepth publishes the current item count for a queue status.
func SetQueueDepth(status string, n int) {
	queueDepth.WithLabelValues(status).Set(float64(n))
}

// IncConflict counts a conflict evaluation by severity.
func IncConflict(severity string) {
	conflictsDetected.WithLabelValues(severity).Inc()
}

// IncTransition counts an automated workflow transition.
func IncTransition(toStatus string) {
	workflowTransitions.WithLabelValues(toStatus).Inc()
}
