// Package metrics holds the Prometheus collectors of changegate
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changegate",
		Name:      "transitions_total",
		Help:      "Total number of workflow transitions broken down by edge and result.",
	}, []string{"from", "to", "result"})

	notificationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "changegate",
		Name:      "notifications_created_total",
		Help:      "Total number of notifications created by transitions.",
	})

	syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changegate",
		Name:      "sync_runs_total",
		Help:      "Total number of background sync cycles broken down by result.",
	}, []string{"result"})

	syncRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changegate",
		Name:      "sync_records_total",
		Help:      "Total number of records exchanged by sync broken down by direction.",
	}, []string{"direction"})
)

// Transition results
const (
	ResultOK           = "ok"
	ResultInvalid      = "invalid"
	ResultUnauthorized = "unauthorized"
	ResultNotFound     = "not_found"
	ResultError        = "error"
	ResultSkipped      = "skipped"
)

// UnknownStatus labels a transition whose current status was never read
const UnknownStatus = "unknown"

// RecordTransition counts one transition attempt
func RecordTransition(from, to, result string) {
	if from == "" {
		from = UnknownStatus
	}
	transitions.WithLabelValues(from, to, result).Inc()
}

// RecordNotificationCreated counts one notification
func RecordNotificationCreated() {
	notificationsCreated.Inc()
}

// RecordSyncRun counts one sync cycle
func RecordSyncRun(result string) {
	syncRuns.WithLabelValues(result).Inc()
}

// RecordSyncRecords counts records pulled or pushed
func RecordSyncRecords(direction string, n int) {
	if n <= 0 {
		return
	}
	syncRecords.WithLabelValues(direction).Add(float64(n))
}
