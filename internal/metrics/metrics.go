package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cabinbook"

var (
	once sync.Once

	reservationCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_created_total",
			Help:      "Count of reservations created by path (normal, override, admin).",
		},
		[]string{"path"},
	)

	requestRefused = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_refused_total",
			Help:      "Count of reservation requests refused by error kind.",
		},
		[]string{"kind"},
	)

	adminDecision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_decision_total",
			Help:      "Count of workflow decisions over reservations.",
		},
		[]string{"decision"},
	)

	overrideConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "override_conflicts_total",
			Help:      "Conflicting reservations resolved by priority overrides, by outcome.",
		},
		[]string{"outcome"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of workflow operations.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications delivered by sink and result.",
		},
		[]string{"sink", "result"},
	)

	remindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Upcoming-reservation reminders by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservationCreated,
			requestRefused,
			adminDecision,
			overrideConflicts,
			operationDuration,
			notificationsSent,
			remindersSent,
		)
	})
}

func IncReservationCreated(path string) {
	reservationCreated.WithLabelValues(path).Inc()
}

func IncRequestRefused(kind string) {
	requestRefused.WithLabelValues(kind).Inc()
}

func IncAdminDecision(decision string) {
	adminDecision.WithLabelValues(decision).Inc()
}

func AddOverrideConflicts(reallocated, displaced int) {
	overrideConflicts.WithLabelValues("reallocated").Add(float64(reallocated))
	overrideConflicts.WithLabelValues("displaced").Add(float64(displaced))
}

// ObserveOperation records the time since start.
func ObserveOperation(operation string, start time.Time) {
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func IncNotification(sink string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	notificationsSent.WithLabelValues(sink, result).Inc()
}

func IncReminder(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	remindersSent.WithLabelValues(result).Inc()
}
