package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessons_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lessons_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessons_reservations_total",
			Help: "Reservation status transitions",
		},
		[]string{"status"},
	)

	BookingConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessons_booking_conflicts_total",
			Help: "Rejected bookings by the check that caught the conflict",
		},
		[]string{"source"},
	)

	CancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessons_cancellations_total",
			Help: "Settled cancellations by policy tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	SettlementEffectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessons_settlement_effects_total",
			Help: "Payment provider side effects by kind and result",
		},
		[]string{"kind", "result"},
	)

	ManualReviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessons_settlement_manual_reviews_total",
			Help: "Settlements parked for manual review",
		},
		[]string{"kind"},
	)

	InvariantViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessons_invariant_violations_total",
			Help: "Aborted operations that computed an impossible state",
		},
		[]string{"operation"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessons_notifications_total",
			Help: "Notifications by kind and delivery status",
		},
		[]string{"kind", "status"},
	)

	NotificationQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lessons_notification_queue_length",
			Help: "Current length of the notification queue",
		},
	)

	AuditFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessons_audit_write_failures_total",
			Help: "Audit entries that could not be stored",
		},
		[]string{"entity_type"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordReservation(status string) {
	ReservationsTotal.WithLabelValues(status).Inc()
}

func RecordBookingConflict(source string) {
	BookingConflictsTotal.WithLabelValues(source).Inc()
}

func RecordCancellation(tier, outcome string) {
	CancellationsTotal.WithLabelValues(tier, outcome).Inc()
}

func RecordSettlementEffect(kind, result string) {
	SettlementEffectsTotal.WithLabelValues(kind, result).Inc()
}

func RecordManualReview(kind string) {
	ManualReviewsTotal.WithLabelValues(kind).Inc()
}

func RecordInvariantViolation(operation string) {
	InvariantViolationsTotal.WithLabelValues(operation).Inc()
}

func RecordNotification(kind, status string) {
	NotificationsTotal.WithLabelValues(kind, status).Inc()
}

func RecordAuditFailure(entityType string) {
	AuditFailuresTotal.WithLabelValues(entityType).Inc()
}
