package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_ledger_operations_total",
			Help: "Inventory ledger mutations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	reservationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_reservation_transitions_total",
			Help: "Reservations leaving HELD, by target state",
		},
		[]string{"state"},
	)

	orderOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_order_outcomes_total",
			Help: "Checkout results by outcome",
		},
		[]string{"outcome"},
	)

	paymentCalls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticket_payment_call_duration_seconds",
			Help:    "Duration of payment provider calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"op", "result"},
	)

	httpRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticket_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_rate_limit_decisions_total",
			Help: "Token bucket decisions by bucket prefix",
		},
		[]string{"bucket", "decision"},
	)

	jobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_background_job_items_total",
			Help: "Items processed by background jobs",
		},
		[]string{"job", "result"},
	)
)

// TrackLedger counts a ledger mutation.  outcome is applied, noop or an
// error class.
func TrackLedger(kind, outcome string) { ledgerOps.WithLabelValues(kind, outcome).Inc() }

// TrackReservation counts a reservation reaching state.
func TrackReservation(state string) { reservationTransitions.WithLabelValues(state).Inc() }

// TrackOrder counts a checkout outcome (paid, declined, unavailable...).
func TrackOrder(outcome string) { orderOutcomes.WithLabelValues(outcome).Inc() }

// TrackPayment observes one provider call.
func TrackPayment(op, result string, d time.Duration) {
	paymentCalls.WithLabelValues(op, result).Observe(d.Seconds())
}

// TrackHTTP observes one HTTP request.
func TrackHTTP(method, route, status string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// TrackRateLimit counts one token bucket decision (allowed, blocked or
// bypassed when Redis failed).
func TrackRateLimit(bucket, decision string) { rateLimited.WithLabelValues(bucket, decision).Inc() }

// TrackJob counts items handled by a background job.
func TrackJob(job, result string, n int) {
	if n > 0 {
		jobRuns.WithLabelValues(job, result).Add(float64(n))
	}
}
