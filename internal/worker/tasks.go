// Package worker runs the background jobs that keep holds and orders
// consistent: the expiry sweep, payment reconciliation and refund retries.
// Jobs are asynq tasks; the scheduler enqueues them periodically and the
// admin API can enqueue them on demand.
package worker

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeReservationSweep = "reservation:sweep"
	TypeOrderReconcile   = "order:reconcile"
	TypeRefundRetry      = "refund:retry"
)

// SweepPayload bounds one expiry sweep.
type SweepPayload struct {
	Limit int `json:"limit"`
}

// ReconcilePayload selects PENDING orders older than OlderThan.
type ReconcilePayload struct {
	OlderThan time.Duration `json:"older_than"`
	Limit     int           `json:"limit"`
}

// RefundRetryPayload bounds one refund retry run.
type RefundRetryPayload struct {
	Limit int `json:"limit"`
}

// NewSweepTask builds a reservation:sweep task.
func NewSweepTask(p SweepPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReservationSweep, b, asynq.MaxRetry(0), asynq.Timeout(time.Minute)), nil
}

// NewReconcileTask builds an order:reconcile task.
func NewReconcileTask(p ReconcilePayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeOrderReconcile, b, asynq.MaxRetry(0), asynq.Timeout(5*time.Minute)), nil
}

// NewRefundRetryTask builds a refund:retry task.
func NewRefundRetryTask(p RefundRetryPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRefundRetry, b, asynq.MaxRetry(0), asynq.Timeout(5*time.Minute)), nil
}
