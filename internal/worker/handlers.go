package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-marketplace/internal/service"
)

// Sweeper expires overdue holds.
type Sweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// Reconciler resolves PENDING orders.
type Reconciler interface {
	Reconcile(ctx context.Context, olderThan time.Duration, limit int) (service.ReconcileReport, error)
}

// RefundRetrier re-issues pending provider refunds.
type RefundRetrier interface {
	RetryPending(ctx context.Context, limit int) (int, error)
}

// Handlers executes worker tasks against the checkout services.
type Handlers struct {
	sweeper    Sweeper
	reconciler Reconciler
	refunds    RefundRetrier
	defaults   Defaults
	log        *zap.Logger
}

// Defaults fill in payload fields left at zero.
type Defaults struct {
	SweepBatch       int
	ReconcileAfter   time.Duration
	ReconcileBatch   int
	RefundRetryBatch int
}

// NewHandlers returns task handlers.
func NewHandlers(s Sweeper, r Reconciler, rf RefundRetrier, d Defaults, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{sweeper: s, reconciler: r, refunds: rf, defaults: d, log: log}
}

// Mux routes task types to handlers.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReservationSweep, h.HandleSweep)
	mux.HandleFunc(TypeOrderReconcile, h.HandleReconcile)
	mux.HandleFunc(TypeRefundRetry, h.HandleRefundRetry)
	return mux
}

func decode(t *asynq.Task, v any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// HandleSweep expires overdue holds.
func (h *Handlers) HandleSweep(ctx context.Context, t *asynq.Task) error {
	var p SweepPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	if p.Limit <= 0 {
		p.Limit = h.defaults.SweepBatch
	}
	n, err := h.sweeper.SweepExpired(ctx, p.Limit)
	if n > 0 {
		h.log.Info("expired holds", zap.Int("count", n))
	}
	return err
}

// HandleReconcile resolves stale PENDING orders.
func (h *Handlers) HandleReconcile(ctx context.Context, t *asynq.Task) error {
	var p ReconcilePayload
	if err := decode(t, &p); err != nil {
		return err
	}
	if p.OlderThan <= 0 {
		p.OlderThan = h.defaults.ReconcileAfter
	}
	if p.Limit <= 0 {
		p.Limit = h.defaults.ReconcileBatch
	}
	_, err := h.reconciler.Reconcile(ctx, p.OlderThan, p.Limit)
	return err
}

// HandleRefundRetry re-issues pending refunds.
func (h *Handlers) HandleRefundRetry(ctx context.Context, t *asynq.Task) error {
	var p RefundRetryPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	if p.Limit <= 0 {
		p.Limit = h.defaults.RefundRetryBatch
	}
	n, err := h.refunds.RetryPending(ctx, p.Limit)
	if n > 0 {
		h.log.Info("refunds completed", zap.Int("count", n))
	}
	return err
}
