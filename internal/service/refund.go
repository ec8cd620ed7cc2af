package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/observability"
	"github.com/iliyamo/ticket-marketplace/internal/payment"
	"github.com/iliyamo/ticket-marketplace/internal/queue"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
)

// RefundRequest reverses a paid order in full.  Only an organizer of the
// order's event or an admin may refund.
type RefundRequest struct {
	OrderID   string
	ActorID   uint64
	ActorRole string
	Reason    string
}

// CancelRequest is a buyer cancelling their own paid order before the
// event starts.
type CancelRequest struct {
	OrderID string
	BuyerID uint64
	Reason  string
}

// RefundResult pairs the reversed order with its refund record.
type RefundResult struct {
	Order  *model.Order
	Refund *model.Refund
}

// RefundProcessor restores inventory and reverses payments.  Inventory is
// restored in the same transaction that moves the order out of PAID; the
// provider refund follows and is retried while it stays PENDING.
type RefundProcessor struct {
	store    repository.Store
	ledger   *Ledger
	provider payment.Provider
	opts     options
}

// NewRefundProcessor wires the processor.
func NewRefundProcessor(store repository.Store, ledger *Ledger, provider payment.Provider, opts ...Option) *RefundProcessor {
	return &RefundProcessor{store: store, ledger: ledger, provider: provider, opts: buildOptions(opts)}
}

// MaxReasonLength bounds a cancel or refund reason in characters.  The
// reason is stored on the order, the refund and the ledger entries.
const MaxReasonLength = 255

// RefundKey is the provider idempotency key of an order's refund.
func RefundKey(orderID string) string { return "refund-" + orderID }

// Refund moves a PAID order to REFUNDED.  Repeating it returns the
// existing result.
func (p *RefundProcessor) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	ord, err := p.store.Orders().GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if req.ActorRole != model.RoleAdmin {
		ev, err := p.store.Events().GetByID(ctx, ord.EventID)
		if err != nil {
			return nil, err
		}
		if req.ActorRole != model.RoleOrganizer || ev.OrganizerID != req.ActorID {
			return nil, ErrForbidden
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "refunded_by_organizer"
	}
	return p.reverse(ctx, ord.ID, model.OrderRefunded, reason)
}

// Cancel moves a buyer's PAID order to CANCELLED.  It is allowed until the
// event starts.
func (p *RefundProcessor) Cancel(ctx context.Context, req CancelRequest) (*RefundResult, error) {
	ord, err := p.store.Orders().GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if ord.BuyerID != req.BuyerID {
		return nil, ErrNotFound
	}
	if ord.State == model.OrderPending {
		return nil, fmt.Errorf("%w: payment in progress", ErrInvalidState)
	}
	if ord.State == model.OrderPaid {
		ev, err := p.store.Events().GetByID(ctx, ord.EventID)
		if err != nil {
			return nil, err
		}
		if !p.opts.clock().Before(ev.StartsAt) {
			return nil, fmt.Errorf("%w: the event has already started", ErrInvalidState)
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled_by_buyer"
	}
	return p.reverse(ctx, ord.ID, model.OrderCancelled, reason)
}

func (p *RefundProcessor) reverse(ctx context.Context, orderID string, target model.OrderState, reason string) (*RefundResult, error) {
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return nil, fmt.Errorf("%w: reason exceeds %d characters", ErrValidation, MaxReasonLength)
	}
	ctx, span := observability.Tracer().Start(ctx, "checkout.reverse")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.target", string(target)))

	var (
		ord     *model.Order
		rf      *model.Refund
		applied bool
	)
	err := p.store.WithTx(ctx, func(r repository.Repos) error {
		var err error
		if ord, err = r.Orders().GetByID(ctx, orderID); err != nil {
			return err
		}
		if ord.State == target {
			rf, err = r.Refunds().GetByOrder(ctx, orderID)
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: order was %s before payment", ErrInvalidState, ord.State)
			}
			return err
		}
		if ord.State != model.OrderPaid {
			return fmt.Errorf("%w: order is %s", ErrInvalidState, ord.State)
		}
		if err := r.Orders().Transition(ctx, orderID, model.OrderPaid, target, reason); err != nil {
			return err
		}
		for _, it := range ord.Items {
			if _, err := p.ledger.Restore(ctx, r, it.TicketTypeID, it.Quantity, model.OrderRef(orderID), reason); err != nil {
				return err
			}
		}
		rf = &model.Refund{
			ID:          uuid.NewString(),
			OrderID:     orderID,
			Reason:      reason,
			AmountCents: ord.TotalCents,
			Quantity:    ord.Quantity(),
			State:       model.RefundPending,
		}
		if err := r.Refunds().Create(ctx, rf); err != nil {
			return err
		}
		applied = true
		ord, err = r.Orders().GetByID(ctx, orderID)
		return err
	})
	if errors.Is(err, repository.ErrStaleState) {
		// a concurrent reversal won; report its result
		return p.existing(ctx, orderID, target)
	}
	if err != nil {
		return nil, err
	}
	if applied {
		typ := queue.EventOrderRefunded
		if target == model.OrderCancelled {
			typ = queue.EventOrderCancelled
		}
		observability.TrackOrder(string(target))
		p.opts.log.Info("order reversed",
			zap.String("order_id", orderID), zap.String("state", string(target)),
			zap.Int("qty", ord.Quantity()), zap.String("reason", reason))
		p.opts.publish(ctx, orderEvent(typ, ord, reason))
	}
	if rf.State == model.RefundPending {
		rf = p.issue(ctx, ord, rf)
	}
	return &RefundResult{Order: ord, Refund: rf}, nil
}

func (p *RefundProcessor) existing(ctx context.Context, orderID string, target model.OrderState) (*RefundResult, error) {
	ord, err := p.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord.State != target {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, ord.State)
	}
	rf, err := p.store.Refunds().GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &RefundResult{Order: ord, Refund: rf}, nil
}

// issue calls the provider for a pending refund and records the outcome.
// Provider unavailability leaves the refund PENDING for RetryPending.
func (p *RefundProcessor) issue(ctx context.Context, ord *model.Order, rf *model.Refund) *model.Refund {
	res, err := p.provider.Refund(ctx, payment.RefundRequest{
		OrderID:        ord.ID,
		ChargeRef:      ord.PaymentRef,
		IdempotencyKey: RefundKey(ord.ID),
		AmountCents:    rf.AmountCents,
		Reason:         rf.Reason,
	})
	state, ref, lastErr := model.RefundSucceeded, res.ProviderRef, ""
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrUnavailable):
		state, lastErr = model.RefundPending, err.Error()
		p.opts.log.Warn("refund pending; provider unavailable", zap.String("order_id", ord.ID), zap.Error(err))
	default:
		state, lastErr = model.RefundFailed, err.Error()
		p.opts.log.Error("refund failed", zap.Bool("alert", true), zap.String("order_id", ord.ID), zap.Error(err))
	}
	if merr := p.store.Refunds().MarkResult(ctx, rf.ID, state, ref, lastErr); merr != nil && !errors.Is(merr, repository.ErrStaleState) {
		p.opts.log.Warn("record refund result failed", zap.String("refund_id", rf.ID), zap.Error(merr))
	}
	if cur, gerr := p.store.Refunds().GetByOrder(ctx, ord.ID); gerr == nil {
		return cur
	}
	rf.State, rf.ProviderRef, rf.LastError = state, ref, lastErr
	return rf
}

// RetryPending re-issues up to limit PENDING refunds and returns how many
// succeeded.
func (p *RefundProcessor) RetryPending(ctx context.Context, limit int) (int, error) {
	pending, err := p.store.Refunds().ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range pending {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		ord, err := p.store.Orders().GetByID(ctx, pending[i].OrderID)
		if err != nil {
			p.opts.log.Warn("refund retry: order lookup failed", zap.String("order_id", pending[i].OrderID), zap.Error(err))
			continue
		}
		if rf := p.issue(ctx, ord, &pending[i]); rf.State == model.RefundSucceeded {
			n++
		}
	}
	observability.TrackJob("refund_retry", "succeeded", n)
	return n, nil
}
