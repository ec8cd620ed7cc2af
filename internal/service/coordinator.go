package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/observability"
	"github.com/iliyamo/ticket-marketplace/internal/payment"
	"github.com/iliyamo/ticket-marketplace/internal/queue"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
)

// ConfirmRequest pays for a held reservation.
type ConfirmRequest struct {
	BuyerID       uint64
	ReservationID string
	PaymentMethod string
}

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	Examined  int `json:"examined"`
	Paid      int `json:"paid"`
	Cancelled int `json:"cancelled"`
	Pending   int `json:"pending"`
	Conflicts int `json:"conflicts"`
	Errors    int `json:"errors"`
}

// WebhookDeduper remembers provider event ids.  Claim reports true the
// first time an id is seen; Forget undoes a claim whose processing failed.
type WebhookDeduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Coordinator runs reserve -> charge -> commit.  The order row is written
// PENDING before the provider is called so that every charge has a local
// record reconciliation can resolve.
type Coordinator struct {
	store        repository.Store
	ledger       *Ledger
	reservations *ReservationManager
	provider     payment.Provider
	dedupe       WebhookDeduper
	opts         options
}

// NewCoordinator wires the coordinator.  provider should already carry the
// retry policy (payment.Retrying).  dedupe may be nil.
func NewCoordinator(store repository.Store, ledger *Ledger, reservations *ReservationManager, provider payment.Provider, dedupe WebhookDeduper, opts ...Option) *Coordinator {
	return &Coordinator{
		store:        store,
		ledger:       ledger,
		reservations: reservations,
		provider:     provider,
		dedupe:       dedupe,
		opts:         buildOptions(opts),
	}
}

// ChargeKey is the provider idempotency key of an order's charge.
func ChargeKey(orderID string) string { return "order-" + orderID }

// Confirm charges the buyer and commits the hold.  A PENDING order with no
// error means the provider is still processing; the webhook or
// reconciliation completes it.
func (c *Coordinator) Confirm(ctx context.Context, req ConfirmRequest) (*model.Order, error) {
	ctx, span := observability.Tracer().Start(ctx, "checkout.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", req.ReservationID))

	ord, err := c.confirm(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return ord, err
}

func (c *Coordinator) confirm(ctx context.Context, req ConfirmRequest) (*model.Order, error) {
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.PaymentMethod == "" {
		return nil, fmt.Errorf("%w: payment method is required", ErrValidation)
	}
	res, err := c.reservations.Get(ctx, req.BuyerID, req.ReservationID)
	if err != nil {
		return nil, err
	}
	switch res.State {
	case model.ReservationHeld:
	case model.ReservationCommitted:
		return c.store.Orders().GetByReservation(ctx, res.ID)
	default:
		reason := res.TerminalReason
		if reason == "" {
			reason = strings.ToLower(string(res.State))
		}
		return nil, fmt.Errorf("%w: reservation is %s (%s)", ErrReservationExpired, res.State, reason)
	}

	ord, err := c.prepare(ctx, res, req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	switch ord.State {
	case model.OrderPending:
	case model.OrderPaid:
		return ord, nil
	default:
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, ord.State)
	}

	charge, err := c.provider.Charge(ctx, payment.ChargeRequest{
		OrderID:        ord.ID,
		IdempotencyKey: ChargeKey(ord.ID),
		AmountCents:    ord.TotalCents,
		Currency:       ord.Currency,
		PaymentMethod:  ord.PaymentMethod,
		Description:    fmt.Sprintf("order %s (%d tickets)", ord.ID, ord.Quantity()),
	})
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrDeclined):
		return nil, c.compensateDecline(ctx, ord.ID, declineFrom(err))
	default:
		observability.TrackOrder("unavailable")
		c.opts.log.Warn("charge outcome unknown; order left pending",
			zap.String("order_id", ord.ID), zap.String("hold_id", res.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentProviderUnavailable, err)
	}
	if charge.Status != payment.ChargeSucceeded {
		c.opts.log.Info("charge processing", zap.String("order_id", ord.ID), zap.String("payment_ref", charge.ProviderRef))
		return ord, nil
	}
	return c.Finalize(ctx, ord.ID, charge)
}

func declineFrom(err error) *DeclineError {
	var de *payment.DeclinedError
	if errors.As(err, &de) {
		msg := de.Message
		if msg == "" {
			msg = "the payment was declined"
		}
		return &DeclineError{Code: de.Code, Message: msg}
	}
	return &DeclineError{Message: "the payment was declined"}
}

// prepare returns the order of a reservation, creating it PENDING.
func (c *Coordinator) prepare(ctx context.Context, res *model.Reservation, method string) (*model.Order, error) {
	if ord, err := c.store.Orders().GetByReservation(ctx, res.ID); err == nil {
		return ord, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	ord := &model.Order{
		ID:            uuid.NewString(),
		BuyerID:       res.BuyerID,
		ReservationID: res.ID,
		EventID:       res.EventID,
		State:         model.OrderPending,
		TotalCents:    res.TotalCents(),
		Currency:      res.Currency,
		PaymentMethod: method,
		Items: []model.OrderItem{{
			TicketTypeID:   res.TicketTypeID,
			Quantity:       res.Quantity,
			UnitPriceCents: res.UnitPriceCents,
		}},
	}
	err := c.store.WithTx(ctx, func(r repository.Repos) error { return r.Orders().Create(ctx, ord) })
	if errors.Is(err, repository.ErrDuplicate) {
		return c.store.Orders().GetByReservation(ctx, res.ID)
	}
	if err != nil {
		return nil, err
	}
	return ord, nil
}

// errCapacityGone aborts a Finalize transaction whose re-acquire failed.
var errCapacityGone = errors.New("capacity gone")

// errChargeMismatch aborts a Finalize transaction for a charge that does
// not belong to a pending order.
var errChargeMismatch = errors.New("charge does not match order")

// Finalize records a succeeded charge: order PAID, reservation COMMITTED,
// held units sold.  It is idempotent: finalizing the same charge again is a
// no-op.  When the hold is gone it buys the units again; if that fails the
// charge is refunded and ErrReconciliationConflict is returned.
func (c *Coordinator) Finalize(ctx context.Context, orderID string, charge payment.Charge) (*model.Order, error) {
	if charge.Status != payment.ChargeSucceeded {
		return nil, fmt.Errorf("%w: charge is %s", ErrInvalidState, charge.Status)
	}
	var (
		ord     *model.Order
		res     *model.Reservation
		applied bool
		err     error
	)
	for attempt := 0; attempt < 3; attempt++ {
		applied = false
		err = c.store.WithTx(ctx, func(r repository.Repos) error {
			var err error
			if ord, err = r.Orders().GetByID(ctx, orderID); err != nil {
				return err
			}
			switch {
			case ord.State == model.OrderPaid && ord.PaymentRef == charge.ProviderRef:
				return nil
			case ord.State != model.OrderPending, charge.AmountCents != ord.TotalCents:
				return errChargeMismatch
			}
			if res, err = r.Reservations().GetByID(ctx, ord.ReservationID); err != nil {
				return err
			}
			if res.State == model.ReservationHeld {
				if err := r.Reservations().Transition(ctx, res.ID, model.ReservationHeld, model.ReservationCommitted, ReasonPaid); err != nil {
					return err
				}
				for _, it := range ord.Items {
					if _, err := c.ledger.Commit(ctx, r, it.TicketTypeID, it.Quantity, model.HoldRef(res.ID)); err != nil {
						return err
					}
				}
			} else {
				// the hold ended before the payment landed
				for _, it := range ord.Items {
					ref := model.OrderRef(ord.ID)
					if _, err := c.ledger.TryHold(ctx, r, it.TicketTypeID, it.Quantity, ref); err != nil {
						if errors.Is(err, repository.ErrCapacityExceeded) {
							return errCapacityGone
						}
						return err
					}
					if _, err := c.ledger.Commit(ctx, r, it.TicketTypeID, it.Quantity, ref); err != nil {
						return err
					}
				}
			}
			if err := r.Orders().MarkPaid(ctx, ord.ID, charge.ProviderRef, c.opts.clock()); err != nil {
				return err
			}
			applied = true
			ord, err = r.Orders().GetByID(ctx, ord.ID)
			return err
		})
		if !errors.Is(err, repository.ErrStaleState) {
			break
		}
		// the reservation changed state underneath us; re-read and retry
	}
	switch {
	case errors.Is(err, errCapacityGone), errors.Is(err, errChargeMismatch):
		return nil, c.resolveConflict(ctx, orderID, charge, err)
	case err != nil:
		return nil, err
	}
	if applied {
		observability.TrackOrder("paid")
		c.opts.log.Info("order paid",
			zap.String("order_id", ord.ID), zap.String("hold_id", ord.ReservationID),
			zap.String("payment_ref", charge.ProviderRef), zap.Int64("amount_cents", ord.TotalCents))
		c.opts.publish(ctx, orderEvent(queue.EventOrderPaid, ord, ""))
	}
	return ord, nil
}

// resolveConflict refunds a charge that cannot be turned into tickets and
// cancels the order if it is still pending.
func (c *Coordinator) resolveConflict(ctx context.Context, orderID string, charge payment.Charge, cause error) error {
	observability.TrackOrder("conflict")
	_, rerr := c.provider.Refund(ctx, payment.RefundRequest{
		OrderID:        orderID,
		ChargeRef:      charge.ProviderRef,
		IdempotencyKey: "conflict-" + charge.ProviderRef,
		AmountCents:    charge.AmountCents,
		Reason:         ReasonConflict,
	})
	var cancelled *model.Order
	terr := c.store.WithTx(ctx, func(r repository.Repos) error {
		ord, err := r.Orders().GetByID(ctx, orderID)
		if err != nil || ord.State != model.OrderPending {
			return err
		}
		if err := r.Orders().Transition(ctx, orderID, model.OrderPending, model.OrderCancelled, ReasonConflict); err != nil {
			return err
		}
		cancelled = ord
		res, err := r.Reservations().GetByID(ctx, ord.ReservationID)
		if err != nil || res.State != model.ReservationHeld {
			return err
		}
		_, err = c.reservations.leaveHeld(ctx, r, res, model.ReservationReleased, ReasonConflict)
		return err
	})
	c.opts.log.Error("reconciliation conflict: charge refunded without tickets",
		zap.Bool("alert", true),
		zap.String("order_id", orderID), zap.String("payment_ref", charge.ProviderRef),
		zap.Int64("amount_cents", charge.AmountCents), zap.NamedError("cause", cause),
		zap.NamedError("refund_error", rerr), zap.NamedError("cancel_error", terr))
	if cancelled != nil {
		c.opts.publish(ctx, orderEvent(queue.EventOrderCancelled, cancelled, ReasonConflict))
	}
	return fmt.Errorf("%w: order %s: %v", ErrReconciliationConflict, orderID, cause)
}

// compensateDecline cancels the pending order and releases its hold.  It
// returns de so callers can hand the decline to the client.
func (c *Coordinator) compensateDecline(ctx context.Context, orderID string, de *DeclineError) error {
	var (
		ord      *model.Order
		res      *model.Reservation
		released bool
	)
	err := c.store.WithTx(ctx, func(r repository.Repos) error {
		var err error
		if ord, err = r.Orders().GetByID(ctx, orderID); err != nil {
			return err
		}
		if ord.State != model.OrderPending {
			ord = nil
			return nil
		}
		if err := r.Orders().Transition(ctx, orderID, model.OrderPending, model.OrderCancelled, ReasonPaymentDeclined); err != nil {
			return err
		}
		if res, err = r.Reservations().GetByID(ctx, ord.ReservationID); err != nil {
			return err
		}
		released, err = c.reservations.leaveHeld(ctx, r, res, model.ReservationReleased, ReasonPaymentDeclined)
		return err
	})
	if err != nil {
		return err
	}
	observability.TrackOrder("declined")
	if ord != nil {
		c.opts.log.Info("payment declined; hold released",
			zap.String("order_id", ord.ID), zap.String("hold_id", ord.ReservationID), zap.String("decline_code", de.Code))
		c.opts.publish(ctx, orderEvent(queue.EventOrderCancelled, ord, ReasonPaymentDeclined))
	}
	if released {
		c.reservations.released(ctx, res, model.ReservationReleased, ReasonPaymentDeclined)
	}
	return de
}

// HandleWebhook applies a verified provider notification.  Deliveries are
// deduplicated by event id; the store transitions are idempotent as well.
func (c *Coordinator) HandleWebhook(ctx context.Context, evt payment.WebhookEvent) error {
	ctx, span := observability.Tracer().Start(ctx, "checkout.webhook")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.type", evt.Type), attribute.String("order.id", evt.Charge.OrderID))

	if evt.Charge.OrderID == "" || (evt.Type != payment.EventChargeSucceeded && evt.Type != payment.EventChargeFailed) {
		return nil
	}
	if c.dedupe != nil && evt.ID != "" {
		first, err := c.dedupe.Claim(ctx, evt.ID)
		if err != nil {
			c.opts.log.Warn("webhook dedupe unavailable", zap.String("event_id", evt.ID), zap.Error(err))
		} else if !first {
			return nil
		}
	}
	err := c.applyWebhook(ctx, evt)
	if err != nil && c.dedupe != nil && evt.ID != "" {
		if ferr := c.dedupe.Forget(ctx, evt.ID); ferr != nil {
			c.opts.log.Warn("webhook dedupe forget failed", zap.String("event_id", evt.ID), zap.Error(ferr))
		}
		span.RecordError(err)
	}
	return err
}

func (c *Coordinator) applyWebhook(ctx context.Context, evt payment.WebhookEvent) error {
	switch evt.Type {
	case payment.EventChargeSucceeded:
		_, err := c.Finalize(ctx, evt.Charge.OrderID, evt.Charge)
		if errors.Is(err, ErrReconciliationConflict) {
			// already refunded and alerted; nothing for the provider to retry
			return nil
		}
		return err
	case payment.EventChargeFailed:
		err := c.compensateDecline(ctx, evt.Charge.OrderID, &DeclineError{Code: evt.Charge.FailureCode, Message: evt.Charge.FailureMessage})
		if errors.Is(err, ErrPaymentDeclined) || errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// Reconcile resolves PENDING orders older than olderThan by asking the
// provider what happened to their charge.  It never creates a charge.
func (c *Coordinator) Reconcile(ctx context.Context, olderThan time.Duration, limit int) (ReconcileReport, error) {
	ctx, span := observability.Tracer().Start(ctx, "checkout.reconcile")
	defer span.End()

	var rep ReconcileReport
	now := c.opts.clock()
	orders, err := c.store.Orders().ListPendingBefore(ctx, now.Add(-olderThan), limit)
	if err != nil {
		return rep, err
	}
	for i := range orders {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		ord := &orders[i]
		rep.Examined++
		charge, err := c.provider.LookupCharge(ctx, ord.ID)
		switch {
		case err == nil && charge.Status == payment.ChargeSucceeded:
			_, ferr := c.Finalize(ctx, ord.ID, charge)
			switch {
			case ferr == nil:
				rep.Paid++
			case errors.Is(ferr, ErrReconciliationConflict):
				rep.Conflicts++
			default:
				rep.Errors++
				c.opts.log.Warn("reconcile finalize failed", zap.String("order_id", ord.ID), zap.Error(ferr))
			}
		case err == nil && charge.Status == payment.ChargePending:
			rep.Pending++
		case errors.Is(err, payment.ErrChargeNotFound), err == nil:
			reason := ReasonAbandoned
			if err == nil {
				reason = ReasonPaymentDeclined
			}
			done, aerr := c.abandon(ctx, ord, now, reason)
			switch {
			case aerr != nil:
				rep.Errors++
				c.opts.log.Warn("reconcile cancel failed", zap.String("order_id", ord.ID), zap.Error(aerr))
			case done:
				rep.Cancelled++
			default:
				rep.Pending++
			}
		default:
			rep.Errors++
			c.opts.log.Warn("reconcile lookup failed", zap.String("order_id", ord.ID), zap.Error(err))
		}
	}
	observability.TrackJob("order_reconcile", "paid", rep.Paid)
	observability.TrackJob("order_reconcile", "cancelled", rep.Cancelled)
	observability.TrackJob("order_reconcile", "conflict", rep.Conflicts)
	if rep.Examined > 0 {
		c.opts.log.Info("reconciliation finished",
			zap.Int("examined", rep.Examined), zap.Int("paid", rep.Paid), zap.Int("cancelled", rep.Cancelled),
			zap.Int("pending", rep.Pending), zap.Int("conflicts", rep.Conflicts), zap.Int("errors", rep.Errors))
	}
	return rep, nil
}

// abandon cancels a pending order with no successful charge.  An order
// whose hold is still live is left alone: the buyer may still be paying.
func (c *Coordinator) abandon(ctx context.Context, ord *model.Order, now time.Time, reason string) (bool, error) {
	var (
		res      *model.Reservation
		done     bool
		released bool
		to       = model.ReservationReleased
	)
	err := c.store.WithTx(ctx, func(r repository.Repos) error {
		var err error
		if res, err = r.Reservations().GetByID(ctx, ord.ReservationID); err != nil {
			return err
		}
		if res.State == model.ReservationHeld && !res.ExpiredAt(now) && reason == ReasonAbandoned {
			return nil
		}
		err = r.Orders().Transition(ctx, ord.ID, model.OrderPending, model.OrderCancelled, reason)
		if errors.Is(err, repository.ErrStaleState) {
			return nil
		}
		if err != nil {
			return err
		}
		done = true
		if res.State == model.ReservationHeld {
			if res.ExpiredAt(now) {
				to = model.ReservationExpired
			}
			released, err = c.reservations.leaveHeld(ctx, r, res, to, reason)
		}
		return err
	})
	if err != nil || !done {
		return false, err
	}
	c.opts.publish(ctx, orderEvent(queue.EventOrderCancelled, ord, reason))
	if released {
		c.reservations.released(ctx, res, to, reason)
	}
	return true, nil
}

// GetOrder returns one of the buyer's orders.
func (c *Coordinator) GetOrder(ctx context.Context, buyerID uint64, id string) (*model.Order, error) {
	ord, err := c.store.Orders().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ord.BuyerID != buyerID {
		return nil, ErrNotFound
	}
	return ord, nil
}

// ListOrders pages through the buyer's orders, newest first.
func (c *Coordinator) ListOrders(ctx context.Context, buyerID uint64, limit, offset int) ([]model.Order, error) {
	return c.store.Orders().ListByBuyer(ctx, buyerID, limit, offset)
}

func orderEvent(typ string, ord *model.Order, reason string) queue.OrderEvent {
	evt := queue.OrderEvent{
		Type:          typ,
		OrderID:       ord.ID,
		ReservationID: ord.ReservationID,
		BuyerID:       ord.BuyerID,
		EventID:       ord.EventID,
		Quantity:      ord.Quantity(),
		AmountCents:   ord.TotalCents,
		Currency:      ord.Currency,
		PaymentRef:    ord.PaymentRef,
		Reason:        reason,
	}
	if len(ord.Items) > 0 {
		evt.TicketTypeID = ord.Items[0].TicketTypeID
	}
	return evt
}
