package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/observability"
	"github.com/iliyamo/ticket-marketplace/internal/queue"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
)

// Reasons recorded when a hold leaves HELD.
const (
	ReasonPaid            = "paid"
	ReasonExpired         = "expired"
	ReasonBuyerReleased   = "released_by_buyer"
	ReasonPaymentDeclined = "payment_declined"
	ReasonAbandoned       = "payment_not_completed"
	ReasonConflict        = "reconciliation_conflict"
)

// HoldRequest asks for Quantity tickets of one type.  IdempotencyKey is the
// client's key; a repeated request with the same key returns the original
// reservation.
type HoldRequest struct {
	BuyerID        uint64
	TicketTypeID   uint64
	Quantity       int
	IdempotencyKey string
}

// ReservationManager owns the hold state machine.  Holds expire through
// SweepExpired and, lazily, whenever an expired hold is read.
type ReservationManager struct {
	store  repository.Store
	ledger *Ledger
	ttl    time.Duration
	opts   options
}

// NewReservationManager returns a manager whose holds live for ttl.
func NewReservationManager(store repository.Store, ledger *Ledger, ttl time.Duration, opts ...Option) *ReservationManager {
	return &ReservationManager{store: store, ledger: ledger, ttl: ttl, opts: buildOptions(opts)}
}

// Hold places a reservation.  Capacity is claimed with one conditional
// update; ErrCapacityExceeded means sold out.
func (m *ReservationManager) Hold(ctx context.Context, req HoldRequest) (*model.Reservation, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	if req.IdempotencyKey == "" || len(req.IdempotencyKey) > 128 {
		return nil, fmt.Errorf("%w: idempotency key must be 1..128 characters", ErrValidation)
	}
	now := m.opts.clock()
	var (
		out     *model.Reservation
		created bool
	)
	err := m.store.WithTx(ctx, func(r repository.Repos) error {
		existing, err := r.Reservations().GetByIdempotencyKey(ctx, req.BuyerID, req.IdempotencyKey)
		if err == nil {
			out = existing
			return sameHold(existing, req)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		tt, err := r.Events().GetTicketType(ctx, req.TicketTypeID)
		if err != nil {
			return err
		}
		if tt.MaxPerOrder > 0 && req.Quantity > tt.MaxPerOrder {
			return fmt.Errorf("%w: at most %d tickets per order", ErrValidation, tt.MaxPerOrder)
		}
		ev, err := r.Events().GetByID(ctx, tt.EventID)
		if err != nil {
			return err
		}
		if !ev.OnSale(now) {
			return fmt.Errorf("%w: event is not on sale", ErrInvalidState)
		}
		res := &model.Reservation{
			ID:             uuid.NewString(),
			BuyerID:        req.BuyerID,
			EventID:        ev.ID,
			TicketTypeID:   tt.ID,
			Quantity:       req.Quantity,
			UnitPriceCents: tt.PriceCents,
			Currency:       tt.Currency,
			State:          model.ReservationHeld,
			IdempotencyKey: req.IdempotencyKey,
			ExpiresAt:      now.Add(m.ttl),
		}
		if _, err := m.ledger.TryHold(ctx, r, tt.ID, req.Quantity, model.HoldRef(res.ID)); err != nil {
			return err
		}
		if err := r.Reservations().Create(ctx, res); err != nil {
			return err
		}
		out, created = res, true
		return nil
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// a concurrent request with the same key committed first
		existing, gerr := m.store.Reservations().GetByIdempotencyKey(ctx, req.BuyerID, req.IdempotencyKey)
		if gerr != nil {
			return nil, gerr
		}
		out, err = existing, sameHold(existing, req)
	}
	if err != nil {
		return nil, err
	}
	if created {
		m.opts.log.Info("hold placed",
			zap.String("hold_id", out.ID), zap.Uint64("buyer_id", out.BuyerID),
			zap.Uint64("ticket_type_id", out.TicketTypeID), zap.Int("qty", out.Quantity),
			zap.Time("expires_at", out.ExpiresAt))
		return out, nil
	}
	return m.refresh(ctx, out)
}

func sameHold(res *model.Reservation, req HoldRequest) error {
	if res.TicketTypeID != req.TicketTypeID || res.Quantity != req.Quantity {
		return ErrIdempotencyMismatch
	}
	return nil
}

// Get returns a buyer's reservation, expiring it first when its TTL has
// passed.
func (m *ReservationManager) Get(ctx context.Context, buyerID uint64, id string) (*model.Reservation, error) {
	res, err := m.store.Reservations().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.BuyerID != buyerID {
		return nil, ErrNotFound
	}
	return m.refresh(ctx, res)
}

func (m *ReservationManager) refresh(ctx context.Context, res *model.Reservation) (*model.Reservation, error) {
	if !res.ExpiredAt(m.opts.clock()) {
		return res, nil
	}
	out, _, err := m.expire(ctx, res.ID)
	return out, err
}

// Release gives a hold back before checkout.  If the hold already reached a
// terminal state (for example it expired concurrently) that state is
// returned and the ledger is not touched again.
func (m *ReservationManager) Release(ctx context.Context, buyerID uint64, id string) (*model.Reservation, error) {
	res, err := m.Get(ctx, buyerID, id)
	if err != nil {
		return nil, err
	}
	if res.State.Terminal() {
		return res, nil
	}
	var changed bool
	err = m.store.WithTx(ctx, func(r repository.Repos) error {
		ord, err := r.Orders().GetByReservation(ctx, id)
		if err == nil && ord.State == model.OrderPending {
			return fmt.Errorf("%w: payment in progress", ErrInvalidState)
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		changed, err = m.leaveHeld(ctx, r, res, model.ReservationReleased, ReasonBuyerReleased)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.released(ctx, res, model.ReservationReleased, ReasonBuyerReleased)
	}
	return m.store.Reservations().GetByID(ctx, id)
}

// Expire moves an overdue hold to EXPIRED and releases its inventory.  It
// is a no-op for holds that are not overdue or no longer HELD.
func (m *ReservationManager) Expire(ctx context.Context, id string) (*model.Reservation, error) {
	res, _, err := m.expire(ctx, id)
	return res, err
}

func (m *ReservationManager) expire(ctx context.Context, id string) (*model.Reservation, bool, error) {
	now := m.opts.clock()
	var (
		res     *model.Reservation
		changed bool
	)
	err := m.store.WithTx(ctx, func(r repository.Repos) error {
		var err error
		if res, err = r.Reservations().GetByID(ctx, id); err != nil {
			return err
		}
		if !res.ExpiredAt(now) {
			return nil
		}
		changed, err = m.leaveHeld(ctx, r, res, model.ReservationExpired, ReasonExpired)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		m.released(ctx, res, model.ReservationExpired, ReasonExpired)
	}
	out, err := m.store.Reservations().GetByID(ctx, id)
	return out, changed, err
}

// leaveHeld performs HELD -> to and releases the held units.  It reports
// false without error when another transition won the race.
func (m *ReservationManager) leaveHeld(ctx context.Context, r repository.Repos, res *model.Reservation, to model.ReservationState, reason string) (bool, error) {
	err := r.Reservations().Transition(ctx, res.ID, model.ReservationHeld, to, reason)
	if errors.Is(err, repository.ErrStaleState) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := m.ledger.Release(ctx, r, res.TicketTypeID, res.Quantity, model.HoldRef(res.ID), reason); err != nil {
		return false, err
	}
	return true, nil
}

func (m *ReservationManager) released(ctx context.Context, res *model.Reservation, to model.ReservationState, reason string) {
	observability.TrackReservation(string(to))
	m.opts.log.Info("hold ended",
		zap.String("hold_id", res.ID), zap.String("state", string(to)), zap.String("reason", reason))
	m.opts.publish(ctx, queue.OrderEvent{
		Type:          queue.EventReservationReleased,
		ReservationID: res.ID,
		BuyerID:       res.BuyerID,
		EventID:       res.EventID,
		TicketTypeID:  res.TicketTypeID,
		Quantity:      res.Quantity,
		AmountCents:   res.TotalCents(),
		Currency:      res.Currency,
		Reason:        reason,
	})
}

// SweepExpired expires up to limit overdue holds, each in its own
// transaction, and returns how many it expired.  Holds expired
// concurrently by another sweeper or by a read are skipped.
func (m *ReservationManager) SweepExpired(ctx context.Context, limit int) (int, error) {
	ids, err := m.store.Reservations().ListExpired(ctx, m.opts.clock(), limit)
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			return n, errors.Join(errs, ctx.Err())
		}
		_, changed, err := m.expire(ctx, id)
		if err != nil {
			m.opts.log.Warn("expire hold failed", zap.String("hold_id", id), zap.Error(err))
			errs = errors.Join(errs, fmt.Errorf("expire %s: %w", id, err))
			continue
		}
		if changed {
			n++
		}
	}
	observability.TrackJob("reservation_sweep", "expired", n)
	return n, errs
}
