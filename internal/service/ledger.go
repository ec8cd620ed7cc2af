package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/observability"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
)

// Ledger mutates inventory counters.  Each mutation is one conditional
// update in the store plus a ledger entry keyed by (kind, ref); replaying a
// mutation with the same ref is a no-op and reports applied=false.
//
// The Repos passed in must belong to a transaction (Store.WithTx) so that
// the entry and the counter change commit together.
type Ledger struct {
	store repository.Store
	opts  options
}

// NewLedger returns a Ledger over store.
func NewLedger(store repository.Store, opts ...Option) *Ledger {
	return &Ledger{store: store, opts: buildOptions(opts)}
}

// TryHold claims qty units if they fit: held+sold+qty <= total_capacity.
func (l *Ledger) TryHold(ctx context.Context, r repository.Repos, ticketTypeID uint64, qty int, ref model.LedgerRef) (bool, error) {
	return l.apply(ctx, r, model.LedgerHold, ticketTypeID, qty, ref, "", func(inv repository.InventoryStore) error {
		return inv.AddHeld(ctx, ticketTypeID, qty)
	})
}

// Commit turns held units into sold units.
func (l *Ledger) Commit(ctx context.Context, r repository.Repos, ticketTypeID uint64, qty int, ref model.LedgerRef) (bool, error) {
	return l.apply(ctx, r, model.LedgerCommit, ticketTypeID, qty, ref, "", func(inv repository.InventoryStore) error {
		return inv.MoveHeldToSold(ctx, ticketTypeID, qty)
	})
}

// Release returns held units to the pool.
func (l *Ledger) Release(ctx context.Context, r repository.Repos, ticketTypeID uint64, qty int, ref model.LedgerRef, reason string) (bool, error) {
	return l.apply(ctx, r, model.LedgerRelease, ticketTypeID, qty, ref, reason, func(inv repository.InventoryStore) error {
		return inv.ReleaseHeld(ctx, ticketTypeID, qty)
	})
}

// Restore returns sold units to the pool.
func (l *Ledger) Restore(ctx context.Context, r repository.Repos, ticketTypeID uint64, qty int, ref model.LedgerRef, reason string) (bool, error) {
	return l.apply(ctx, r, model.LedgerRestore, ticketTypeID, qty, ref, reason, func(inv repository.InventoryStore) error {
		return inv.RestoreSold(ctx, ticketTypeID, qty)
	})
}

// Availability reads the counters of one ticket type.
func (l *Ledger) Availability(ctx context.Context, ticketTypeID uint64) (model.Inventory, error) {
	return l.store.Inventory().Get(ctx, ticketTypeID)
}

// Entries returns the newest ledger entries of a ticket type.
func (l *Ledger) Entries(ctx context.Context, ticketTypeID uint64, limit int) ([]model.LedgerEntry, error) {
	return l.store.Inventory().ListEntries(ctx, ticketTypeID, limit)
}

func (l *Ledger) apply(ctx context.Context, r repository.Repos, kind model.LedgerKind, ticketTypeID uint64, qty int, ref model.LedgerRef, reason string, mutate func(repository.InventoryStore) error) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	inv := r.Inventory()
	fresh, err := inv.AppendEntry(ctx, model.LedgerEntry{
		TicketTypeID: ticketTypeID,
		Kind:         kind,
		Quantity:     qty,
		RefType:      ref.Type,
		RefID:        ref.ID,
		Reason:       reason,
	})
	if err != nil {
		observability.TrackLedger(string(kind), "error")
		return false, fmt.Errorf("ledger %s entry: %w", kind, err)
	}
	if !fresh {
		observability.TrackLedger(string(kind), "noop")
		return false, nil
	}
	if err := mutate(inv); err != nil {
		switch {
		case errors.Is(err, repository.ErrCapacityExceeded):
			observability.TrackLedger(string(kind), "sold_out")
		case errors.Is(err, repository.ErrLedgerUnderflow):
			observability.TrackLedger(string(kind), "underflow")
			l.opts.log.Error("ledger underflow",
				zap.String("kind", string(kind)), zap.Uint64("ticket_type_id", ticketTypeID),
				zap.Int("qty", qty), refField(ref))
		default:
			observability.TrackLedger(string(kind), "error")
		}
		return false, err
	}
	observability.TrackLedger(string(kind), "applied")
	if kind == model.LedgerRelease || kind == model.LedgerRestore {
		l.opts.log.Info("inventory returned",
			zap.String("kind", string(kind)), zap.Uint64("ticket_type_id", ticketTypeID),
			zap.Int("qty", qty), zap.String("reason", reason), refField(ref))
	}
	return true, nil
}

func refField(ref model.LedgerRef) zap.Field {
	if ref.Type == model.RefReservation {
		return zap.String("hold_id", ref.ID)
	}
	return zap.String(ref.Type+"_id", ref.ID)
}
