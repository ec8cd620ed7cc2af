package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/ticket-marketplace/internal/model"
)

// InventoryRepo provides data access to the inventory and ledger_entries
// tables.  Quantities are only ever changed with a single conditional
// UPDATE whose WHERE clause carries the capacity check, so two concurrent
// transactions can never both pass the check on the same row: InnoDB
// serialises the row update and the second statement re-evaluates the
// predicate against the committed value.
type InventoryRepo struct {
	q Querier
}

// NewInventoryRepo returns an InventoryRepo bound to q.
func NewInventoryRepo(q Querier) *InventoryRepo { return &InventoryRepo{q: q} }

// Create inserts the ledger row for a new ticket type.
func (r *InventoryRepo) Create(ctx context.Context, inv model.Inventory) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO inventory (ticket_type_id, total_capacity, held, sold) VALUES (?, ?, 0, 0)`,
		inv.TicketTypeID, inv.TotalCapacity)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// Get returns the current counters of a ticket type.
func (r *InventoryRepo) Get(ctx context.Context, ticketTypeID uint64) (model.Inventory, error) {
	var inv model.Inventory
	err := r.q.QueryRowContext(ctx,
		`SELECT ticket_type_id, total_capacity, held, sold, updated_at FROM inventory WHERE ticket_type_id = ?`,
		ticketTypeID).Scan(&inv.TicketTypeID, &inv.TotalCapacity, &inv.Held, &inv.Sold, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inv, ErrNotFound
	}
	return inv, err
}

// AddHeld is the compare-and-decrement of remaining capacity.
func (r *InventoryRepo) AddHeld(ctx context.Context, ticketTypeID uint64, qty int) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE inventory SET held = held + ? WHERE ticket_type_id = ? AND held + sold + ? <= total_capacity`,
		qty, ticketTypeID, qty)
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, res, ticketTypeID, ErrCapacityExceeded)
}

// MoveHeldToSold converts a hold into a sale.
func (r *InventoryRepo) MoveHeldToSold(ctx context.Context, ticketTypeID uint64, qty int) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE inventory SET held = held - ?, sold = sold + ? WHERE ticket_type_id = ? AND held >= ?`,
		qty, qty, ticketTypeID, qty)
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, res, ticketTypeID, ErrLedgerUnderflow)
}

// ReleaseHeld gives held capacity back.
func (r *InventoryRepo) ReleaseHeld(ctx context.Context, ticketTypeID uint64, qty int) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE inventory SET held = held - ? WHERE ticket_type_id = ? AND held >= ?`,
		qty, ticketTypeID, qty)
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, res, ticketTypeID, ErrLedgerUnderflow)
}

// RestoreSold gives sold capacity back after a refund or cancellation.
func (r *InventoryRepo) RestoreSold(ctx context.Context, ticketTypeID uint64, qty int) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE inventory SET sold = sold - ? WHERE ticket_type_id = ? AND sold >= ?`,
		qty, ticketTypeID, qty)
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, res, ticketTypeID, ErrLedgerUnderflow)
}

// Resize changes the total capacity.  Shrinking below held+sold fails with
// ErrConflict.
func (r *InventoryRepo) Resize(ctx context.Context, ticketTypeID uint64, total int) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE inventory SET total_capacity = ? WHERE ticket_type_id = ? AND held + sold <= ?`,
		total, ticketTypeID, total)
	if err != nil {
		return err
	}
	return r.checkAffected(ctx, res, ticketTypeID, ErrConflict)
}

// checkAffected maps "zero rows updated" to either ErrNotFound (no ledger
// row) or the guard error of the statement.  MySQL reports zero affected
// rows for an UPDATE that matched but changed nothing, which cannot happen
// here because every statement changes at least one column by qty > 0.
func (r *InventoryRepo) checkAffected(ctx context.Context, res sql.Result, ticketTypeID uint64, guardErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = r.q.QueryRowContext(ctx, `SELECT 1 FROM inventory WHERE ticket_type_id = ?`, ticketTypeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return guardErr
}

// AppendEntry inserts a ledger entry.  A unique key violation means the
// same mutation was already applied and is reported as (false, nil).
func (r *InventoryRepo) AppendEntry(ctx context.Context, e model.LedgerEntry) (bool, error) {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO ledger_entries (ticket_type_id, kind, quantity, ref_type, ref_id, reason) VALUES (?, ?, ?, ?, ?, ?)`,
		e.TicketTypeID, string(e.Kind), e.Quantity, e.RefType, e.RefID, e.Reason)
	if isDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListEntries returns the newest entries of a ticket type first.
func (r *InventoryRepo) ListEntries(ctx context.Context, ticketTypeID uint64, limit int) ([]model.LedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, ticket_type_id, kind, quantity, ref_type, ref_id, reason, created_at
         FROM ledger_entries WHERE ticket_type_id = ? ORDER BY id DESC LIMIT ?`,
		ticketTypeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.TicketTypeID, &kind, &e.Quantity, &e.RefType, &e.RefID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = model.LedgerKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
