package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/ticket-marketplace/internal/model"
)

// ReservationRepo provides access to the reservations table.  State
// changes go through Transition, which is a compare-and-set on the state
// column: of two racing writers (buyer release vs. expiry sweep, or commit
// vs. expiry) exactly one sees a row affected.
type ReservationRepo struct {
	q Querier
}

// NewReservationRepo returns a ReservationRepo bound to q.
func NewReservationRepo(q Querier) *ReservationRepo { return &ReservationRepo{q: q} }

const reservationColumns = `id, buyer_id, event_id, ticket_type_id, quantity, unit_price_cents, currency,
    state, idempotency_key, terminal_reason, expires_at, created_at, updated_at`

// Create inserts a HELD reservation.  A second reservation with the same
// (buyer, idempotency key) fails with ErrDuplicate.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation) error {
	now := time.Now().UTC()
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO reservations (id, buyer_id, event_id, ticket_type_id, quantity, unit_price_cents, currency,
            state, idempotency_key, expires_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.BuyerID, res.EventID, res.TicketTypeID, res.Quantity, res.UnitPriceCents, res.Currency,
		string(res.State), res.IdempotencyKey, res.ExpiresAt.UTC(), now, now)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	res.CreatedAt, res.UpdatedAt = now, now
	return nil
}

// GetByID loads a reservation.
func (r *ReservationRepo) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	return scanReservation(r.q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
}

// GetByIdempotencyKey finds the reservation a buyer created with key.
func (r *ReservationRepo) GetByIdempotencyKey(ctx context.Context, buyerID uint64, key string) (*model.Reservation, error) {
	return scanReservation(r.q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE buyer_id = ? AND idempotency_key = ?`, buyerID, key))
}

// Transition moves the reservation from -> to.  The edge must exist in the
// state machine; ErrStaleState means another writer got there first.
func (r *ReservationRepo) Transition(ctx context.Context, id string, from, to model.ReservationState, reason string) error {
	if !from.CanTransition(to) {
		return ErrStaleState
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE reservations SET state = ?, terminal_reason = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(to), reason, time.Now().UTC(), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleState
	}
	return nil
}

// ListExpired returns ids of HELD reservations whose TTL elapsed at now,
// oldest first.
func (r *ReservationRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id FROM reservations WHERE state = 'HELD' AND expires_at <= ? ORDER BY expires_at LIMIT ?`,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanReservation(row *sql.Row) (*model.Reservation, error) {
	var res model.Reservation
	var state string
	err := row.Scan(&res.ID, &res.BuyerID, &res.EventID, &res.TicketTypeID, &res.Quantity, &res.UnitPriceCents,
		&res.Currency, &state, &res.IdempotencyKey, &res.TerminalReason, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	res.State = model.ReservationState(state)
	return &res, nil
}
