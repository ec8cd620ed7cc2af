package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/ticket-marketplace/internal/model"
)

// OrderRepo provides access to orders and order_items.  An order is unique
// per reservation, and a payment reference can belong to one order only,
// which is what makes finalising the same charge twice harmless.
type OrderRepo struct {
	q Querier
}

// NewOrderRepo returns an OrderRepo bound to q.
func NewOrderRepo(q Querier) *OrderRepo { return &OrderRepo{q: q} }

const orderColumns = `id, buyer_id, reservation_id, event_id, state, total_cents, currency, payment_method,
    payment_ref, cancel_reason, created_at, updated_at, paid_at`

// Create inserts the order and its items.  Callers run it inside WithTx so
// the rows appear together.
func (r *OrderRepo) Create(ctx context.Context, o *model.Order) error {
	now := time.Now().UTC()
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO orders (id, buyer_id, reservation_id, event_id, state, total_cents, currency, payment_method, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.BuyerID, o.ReservationID, o.EventID, string(o.State), o.TotalCents, o.Currency, o.PaymentMethod, now, now)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if len(o.Items) > 0 {
		query := `INSERT INTO order_items (order_id, ticket_type_id, quantity, unit_price_cents) VALUES `
		args := make([]interface{}, 0, len(o.Items)*4)
		for i := range o.Items {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?)"
			o.Items[i].OrderID = o.ID
			it := o.Items[i]
			args = append(args, o.ID, it.TicketTypeID, it.Quantity, it.UnitPriceCents)
		}
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	o.CreatedAt, o.UpdatedAt = now, now
	return nil
}

// GetByID loads an order with its items.
func (r *OrderRepo) GetByID(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	return o, r.loadItems(ctx, o)
}

// GetByReservation loads the order created for a reservation.
func (r *OrderRepo) GetByReservation(ctx context.Context, reservationID string) (*model.Order, error) {
	o, err := scanOrder(r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE reservation_id = ?`, reservationID))
	if err != nil {
		return nil, err
	}
	return o, r.loadItems(ctx, o)
}

// MarkPaid moves a PENDING order to PAID.
func (r *OrderRepo) MarkPaid(ctx context.Context, id, paymentRef string, paidAt time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE orders SET state = 'PAID', payment_ref = ?, paid_at = ?, updated_at = ? WHERE id = ? AND state = 'PENDING'`,
		paymentRef, paidAt.UTC(), time.Now().UTC(), id)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	return staleIfNone(res)
}

// Transition moves the order from -> to, recording reason.
func (r *OrderRepo) Transition(ctx context.Context, id string, from, to model.OrderState, reason string) error {
	if !from.CanTransition(to) {
		return ErrStaleState
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE orders SET state = ?, cancel_reason = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(to), reason, time.Now().UTC(), id, string(from))
	if err != nil {
		return err
	}
	return staleIfNone(res)
}

// ListByBuyer returns a buyer's orders, newest first.
func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerID uint64, limit, offset int) ([]model.Order, error) {
	return r.list(ctx, `WHERE buyer_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, buyerID, limit, offset)
}

// ListByEvent returns the orders of an event, newest first.
func (r *OrderRepo) ListByEvent(ctx context.Context, eventID uint64, limit, offset int) ([]model.Order, error) {
	return r.list(ctx, `WHERE event_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, eventID, limit, offset)
}

// ListPendingBefore returns PENDING orders created before the cutoff; these
// are the candidates for reconciliation.
func (r *OrderRepo) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]model.Order, error) {
	return r.list(ctx, `WHERE state = 'PENDING' AND created_at < ? ORDER BY created_at LIMIT ?`, before.UTC(), limit)
}

func (r *OrderRepo) list(ctx context.Context, tail string, args ...interface{}) ([]model.Order, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders `+tail, args...)
	if err != nil {
		return nil, err
	}
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := r.loadItems(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *OrderRepo) loadItems(ctx context.Context, o *model.Order) error {
	rows, err := r.q.QueryContext(ctx,
		`SELECT order_id, ticket_type_id, quantity, unit_price_cents FROM order_items WHERE order_id = ? ORDER BY ticket_type_id`, o.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	o.Items = o.Items[:0]
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.OrderID, &it.TicketTypeID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o          model.Order
		state      string
		paymentRef sql.NullString
		paidAt     sql.NullTime
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.ReservationID, &o.EventID, &state, &o.TotalCents, &o.Currency,
		&o.PaymentMethod, &paymentRef, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.State = model.OrderState(state)
	o.PaymentRef = paymentRef.String
	o.Currency = strings.ToLower(o.Currency)
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return &o, nil
}

func staleIfNone(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleState
	}
	return nil
}
