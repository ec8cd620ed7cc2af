package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/ticket-marketplace/internal/model"
)

// RefundRepo provides access to the refunds table.
type RefundRepo struct {
	q Querier
}

// NewRefundRepo returns a RefundRepo bound to q.
func NewRefundRepo(q Querier) *RefundRepo { return &RefundRepo{q: q} }

const refundColumns = `id, order_id, reason, amount_cents, quantity, state, provider_ref, attempts, last_error, created_at, updated_at`

// Create inserts a PENDING refund.  One refund per order.
func (r *RefundRepo) Create(ctx context.Context, rf *model.Refund) error {
	now := time.Now().UTC()
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO refunds (id, order_id, reason, amount_cents, quantity, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rf.ID, rf.OrderID, rf.Reason, rf.AmountCents, rf.Quantity, string(rf.State), now, now)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	rf.CreatedAt, rf.UpdatedAt = now, now
	return nil
}

// GetByOrder loads the refund of an order.
func (r *RefundRepo) GetByOrder(ctx context.Context, orderID string) (*model.Refund, error) {
	return scanRefund(r.q.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refunds WHERE order_id = ?`, orderID))
}

// MarkResult stores the outcome of one provider attempt.  A SUCCEEDED
// refund is never downgraded.
func (r *RefundRepo) MarkResult(ctx context.Context, id string, state model.RefundState, providerRef, lastError string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE refunds SET state = ?, provider_ref = COALESCE(NULLIF(?, ''), provider_ref), last_error = ?,
            attempts = attempts + 1, updated_at = ?
         WHERE id = ? AND state <> 'SUCCEEDED'`,
		string(state), providerRef, truncate(lastError, 255), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return staleIfNone(res)
}

// ListPending returns PENDING refunds, least recently attempted first.
func (r *RefundRepo) ListPending(ctx context.Context, limit int) ([]model.Refund, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE state = 'PENDING' ORDER BY updated_at LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rf)
	}
	return out, rows.Err()
}

func scanRefund(row rowScanner) (*model.Refund, error) {
	var (
		rf    model.Refund
		state string
		ref   sql.NullString
	)
	err := row.Scan(&rf.ID, &rf.OrderID, &rf.Reason, &rf.AmountCents, &rf.Quantity, &state, &ref, &rf.Attempts,
		&rf.LastError, &rf.CreatedAt, &rf.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rf.State = model.RefundState(state)
	rf.ProviderRef = ref.String
	return &rf, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
