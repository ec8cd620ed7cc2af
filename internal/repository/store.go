package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/ticket-marketplace/internal/model"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so a repository can be
// bound to either.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InventoryStore is the ledger.  Every quantity change is a single
// conditional statement at the store level.
type InventoryStore interface {
	Create(ctx context.Context, inv model.Inventory) error
	Get(ctx context.Context, ticketTypeID uint64) (model.Inventory, error)
	// AddHeld increments held only if held+sold+qty <= total_capacity.
	AddHeld(ctx context.Context, ticketTypeID uint64, qty int) error
	// MoveHeldToSold converts qty held into sold.
	MoveHeldToSold(ctx context.Context, ticketTypeID uint64, qty int) error
	// ReleaseHeld returns qty held to the pool.
	ReleaseHeld(ctx context.Context, ticketTypeID uint64, qty int) error
	// RestoreSold returns qty sold to the pool.
	RestoreSold(ctx context.Context, ticketTypeID uint64, qty int) error
	// Resize changes total_capacity if it stays >= held+sold.
	Resize(ctx context.Context, ticketTypeID uint64, total int) error
	// AppendEntry records a mutation.  It returns false when an entry with
	// the same (ticket type, kind, ref) already exists.
	AppendEntry(ctx context.Context, e model.LedgerEntry) (bool, error)
	ListEntries(ctx context.Context, ticketTypeID uint64, limit int) ([]model.LedgerEntry, error)
}

// ReservationStore persists holds.
type ReservationStore interface {
	Create(ctx context.Context, r *model.Reservation) error
	GetByID(ctx context.Context, id string) (*model.Reservation, error)
	GetByIdempotencyKey(ctx context.Context, buyerID uint64, key string) (*model.Reservation, error)
	// Transition moves a reservation from one state to another and fails
	// with ErrStaleState if the row is not in from.
	Transition(ctx context.Context, id string, from, to model.ReservationState, reason string) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// OrderStore persists orders and their items.
type OrderStore interface {
	Create(ctx context.Context, o *model.Order) error
	GetByID(ctx context.Context, id string) (*model.Order, error)
	GetByReservation(ctx context.Context, reservationID string) (*model.Order, error)
	// MarkPaid moves a PENDING order to PAID and records the payment ref.
	MarkPaid(ctx context.Context, id, paymentRef string, paidAt time.Time) error
	Transition(ctx context.Context, id string, from, to model.OrderState, reason string) error
	ListByBuyer(ctx context.Context, buyerID uint64, limit, offset int) ([]model.Order, error)
	ListByEvent(ctx context.Context, eventID uint64, limit, offset int) ([]model.Order, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]model.Order, error)
}

// RefundStore persists refund attempts.
type RefundStore interface {
	Create(ctx context.Context, r *model.Refund) error
	GetByOrder(ctx context.Context, orderID string) (*model.Refund, error)
	// MarkResult records the outcome of a provider call and bumps attempts.
	MarkResult(ctx context.Context, id string, state model.RefundState, providerRef, lastError string) error
	ListPending(ctx context.Context, limit int) ([]model.Refund, error)
}

// EventStore persists events and ticket types.
type EventStore interface {
	Create(ctx context.Context, e *model.Event) error
	GetByID(ctx context.Context, id uint64) (*model.Event, error)
	Update(ctx context.Context, e *model.Event) error
	SetStatus(ctx context.Context, id uint64, from, to model.EventStatus) error
	ListPublished(ctx context.Context, query string, now time.Time, limit, offset int) ([]model.Event, error)
	ListByOrganizer(ctx context.Context, organizerID uint64) ([]model.Event, error)
	CreateTicketType(ctx context.Context, t *model.TicketType) error
	GetTicketType(ctx context.Context, id uint64) (*model.TicketType, error)
	ListTicketTypes(ctx context.Context, eventID uint64) ([]model.TicketType, error)
}

// UserStore persists accounts.
type UserStore interface {
	Create(ctx context.Context, email, password, role string, cost int) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// TokenStore persists hashed refresh tokens.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// Repos groups the stores that take part in checkout transactions.
type Repos interface {
	Inventory() InventoryStore
	Reservations() ReservationStore
	Orders() OrderStore
	Refunds() RefundStore
	Events() EventStore
}

// Store gives non-transactional access through Repos and runs fn inside a
// single transaction with WithTx.  The Repos passed to fn must not escape
// it.  If fn returns an error every change made through it is discarded.
type Store interface {
	Repos
	Users() UserStore
	Tokens() TokenStore
	WithTx(ctx context.Context, fn func(r Repos) error) error
}
