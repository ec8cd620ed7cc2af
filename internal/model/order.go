package model

import "time"

// OrderState is a node of the order state machine:
//
//	PENDING -> PAID | CANCELLED
//	PAID    -> CANCELLED | REFUNDED
type OrderState string

const (
    OrderPending   OrderState = "PENDING"
    OrderPaid      OrderState = "PAID"
    OrderCancelled OrderState = "CANCELLED"
    OrderRefunded  OrderState = "REFUNDED"
)

// CanTransition reports whether s -> next is allowed.
func (s OrderState) CanTransition(next OrderState) bool {
    switch s {
    case OrderPending:
        return next == OrderPaid || next == OrderCancelled
    case OrderPaid:
        return next == OrderCancelled || next == OrderRefunded
    }
    return false
}

// Order is the durable record of a purchase.  It is written as PENDING
// before the charge so that a crash after the provider accepted the payment
// still leaves something for reconciliation to find.  Once PAID it only
// changes state.
type Order struct {
    ID            string     // orders.id
    BuyerID       uint64     // orders.buyer_id
    ReservationID string     // orders.reservation_id
    EventID       uint64     // orders.event_id
    State         OrderState // orders.state
    TotalCents    int64      // orders.total_cents
    Currency      string     // orders.currency
    PaymentMethod string     // orders.payment_method
    PaymentRef    string     // orders.payment_ref, empty until PAID
    CancelReason  string     // orders.cancel_reason
    Items         []OrderItem
    CreatedAt     time.Time  // orders.created_at
    UpdatedAt     time.Time  // orders.updated_at
    PaidAt        *time.Time // orders.paid_at
}

// Quantity sums all line items.
func (o Order) Quantity() int {
    n := 0
    for _, it := range o.Items {
        n += it.Quantity
    }
    return n
}

// OrderItem is one line of an order.
type OrderItem struct {
    OrderID        string // order_items.order_id
    TicketTypeID   uint64 // order_items.ticket_type_id
    Quantity       int    // order_items.quantity
    UnitPriceCents int64  // order_items.unit_price_cents
}
