package model

import "time"

// RefundState tracks the reversing payment, not the order.  The order is
// REFUNDED or CANCELLED as soon as inventory is restored; the provider call
// may lag behind and is retried while the refund is PENDING.
type RefundState string

const (
    RefundPending   RefundState = "PENDING"
    RefundSucceeded RefundState = "SUCCEEDED"
    RefundFailed    RefundState = "FAILED"
)

// Refund is one full reversal of an order.  There is at most one per order.
type Refund struct {
    ID          string      // refunds.id
    OrderID     string      // refunds.order_id
    Reason      string      // refunds.reason
    AmountCents int64       // refunds.amount_cents
    Quantity    int         // refunds.quantity
    State       RefundState // refunds.state
    ProviderRef string      // refunds.provider_ref
    Attempts    int         // refunds.attempts
    LastError   string      // refunds.last_error
    CreatedAt   time.Time   // refunds.created_at
    UpdatedAt   time.Time   // refunds.updated_at
}
