// Package queue defines the order event payloads published to the message
// broker, the publisher and the audit consumer.
package queue

// Event types carried in OrderEvent.Type.
const (
    EventOrderPaid           = "order.paid"
    EventOrderCancelled      = "order.cancelled"
    EventOrderRefunded       = "order.refunded"
    EventReservationReleased = "reservation.released"
)

// OrderEventsQueue is the durable queue all order events are routed to.
const OrderEventsQueue = "order.events"

// OrderEvent is published after an order or hold reaches a terminal state.
// It contains enough information for downstream consumers to log, notify, or
// trigger analytics without querying the primary database.
type OrderEvent struct {
    Type          string `json:"type"`
    OrderID       string `json:"order_id,omitempty"`
    ReservationID string `json:"reservation_id"`
    BuyerID       uint64 `json:"buyer_id"`
    EventID       uint64 `json:"event_id"`
    TicketTypeID  uint64 `json:"ticket_type_id"`
    Quantity      int    `json:"quantity"`
    AmountCents   int64  `json:"amount_cents"`
    Currency      string `json:"currency"`
    PaymentRef    string `json:"payment_ref,omitempty"`
    Reason        string `json:"reason,omitempty"`
    OccurredAt    string `json:"occurred_at"` // RFC 3339, UTC
}
