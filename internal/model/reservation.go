package model

import "time"

// ReservationState is a node of the hold state machine:
//
//	HELD -> COMMITTED | RELEASED | EXPIRED
//
// The three targets are terminal.
type ReservationState string

const (
    ReservationHeld      ReservationState = "HELD"
    ReservationCommitted ReservationState = "COMMITTED"
    ReservationReleased  ReservationState = "RELEASED"
    ReservationExpired   ReservationState = "EXPIRED"
)

// CanTransition reports whether s -> next is an edge of the state machine.
func (s ReservationState) CanTransition(next ReservationState) bool {
    if s != ReservationHeld {
        return false
    }
    switch next {
    case ReservationCommitted, ReservationReleased, ReservationExpired:
        return true
    }
    return false
}

// Terminal reports whether no further transitions are possible.
func (s ReservationState) Terminal() bool { return s != ReservationHeld }

// Reservation is a time-boxed claim on inventory taken at checkout start.
// Its ID doubles as the hold token handed to the client.
//
// Fields:
//  ID             – uuid, the hold token.
//  BuyerID        – customer who placed the hold.
//  EventID        – event of the ticket type (denormalised for listings).
//  TicketTypeID   – ticket type being held.
//  Quantity       – number of tickets held.
//  UnitPriceCents – price captured at hold time.
//  Currency       – currency of the price.
//  State          – see ReservationState.
//  IdempotencyKey – client key; unique per buyer.
//  TerminalReason – why the hold left HELD (payment_declined, cancelled...).
//  ExpiresAt      – end of the hold TTL.
type Reservation struct {
    ID             string           // reservations.id
    BuyerID        uint64           // reservations.buyer_id
    EventID        uint64           // reservations.event_id
    TicketTypeID   uint64           // reservations.ticket_type_id
    Quantity       int              // reservations.quantity
    UnitPriceCents int64            // reservations.unit_price_cents
    Currency       string           // reservations.currency
    State          ReservationState // reservations.state
    IdempotencyKey string           // reservations.idempotency_key
    TerminalReason string           // reservations.terminal_reason
    ExpiresAt      time.Time        // reservations.expires_at
    CreatedAt      time.Time        // reservations.created_at
    UpdatedAt      time.Time        // reservations.updated_at
}

// ExpiredAt reports whether a HELD reservation has outlived its TTL at t.
func (r Reservation) ExpiredAt(t time.Time) bool {
    return r.State == ReservationHeld && !t.Before(r.ExpiresAt)
}

// TotalCents is quantity times the captured unit price.
func (r Reservation) TotalCents() int64 { return int64(r.Quantity) * r.UnitPriceCents }
