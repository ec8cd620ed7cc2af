package model

import "time"

// TicketType is a priced tier of an event.  Its capacity lives on the
// matching Inventory row; the ticket type itself never stores a remaining
// count.
type TicketType struct {
    ID          uint64    // ticket_types.id
    EventID     uint64    // ticket_types.event_id
    Name        string    // ticket_types.name
    PriceCents  int64     // ticket_types.price_cents
    Currency    string    // ticket_types.currency (ISO 4217, lower case)
    MaxPerOrder int       // ticket_types.max_per_order
    CreatedAt   time.Time // ticket_types.created_at
}

// Inventory is the ledger row for one ticket type.  The store guarantees
// Held + Sold <= TotalCapacity.
type Inventory struct {
    TicketTypeID  uint64    // inventory.ticket_type_id
    TotalCapacity int       // inventory.total_capacity
    Held          int       // inventory.held
    Sold          int       // inventory.sold
    UpdatedAt     time.Time // inventory.updated_at
}

// Available is the quantity that can still be held.
func (i Inventory) Available() int {
    if n := i.TotalCapacity - i.Held - i.Sold; n > 0 {
        return n
    }
    return 0
}

// LedgerKind names a ledger mutation.
type LedgerKind string

const (
    LedgerHold    LedgerKind = "HOLD"
    LedgerCommit  LedgerKind = "COMMIT"
    LedgerRelease LedgerKind = "RELEASE"
    LedgerRestore LedgerKind = "RESTORE"
)

// Ledger reference types.
const (
    RefReservation = "reservation"
    RefOrder       = "order"
)

// LedgerEntry is the audit row written with every inventory mutation.  The
// (TicketTypeID, Kind, RefType, RefID) tuple is unique, which is what makes
// repeated commits and releases no-ops.
type LedgerEntry struct {
    ID           uint64
    TicketTypeID uint64
    Kind         LedgerKind
    Quantity     int
    RefType      string
    RefID        string
    Reason       string
    CreatedAt    time.Time
}

// LedgerRef names the reservation or order a ledger entry belongs to.
type LedgerRef struct {
    Type string
    ID   string
}

// HoldRef references a reservation.
func HoldRef(reservationID string) LedgerRef { return LedgerRef{Type: RefReservation, ID: reservationID} }

// OrderRef references an order.
func OrderRef(orderID string) LedgerRef { return LedgerRef{Type: RefOrder, ID: orderID} }
