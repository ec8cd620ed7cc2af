package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReservationState_OnlyHeldMoves(t *testing.T) {
	for _, next := range []ReservationState{ReservationCommitted, ReservationReleased, ReservationExpired} {
		assert.True(t, ReservationHeld.CanTransition(next), next)
		for _, from := range []ReservationState{ReservationCommitted, ReservationReleased, ReservationExpired} {
			assert.False(t, from.CanTransition(next), "%s -> %s", from, next)
		}
	}
	assert.False(t, ReservationHeld.CanTransition(ReservationHeld))
	assert.False(t, ReservationHeld.Terminal())
	assert.True(t, ReservationExpired.Terminal())
}

func TestOrderState_Transitions(t *testing.T) {
	tests := []struct {
		from, to OrderState
		ok       bool
	}{
		{OrderPending, OrderPaid, true},
		{OrderPending, OrderCancelled, true},
		{OrderPending, OrderRefunded, false},
		{OrderPaid, OrderRefunded, true},
		{OrderPaid, OrderCancelled, true},
		{OrderPaid, OrderPending, false},
		{OrderRefunded, OrderPaid, false},
		{OrderCancelled, OrderPaid, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestEventStatus_Transitions(t *testing.T) {
	assert.True(t, EventDraft.CanTransition(EventPublished))
	assert.False(t, EventDraft.CanTransition(EventArchived))
	assert.True(t, EventPublished.CanTransition(EventCancelled))
	assert.True(t, EventCancelled.CanTransition(EventArchived))
	assert.False(t, EventArchived.CanTransition(EventPublished))
}

func TestEvent_OnSaleWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := Event{Status: EventPublished, SaleStartsAt: start, SaleEndsAt: start.Add(time.Hour)}

	assert.False(t, ev.OnSale(start.Add(-time.Second)))
	assert.True(t, ev.OnSale(start))
	assert.True(t, ev.OnSale(start.Add(59*time.Minute)))
	assert.False(t, ev.OnSale(start.Add(time.Hour)))

	ev.Status = EventDraft
	assert.False(t, ev.OnSale(start))
}

func TestReservation_ExpiredAtBoundary(t *testing.T) {
	exp := time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC)
	r := Reservation{State: ReservationHeld, ExpiresAt: exp, Quantity: 3, UnitPriceCents: 1250}

	assert.False(t, r.ExpiredAt(exp.Add(-time.Nanosecond)))
	assert.True(t, r.ExpiredAt(exp))
	assert.EqualValues(t, 3750, r.TotalCents())

	r.State = ReservationCommitted
	assert.False(t, r.ExpiredAt(exp.Add(time.Hour)))
}

func TestInventory_Available(t *testing.T) {
	assert.Equal(t, 3, Inventory{TotalCapacity: 10, Held: 4, Sold: 3}.Available())
	// capacity shrunk below current usage never reports negative stock
	assert.Equal(t, 0, Inventory{TotalCapacity: 2, Held: 2, Sold: 1}.Available())
}

func TestOrder_QuantityAndRefs(t *testing.T) {
	o := Order{Items: []OrderItem{{Quantity: 2}, {Quantity: 1}}}
	assert.Equal(t, 3, o.Quantity())
	assert.Equal(t, LedgerRef{Type: RefReservation, ID: "r"}, HoldRef("r"))
	assert.Equal(t, LedgerRef{Type: RefOrder, ID: "o"}, OrderRef("o"))
	assert.True(t, ValidRole(RoleOrganizer))
	assert.False(t, ValidRole(RoleAdmin))
}
