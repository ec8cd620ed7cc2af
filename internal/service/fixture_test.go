package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/payment"
	"github.com/iliyamo/ticket-marketplace/internal/queue"
	"github.com/iliyamo/ticket-marketplace/internal/repository/memstore"
)

const (
	organizerID = uint64(1)
	buyerA      = uint64(10)
	buyerB      = uint64(11)
	holdTTL     = 10 * time.Minute
	priceCents  = int64(2500)
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt queue.OrderEvent) error {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDeduper) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
	return nil
}

type fixture struct {
	store        *memstore.Store
	clock        *testClock
	fake         *payment.FakeProvider
	pub          *recordingPublisher
	ledger       *Ledger
	reservations *ReservationManager
	coord        *Coordinator
	refunds      *RefundProcessor
	catalog      *Catalog
}

// newFixture wires every service over an in-memory store.  The provider is
// retried up to attempts times without backoff.
func newFixture(t *testing.T, attempts int) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		clock: &testClock{t: time.Now().UTC()},
		fake:  payment.NewFakeProvider("whsec_test"),
		pub:   &recordingPublisher{},
	}
	opts := []Option{WithClock(f.clock.Now), WithPublisher(f.pub)}
	provider := payment.NewRetrying(f.fake, payment.RetryPolicy{MaxAttempts: attempts}, nil)
	f.ledger = NewLedger(f.store, opts...)
	f.reservations = NewReservationManager(f.store, f.ledger, holdTTL, opts...)
	f.coord = NewCoordinator(f.store, f.ledger, f.reservations, provider, &memDeduper{seen: map[string]bool{}}, opts...)
	f.refunds = NewRefundProcessor(f.store, f.ledger, provider, opts...)
	f.catalog = NewCatalog(f.store, "usd", opts...)
	return f
}

// onSale creates a published event with one ticket type of the given
// capacity and returns the ticket type id.
func (f *fixture) onSale(t *testing.T, capacity, maxPerOrder int) uint64 {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()
	ev, err := f.catalog.CreateEvent(ctx, organizerID, EventInput{
		Title:        "Concert",
		Venue:        "Main Hall",
		StartsAt:     now.Add(48 * time.Hour),
		EndsAt:       now.Add(50 * time.Hour),
		SaleStartsAt: now.Add(-time.Hour),
		SaleEndsAt:   now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	tt, err := f.catalog.AddTicketType(ctx, organizerID, ev.ID, TicketTypeInput{
		Name:        "General",
		PriceCents:  priceCents,
		Capacity:    capacity,
		MaxPerOrder: maxPerOrder,
	})
	require.NoError(t, err)
	_, err = f.catalog.SetStatus(ctx, organizerID, ev.ID, model.EventPublished)
	require.NoError(t, err)
	return tt.ID
}

func (f *fixture) hold(t *testing.T, buyer, ticketTypeID uint64, qty int, key string) *model.Reservation {
	t.Helper()
	res, err := f.reservations.Hold(context.Background(), HoldRequest{
		BuyerID: buyer, TicketTypeID: ticketTypeID, Quantity: qty, IdempotencyKey: key,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) inventory(t *testing.T, ticketTypeID uint64) model.Inventory {
	t.Helper()
	inv, err := f.ledger.Availability(context.Background(), ticketTypeID)
	require.NoError(t, err)
	return inv
}

func (f *fixture) order(t *testing.T, id string) *model.Order {
	t.Helper()
	ord, err := f.store.Orders().GetByID(context.Background(), id)
	require.NoError(t, err)
	return ord
}

func (f *fixture) reservation(t *testing.T, id string) *model.Reservation {
	t.Helper()
	res, err := f.store.Reservations().GetByID(context.Background(), id)
	require.NoError(t, err)
	return res
}

// webhook delivers a signed provider notification about orderID.
func (f *fixture) webhook(t *testing.T, eventType, orderID string) payment.WebhookEvent {
	t.Helper()
	payload, sig, err := f.fake.SignedWebhook(eventType, orderID)
	require.NoError(t, err)
	evt, err := f.fake.ParseWebhook(payload, sig)
	require.NoError(t, err)
	return evt
}

// requireBalanced checks the ledger row against capacity.
func requireBalanced(t *testing.T, inv model.Inventory, held, sold int) {
	t.Helper()
	require.Equal(t, held, inv.Held, "held")
	require.Equal(t, sold, inv.Sold, "sold")
	require.LessOrEqual(t, inv.Held+inv.Sold, inv.TotalCapacity)
}
