package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
)

// EventInput is the editable part of an event.
type EventInput struct {
	Title        string
	Description  string
	Venue        string
	StartsAt     time.Time
	EndsAt       time.Time
	SaleStartsAt time.Time
	SaleEndsAt   time.Time
}

func (in EventInput) validate() error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title is required", ErrValidation)
	case strings.TrimSpace(in.Venue) == "":
		return fmt.Errorf("%w: venue is required", ErrValidation)
	case !in.EndsAt.After(in.StartsAt):
		return fmt.Errorf("%w: ends_at must be after starts_at", ErrValidation)
	case !in.SaleEndsAt.After(in.SaleStartsAt):
		return fmt.Errorf("%w: sale_ends_at must be after sale_starts_at", ErrValidation)
	case in.SaleEndsAt.After(in.StartsAt):
		return fmt.Errorf("%w: sales must end before the event starts", ErrValidation)
	}
	return nil
}

// TicketTypeInput describes a new ticket type and its capacity.
type TicketTypeInput struct {
	Name        string
	PriceCents  int64
	Currency    string
	Capacity    int
	MaxPerOrder int
}

// TicketTypeView is a ticket type with its live availability.
type TicketTypeView struct {
	model.TicketType
	TotalCapacity int
	Available     int
}

// Catalog manages events and ticket types for organizers and serves the
// public browse endpoints.
type Catalog struct {
	store           repository.Store
	defaultCurrency string
	opts            options
}

// NewCatalog returns a Catalog.  defaultCurrency applies to ticket types
// created without one.
func NewCatalog(store repository.Store, defaultCurrency string, opts ...Option) *Catalog {
	return &Catalog{store: store, defaultCurrency: strings.ToLower(defaultCurrency), opts: buildOptions(opts)}
}

// Currency normalises an ISO 4217 code, falling back to the default
// currency when code is empty.
func (c *Catalog) Currency(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return c.defaultCurrency
	}
	return code
}

// CreateEvent stores a DRAFT event owned by organizerID.
func (c *Catalog) CreateEvent(ctx context.Context, organizerID uint64, in EventInput) (*model.Event, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	ev := &model.Event{
		OrganizerID:  organizerID,
		Title:        strings.TrimSpace(in.Title),
		Description:  strings.TrimSpace(in.Description),
		Venue:        strings.TrimSpace(in.Venue),
		StartsAt:     in.StartsAt.UTC(),
		EndsAt:       in.EndsAt.UTC(),
		SaleStartsAt: in.SaleStartsAt.UTC(),
		SaleEndsAt:   in.SaleEndsAt.UTC(),
		Status:       model.EventDraft,
	}
	if err := c.store.Events().Create(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// owned loads an event and checks that organizerID owns it.  Foreign
// events are reported as missing.
func (c *Catalog) owned(ctx context.Context, organizerID, eventID uint64) (*model.Event, error) {
	ev, err := c.store.Events().GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.OrganizerID != organizerID {
		return nil, ErrNotFound
	}
	return ev, nil
}

// UpdateEvent replaces the editable fields of an event that has not been
// cancelled or archived.
func (c *Catalog) UpdateEvent(ctx context.Context, organizerID, eventID uint64, in EventInput) (*model.Event, error) {
	ev, err := c.owned(ctx, organizerID, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Status == model.EventCancelled || ev.Status == model.EventArchived {
		return nil, fmt.Errorf("%w: event is %s", ErrInvalidState, ev.Status)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	ev.Title, ev.Description, ev.Venue = strings.TrimSpace(in.Title), strings.TrimSpace(in.Description), strings.TrimSpace(in.Venue)
	ev.StartsAt, ev.EndsAt = in.StartsAt.UTC(), in.EndsAt.UTC()
	ev.SaleStartsAt, ev.SaleEndsAt = in.SaleStartsAt.UTC(), in.SaleEndsAt.UTC()
	if err := c.store.Events().Update(ctx, ev); err != nil {
		return nil, err
	}
	return c.store.Events().GetByID(ctx, eventID)
}

// SetStatus moves an event along DRAFT -> PUBLISHED -> ARCHIVED (or
// CANCELLED).  Publishing needs at least one ticket type.
func (c *Catalog) SetStatus(ctx context.Context, organizerID, eventID uint64, to model.EventStatus) (*model.Event, error) {
	ev, err := c.owned(ctx, organizerID, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Status == to {
		return ev, nil
	}
	if !ev.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: cannot move event from %s to %s", ErrInvalidState, ev.Status, to)
	}
	if to == model.EventPublished {
		tts, err := c.store.Events().ListTicketTypes(ctx, eventID)
		if err != nil {
			return nil, err
		}
		if len(tts) == 0 {
			return nil, fmt.Errorf("%w: add a ticket type before publishing", ErrInvalidState)
		}
	}
	if err := c.store.Events().SetStatus(ctx, eventID, ev.Status, to); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, fmt.Errorf("%w: event changed concurrently", ErrInvalidState)
		}
		return nil, err
	}
	return c.store.Events().GetByID(ctx, eventID)
}

// AddTicketType creates a ticket type together with its ledger row.
func (c *Catalog) AddTicketType(ctx context.Context, organizerID, eventID uint64, in TicketTypeInput) (*TicketTypeView, error) {
	ev, err := c.owned(ctx, organizerID, eventID)
	if err != nil {
		return nil, err
	}
	if ev.Status != model.EventDraft && ev.Status != model.EventPublished {
		return nil, fmt.Errorf("%w: event is %s", ErrInvalidState, ev.Status)
	}
	switch {
	case strings.TrimSpace(in.Name) == "":
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	case in.PriceCents < 0:
		return nil, fmt.Errorf("%w: price must not be negative", ErrValidation)
	case in.Capacity < 1:
		return nil, fmt.Errorf("%w: capacity must be at least 1", ErrValidation)
	case in.MaxPerOrder < 0:
		return nil, fmt.Errorf("%w: max_per_order must not be negative", ErrValidation)
	}
	currency := c.Currency(in.Currency)
	tt := &model.TicketType{
		EventID:     eventID,
		Name:        strings.TrimSpace(in.Name),
		PriceCents:  in.PriceCents,
		Currency:    currency,
		MaxPerOrder: in.MaxPerOrder,
	}
	err = c.store.WithTx(ctx, func(r repository.Repos) error {
		if err := r.Events().CreateTicketType(ctx, tt); err != nil {
			return err
		}
		return r.Inventory().Create(ctx, model.Inventory{TicketTypeID: tt.ID, TotalCapacity: in.Capacity})
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("%w: a ticket type named %q already exists", ErrInvalidState, tt.Name)
	}
	if err != nil {
		return nil, err
	}
	return &TicketTypeView{TicketType: *tt, TotalCapacity: in.Capacity, Available: in.Capacity}, nil
}

// ResizeTicketType changes capacity.  It cannot drop below what is already
// held or sold.
func (c *Catalog) ResizeTicketType(ctx context.Context, organizerID, ticketTypeID uint64, capacity int) (*TicketTypeView, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: capacity must not be negative", ErrValidation)
	}
	tt, err := c.store.Events().GetTicketType(ctx, ticketTypeID)
	if err != nil {
		return nil, err
	}
	if _, err := c.owned(ctx, organizerID, tt.EventID); err != nil {
		return nil, err
	}
	if err := c.store.Inventory().Resize(ctx, ticketTypeID, capacity); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: capacity below tickets already held or sold", ErrInvalidState)
		}
		return nil, err
	}
	inv, err := c.store.Inventory().Get(ctx, ticketTypeID)
	if err != nil {
		return nil, err
	}
	return &TicketTypeView{TicketType: *tt, TotalCapacity: inv.TotalCapacity, Available: inv.Available()}, nil
}

// ListMine returns every event of an organizer.
func (c *Catalog) ListMine(ctx context.Context, organizerID uint64) ([]model.Event, error) {
	return c.store.Events().ListByOrganizer(ctx, organizerID)
}

// EventOrders lists the orders of an organizer's event.
func (c *Catalog) EventOrders(ctx context.Context, organizerID, eventID uint64, limit, offset int) ([]model.Order, error) {
	if _, err := c.owned(ctx, organizerID, eventID); err != nil {
		return nil, err
	}
	return c.store.Orders().ListByEvent(ctx, eventID, limit, offset)
}

// ListPublished pages through published, not yet finished events whose
// title contains query.
func (c *Catalog) ListPublished(ctx context.Context, query string, limit, offset int) ([]model.Event, error) {
	return c.store.Events().ListPublished(ctx, strings.TrimSpace(query), c.opts.clock(), limit, offset)
}

// PublicEvent returns a published event with its ticket types.
func (c *Catalog) PublicEvent(ctx context.Context, eventID uint64) (*model.Event, []TicketTypeView, error) {
	ev, err := c.store.Events().GetByID(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	if ev.Status != model.EventPublished {
		return nil, nil, ErrNotFound
	}
	views, err := c.TicketTypes(ctx, eventID)
	if err != nil {
		return nil, nil, err
	}
	return ev, views, nil
}

// TicketTypes lists an event's ticket types with availability.
func (c *Catalog) TicketTypes(ctx context.Context, eventID uint64) ([]TicketTypeView, error) {
	tts, err := c.store.Events().ListTicketTypes(ctx, eventID)
	if err != nil {
		return nil, err
	}
	out := make([]TicketTypeView, 0, len(tts))
	for _, tt := range tts {
		inv, err := c.store.Inventory().Get(ctx, tt.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, TicketTypeView{TicketType: tt, TotalCapacity: inv.TotalCapacity, Available: inv.Available()})
	}
	return out, nil
}

// Availability returns the counters of one ticket type.
func (c *Catalog) Availability(ctx context.Context, ticketTypeID uint64) (model.Inventory, error) {
	return c.store.Inventory().Get(ctx, ticketTypeID)
}
