package model

import "time"

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
    EventDraft     EventStatus = "DRAFT"
    EventPublished EventStatus = "PUBLISHED"
    EventCancelled EventStatus = "CANCELLED"
    EventArchived  EventStatus = "ARCHIVED"
)

// Event is something an organizer sells tickets for.  Tickets can only be
// held while the event is PUBLISHED and the current time is inside the sale
// window.
//
// Fields:
//  ID           – primary key identifier.
//  OrganizerID  – user who owns the event.
//  Title        – display title.
//  Description  – free text, may be empty.
//  Venue        – where the event happens.
//  StartsAt     – when the event begins; buyer cancellation closes here.
//  EndsAt       – when the event ends.
//  SaleStartsAt – first instant tickets can be held.
//  SaleEndsAt   – last instant tickets can be held.
//  Status       – DRAFT, PUBLISHED, CANCELLED or ARCHIVED.
type Event struct {
    ID           uint64      // events.id
    OrganizerID  uint64      // events.organizer_id
    Title        string      // events.title
    Description  string      // events.description
    Venue        string      // events.venue
    StartsAt     time.Time   // events.starts_at
    EndsAt       time.Time   // events.ends_at
    SaleStartsAt time.Time   // events.sale_starts_at
    SaleEndsAt   time.Time   // events.sale_ends_at
    Status       EventStatus // events.status
    CreatedAt    time.Time   // events.created_at
    UpdatedAt    time.Time   // events.updated_at
}

// OnSale reports whether holds may be placed at t.
func (e Event) OnSale(t time.Time) bool {
    return e.Status == EventPublished && !t.Before(e.SaleStartsAt) && t.Before(e.SaleEndsAt)
}

// CanTransition reports whether an organizer may move the event to next.
func (s EventStatus) CanTransition(next EventStatus) bool {
    switch s {
    case EventDraft:
        return next == EventPublished || next == EventCancelled
    case EventPublished:
        return next == EventCancelled || next == EventArchived
    case EventCancelled:
        return next == EventArchived
    }
    return false
}
