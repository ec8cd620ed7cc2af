package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/ticket-marketplace/internal/model"
)

// EventRepo provides access to events and ticket_types.
type EventRepo struct {
	q Querier
}

// NewEventRepo returns an EventRepo bound to q.
func NewEventRepo(q Querier) *EventRepo { return &EventRepo{q: q} }

const eventColumns = `id, organizer_id, title, COALESCE(description, ''), venue, starts_at, ends_at,
	sale_starts_at, sale_ends_at, status, created_at, updated_at`

// Create inserts an event and populates its ID.
func (r *EventRepo) Create(ctx context.Context, e *model.Event) error {
	now := time.Now().UTC()
	if e.Status == "" {
		e.Status = model.EventDraft
	}
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO events (organizer_id, title, description, venue, starts_at, ends_at, sale_starts_at, sale_ends_at, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OrganizerID, e.Title, e.Description, e.Venue, e.StartsAt.UTC(), e.EndsAt.UTC(),
		e.SaleStartsAt.UTC(), e.SaleEndsAt.UTC(), string(e.Status), now, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	e.CreatedAt, e.UpdatedAt = now, now
	return nil
}

// GetByID loads an event.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	return scanEvent(r.q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
}

// Update overwrites the editable fields of an event.
func (r *EventRepo) Update(ctx context.Context, e *model.Event) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE events SET title = ?, description = ?, venue = ?, starts_at = ?, ends_at = ?,
			sale_starts_at = ?, sale_ends_at = ?, updated_at = ?
		 WHERE id = ?`,
		e.Title, e.Description, e.Venue, e.StartsAt.UTC(), e.EndsAt.UTC(),
		e.SaleStartsAt.UTC(), e.SaleEndsAt.UTC(), time.Now().UTC(), e.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// SetStatus moves an event between lifecycle states.
func (r *EventRepo) SetStatus(ctx context.Context, id uint64, from, to model.EventStatus) error {
	if !from.CanTransition(to) {
		return ErrStaleState
	}
	res, err := r.q.ExecContext(ctx,
		`UPDATE events SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return err
	}
	return staleIfNone(res)
}

// ListPublished returns published events that have not ended, optionally
// filtered by a case-insensitive title substring.
func (r *EventRepo) ListPublished(ctx context.Context, query string, now time.Time, limit, offset int) ([]model.Event, error) {
	where := []string{"status = 'PUBLISHED'", "ends_at >= ?"}
	args := []any{now.UTC()}
	if q := strings.TrimSpace(query); q != "" {
		where = append(where, "LOWER(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(q)+"%")
	}
	args = append(args, limit, offset)
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE `+strings.Join(where, " AND ")+` ORDER BY starts_at ASC, id LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// ListByOrganizer returns all events of an organizer.
func (r *EventRepo) ListByOrganizer(ctx context.Context, organizerID uint64) ([]model.Event, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE organizer_id = ? ORDER BY starts_at DESC, id`, organizerID)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// CreateTicketType inserts a ticket type.  Callers create the matching
// inventory row in the same transaction.
func (r *EventRepo) CreateTicketType(ctx context.Context, t *model.TicketType) error {
	now := time.Now().UTC()
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO ticket_types (event_id, name, price_cents, currency, max_per_order, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.EventID, t.Name, t.PriceCents, strings.ToLower(t.Currency), t.MaxPerOrder, now)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	t.CreatedAt = now
	return nil
}

// GetTicketType loads a ticket type.
func (r *EventRepo) GetTicketType(ctx context.Context, id uint64) (*model.TicketType, error) {
	var t model.TicketType
	err := r.q.QueryRowContext(ctx,
		`SELECT id, event_id, name, price_cents, currency, max_per_order, created_at FROM ticket_types WHERE id = ?`, id).
		Scan(&t.ID, &t.EventID, &t.Name, &t.PriceCents, &t.Currency, &t.MaxPerOrder, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTicketTypes returns the ticket types of an event ordered by price.
func (r *EventRepo) ListTicketTypes(ctx context.Context, eventID uint64) ([]model.TicketType, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, event_id, name, price_cents, currency, max_per_order, created_at
		 FROM ticket_types WHERE event_id = ? ORDER BY price_cents, id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TicketType
	for rows.Next() {
		var t model.TicketType
		if err := rows.Scan(&t.ID, &t.EventID, &t.Name, &t.PriceCents, &t.Currency, &t.MaxPerOrder, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func collectEvents(rows *sql.Rows) ([]model.Event, error) {
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var e model.Event
	var status string
	err := row.Scan(&e.ID, &e.OrganizerID, &e.Title, &e.Description, &e.Venue, &e.StartsAt, &e.EndsAt,
		&e.SaleStartsAt, &e.SaleEndsAt, &status, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Status = model.EventStatus(status)
	return &e, nil
}
