// Package memstore is an in-memory implementation of repository.Store for
// local demos (STORE_DRIVER=memory) and service tests.  All access goes
// through one mutex, so it behaves like a single-node database with
// serializable transactions: WithTx holds the lock for the whole callback,
// snapshots the state first and restores the snapshot if the callback fails.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/repository"
	"github.com/iliyamo/ticket-marketplace/internal/utils"
)

// Store holds every table as a map.
type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	users    map[uint64]model.User
	emails   map[string]uint64
	tokens   map[string]model.RefreshToken
	userSeq  uint64
	tokenSeq uint64

	events      map[uint64]model.Event
	eventSeq    uint64
	ticketTypes map[uint64]model.TicketType
	ttSeq       uint64

	inventory map[uint64]model.Inventory
	entries   []model.LedgerEntry
	entryKeys map[string]bool

	reservations map[string]model.Reservation
	resByKey     map[string]string

	orders     map[string]model.Order
	orderByRes map[string]string
	orderByRef map[string]string

	refunds       map[string]model.Refund
	refundByOrder map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: &state{
		users:         map[uint64]model.User{},
		emails:        map[string]uint64{},
		tokens:        map[string]model.RefreshToken{},
		events:        map[uint64]model.Event{},
		ticketTypes:   map[uint64]model.TicketType{},
		inventory:     map[uint64]model.Inventory{},
		entryKeys:     map[string]bool{},
		reservations:  map[string]model.Reservation{},
		resByKey:      map[string]string{},
		orders:        map[string]model.Order{},
		orderByRes:    map[string]string{},
		orderByRef:    map[string]string{},
		refunds:       map[string]model.Refund{},
		refundByOrder: map[string]string{},
	}}
}

func (s *state) clone() *state {
	c := *s
	c.users = cloneMap(s.users)
	c.emails = cloneMap(s.emails)
	c.tokens = cloneMap(s.tokens)
	c.events = cloneMap(s.events)
	c.ticketTypes = cloneMap(s.ticketTypes)
	c.inventory = cloneMap(s.inventory)
	c.entries = append([]model.LedgerEntry(nil), s.entries...)
	c.entryKeys = cloneMap(s.entryKeys)
	c.reservations = cloneMap(s.reservations)
	c.resByKey = cloneMap(s.resByKey)
	c.orders = cloneMap(s.orders)
	c.orderByRes = cloneMap(s.orderByRes)
	c.orderByRef = cloneMap(s.orderByRef)
	c.refunds = cloneMap(s.refunds)
	c.refundByOrder = cloneMap(s.refundByOrder)
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// view is a handle on the store that either takes the lock per call or
// runs under a lock already held by WithTx.
type view struct {
	s      *Store
	locked bool
}

func (v view) do(fn func(st *state) error) error {
	if !v.locked {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	return fn(v.s.st)
}

func (s *Store) Inventory() repository.InventoryStore      { return inventoryStore{view{s: s}} }
func (s *Store) Reservations() repository.ReservationStore { return reservationStore{view{s: s}} }
func (s *Store) Orders() repository.OrderStore             { return orderStore{view{s: s}} }
func (s *Store) Refunds() repository.RefundStore           { return refundStore{view{s: s}} }
func (s *Store) Events() repository.EventStore             { return eventStore{view{s: s}} }
func (s *Store) Users() repository.UserStore               { return userStore{view{s: s}} }
func (s *Store) Tokens() repository.TokenStore             { return tokenStore{view{s: s}} }

type txRepos struct{ v view }

func (t txRepos) Inventory() repository.InventoryStore      { return inventoryStore{t.v} }
func (t txRepos) Reservations() repository.ReservationStore { return reservationStore{t.v} }
func (t txRepos) Orders() repository.OrderStore             { return orderStore{t.v} }
func (t txRepos) Refunds() repository.RefundStore           { return refundStore{t.v} }
func (t txRepos) Events() repository.EventStore             { return eventStore{t.v} }

// WithTx runs fn with exclusive access and rolls back on error.
func (s *Store) WithTx(ctx context.Context, fn func(r repository.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(txRepos{v: view{s: s, locked: true}}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// ---- inventory ----

type inventoryStore struct{ v view }

func (i inventoryStore) Create(_ context.Context, inv model.Inventory) error {
	return i.v.do(func(st *state) error {
		if _, ok := st.inventory[inv.TicketTypeID]; ok {
			return repository.ErrDuplicate
		}
		inv.Held, inv.Sold, inv.UpdatedAt = 0, 0, time.Now().UTC()
		st.inventory[inv.TicketTypeID] = inv
		return nil
	})
}

func (i inventoryStore) Get(_ context.Context, id uint64) (model.Inventory, error) {
	var out model.Inventory
	err := i.v.do(func(st *state) error {
		inv, ok := st.inventory[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = inv
		return nil
	})
	return out, err
}

// mutate applies change when guard holds, mirroring the conditional UPDATE
// statements of the SQL store.
func (i inventoryStore) mutate(id uint64, guard func(model.Inventory) bool, guardErr error, change func(*model.Inventory)) error {
	return i.v.do(func(st *state) error {
		inv, ok := st.inventory[id]
		if !ok {
			return repository.ErrNotFound
		}
		if !guard(inv) {
			return guardErr
		}
		change(&inv)
		inv.UpdatedAt = time.Now().UTC()
		st.inventory[id] = inv
		return nil
	})
}

func (i inventoryStore) AddHeld(_ context.Context, id uint64, qty int) error {
	return i.mutate(id,
		func(inv model.Inventory) bool { return inv.Held+inv.Sold+qty <= inv.TotalCapacity },
		repository.ErrCapacityExceeded,
		func(inv *model.Inventory) { inv.Held += qty })
}

func (i inventoryStore) MoveHeldToSold(_ context.Context, id uint64, qty int) error {
	return i.mutate(id,
		func(inv model.Inventory) bool { return inv.Held >= qty },
		repository.ErrLedgerUnderflow,
		func(inv *model.Inventory) { inv.Held -= qty; inv.Sold += qty })
}

func (i inventoryStore) ReleaseHeld(_ context.Context, id uint64, qty int) error {
	return i.mutate(id,
		func(inv model.Inventory) bool { return inv.Held >= qty },
		repository.ErrLedgerUnderflow,
		func(inv *model.Inventory) { inv.Held -= qty })
}

func (i inventoryStore) RestoreSold(_ context.Context, id uint64, qty int) error {
	return i.mutate(id,
		func(inv model.Inventory) bool { return inv.Sold >= qty },
		repository.ErrLedgerUnderflow,
		func(inv *model.Inventory) { inv.Sold -= qty })
}

func (i inventoryStore) Resize(_ context.Context, id uint64, total int) error {
	return i.mutate(id,
		func(inv model.Inventory) bool { return inv.Held+inv.Sold <= total },
		repository.ErrConflict,
		func(inv *model.Inventory) { inv.TotalCapacity = total })
}

func entryKey(e model.LedgerEntry) string {
	return strings.Join([]string{strconv.FormatUint(e.TicketTypeID, 10), string(e.Kind), e.RefType, e.RefID}, "|")
}

func (i inventoryStore) AppendEntry(_ context.Context, e model.LedgerEntry) (bool, error) {
	applied := false
	err := i.v.do(func(st *state) error {
		k := entryKey(e)
		if st.entryKeys[k] {
			return nil
		}
		st.entryKeys[k] = true
		e.ID = uint64(len(st.entries) + 1)
		e.CreatedAt = time.Now().UTC()
		st.entries = append(st.entries, e)
		applied = true
		return nil
	})
	return applied, err
}

func (i inventoryStore) ListEntries(_ context.Context, id uint64, limit int) ([]model.LedgerEntry, error) {
	var out []model.LedgerEntry
	err := i.v.do(func(st *state) error {
		for j := len(st.entries) - 1; j >= 0 && len(out) < limit; j-- {
			if st.entries[j].TicketTypeID == id {
				out = append(out, st.entries[j])
			}
		}
		return nil
	})
	return out, err
}

// ---- reservations ----

type reservationStore struct{ v view }

func resKey(buyerID uint64, key string) string { return strconv.FormatUint(buyerID, 10) + "|" + key }

func (r reservationStore) Create(_ context.Context, res *model.Reservation) error {
	return r.v.do(func(st *state) error {
		k := resKey(res.BuyerID, res.IdempotencyKey)
		if _, ok := st.resByKey[k]; ok {
			return repository.ErrDuplicate
		}
		if _, ok := st.reservations[res.ID]; ok {
			return repository.ErrDuplicate
		}
		now := time.Now().UTC()
		res.CreatedAt, res.UpdatedAt = now, now
		st.reservations[res.ID] = *res
		st.resByKey[k] = res.ID
		return nil
	})
}

func (r reservationStore) GetByID(_ context.Context, id string) (*model.Reservation, error) {
	var out *model.Reservation
	err := r.v.do(func(st *state) error {
		res, ok := st.reservations[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &res
		return nil
	})
	return out, err
}

func (r reservationStore) GetByIdempotencyKey(ctx context.Context, buyerID uint64, key string) (*model.Reservation, error) {
	var id string
	err := r.v.do(func(st *state) error {
		var ok bool
		if id, ok = st.resByKey[resKey(buyerID, key)]; !ok {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r reservationStore) Transition(_ context.Context, id string, from, to model.ReservationState, reason string) error {
	if !from.CanTransition(to) {
		return repository.ErrStaleState
	}
	return r.v.do(func(st *state) error {
		res, ok := st.reservations[id]
		if !ok || res.State != from {
			return repository.ErrStaleState
		}
		res.State, res.TerminalReason, res.UpdatedAt = to, reason, time.Now().UTC()
		st.reservations[id] = res
		return nil
	})
}

func (r reservationStore) ListExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	var due []model.Reservation
	err := r.v.do(func(st *state) error {
		for _, res := range st.reservations {
			if res.ExpiredAt(now) {
				due = append(due, res)
			}
		}
		return nil
	})
	sort.Slice(due, func(a, b int) bool { return due[a].ExpiresAt.Before(due[b].ExpiresAt) })
	ids := make([]string, 0, len(due))
	for _, res := range due {
		if len(ids) == limit {
			break
		}
		ids = append(ids, res.ID)
	}
	return ids, err
}

// ---- orders ----

type orderStore struct{ v view }

func copyOrder(o model.Order) *model.Order {
	o.Items = append([]model.OrderItem(nil), o.Items...)
	return &o
}

func (o orderStore) Create(_ context.Context, ord *model.Order) error {
	return o.v.do(func(st *state) error {
		if _, ok := st.orderByRes[ord.ReservationID]; ok {
			return repository.ErrDuplicate
		}
		if _, ok := st.orders[ord.ID]; ok {
			return repository.ErrDuplicate
		}
		now := time.Now().UTC()
		ord.CreatedAt, ord.UpdatedAt = now, now
		for i := range ord.Items {
			ord.Items[i].OrderID = ord.ID
		}
		st.orders[ord.ID] = *copyOrder(*ord)
		st.orderByRes[ord.ReservationID] = ord.ID
		return nil
	})
}

func (o orderStore) GetByID(_ context.Context, id string) (*model.Order, error) {
	var out *model.Order
	err := o.v.do(func(st *state) error {
		ord, ok := st.orders[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = copyOrder(ord)
		return nil
	})
	return out, err
}

func (o orderStore) GetByReservation(ctx context.Context, reservationID string) (*model.Order, error) {
	var id string
	err := o.v.do(func(st *state) error {
		var ok bool
		if id, ok = st.orderByRes[reservationID]; !ok {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o.GetByID(ctx, id)
}

func (o orderStore) MarkPaid(_ context.Context, id, paymentRef string, paidAt time.Time) error {
	return o.v.do(func(st *state) error {
		ord, ok := st.orders[id]
		if !ok || ord.State != model.OrderPending {
			return repository.ErrStaleState
		}
		if other, ok := st.orderByRef[paymentRef]; ok && other != id {
			return repository.ErrDuplicate
		}
		t := paidAt.UTC()
		ord.State, ord.PaymentRef, ord.PaidAt, ord.UpdatedAt = model.OrderPaid, paymentRef, &t, time.Now().UTC()
		st.orders[id] = ord
		st.orderByRef[paymentRef] = id
		return nil
	})
}

func (o orderStore) Transition(_ context.Context, id string, from, to model.OrderState, reason string) error {
	if !from.CanTransition(to) {
		return repository.ErrStaleState
	}
	return o.v.do(func(st *state) error {
		ord, ok := st.orders[id]
		if !ok || ord.State != from {
			return repository.ErrStaleState
		}
		ord.State, ord.CancelReason, ord.UpdatedAt = to, reason, time.Now().UTC()
		st.orders[id] = ord
		return nil
	})
}

func (o orderStore) filter(keep func(model.Order) bool, newestFirst bool, limit, offset int) ([]model.Order, error) {
	var all []model.Order
	err := o.v.do(func(st *state) error {
		for _, ord := range st.orders {
			if keep(ord) {
				all = append(all, *copyOrder(ord))
			}
		}
		return nil
	})
	sort.Slice(all, func(a, b int) bool {
		if all[a].CreatedAt.Equal(all[b].CreatedAt) {
			return all[a].ID < all[b].ID
		}
		if newestFirst {
			return all[a].CreatedAt.After(all[b].CreatedAt)
		}
		return all[a].CreatedAt.Before(all[b].CreatedAt)
	})
	if offset >= len(all) {
		return nil, err
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, err
}

func (o orderStore) ListByBuyer(_ context.Context, buyerID uint64, limit, offset int) ([]model.Order, error) {
	return o.filter(func(ord model.Order) bool { return ord.BuyerID == buyerID }, true, limit, offset)
}

func (o orderStore) ListByEvent(_ context.Context, eventID uint64, limit, offset int) ([]model.Order, error) {
	return o.filter(func(ord model.Order) bool { return ord.EventID == eventID }, true, limit, offset)
}

func (o orderStore) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]model.Order, error) {
	return o.filter(func(ord model.Order) bool {
		return ord.State == model.OrderPending && ord.CreatedAt.Before(before)
	}, false, limit, 0)
}

// ---- refunds ----

type refundStore struct{ v view }

func (r refundStore) Create(_ context.Context, rf *model.Refund) error {
	return r.v.do(func(st *state) error {
		if _, ok := st.refundByOrder[rf.OrderID]; ok {
			return repository.ErrDuplicate
		}
		now := time.Now().UTC()
		rf.CreatedAt, rf.UpdatedAt = now, now
		st.refunds[rf.ID] = *rf
		st.refundByOrder[rf.OrderID] = rf.ID
		return nil
	})
}

func (r refundStore) GetByOrder(_ context.Context, orderID string) (*model.Refund, error) {
	var out *model.Refund
	err := r.v.do(func(st *state) error {
		id, ok := st.refundByOrder[orderID]
		if !ok {
			return repository.ErrNotFound
		}
		rf := st.refunds[id]
		out = &rf
		return nil
	})
	return out, err
}

func (r refundStore) MarkResult(_ context.Context, id string, to model.RefundState, providerRef, lastError string) error {
	return r.v.do(func(st *state) error {
		rf, ok := st.refunds[id]
		if !ok || rf.State == model.RefundSucceeded {
			return repository.ErrStaleState
		}
		rf.State, rf.LastError, rf.UpdatedAt = to, lastError, time.Now().UTC()
		if providerRef != "" {
			rf.ProviderRef = providerRef
		}
		rf.Attempts++
		st.refunds[id] = rf
		return nil
	})
}

func (r refundStore) ListPending(_ context.Context, limit int) ([]model.Refund, error) {
	var out []model.Refund
	err := r.v.do(func(st *state) error {
		for _, rf := range st.refunds {
			if rf.State == model.RefundPending {
				out = append(out, rf)
			}
		}
		return nil
	})
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	if limit < len(out) {
		out = out[:limit]
	}
	return out, err
}

// ---- events ----

type eventStore struct{ v view }

func (e eventStore) Create(_ context.Context, ev *model.Event) error {
	return e.v.do(func(st *state) error {
		st.eventSeq++
		now := time.Now().UTC()
		ev.ID, ev.CreatedAt, ev.UpdatedAt = st.eventSeq, now, now
		if ev.Status == "" {
			ev.Status = model.EventDraft
		}
		st.events[ev.ID] = *ev
		return nil
	})
}

func (e eventStore) GetByID(_ context.Context, id uint64) (*model.Event, error) {
	var out *model.Event
	err := e.v.do(func(st *state) error {
		ev, ok := st.events[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &ev
		return nil
	})
	return out, err
}

func (e eventStore) Update(_ context.Context, ev *model.Event) error {
	return e.v.do(func(st *state) error {
		cur, ok := st.events[ev.ID]
		if !ok {
			return repository.ErrNotFound
		}
		cur.Title, cur.Description, cur.Venue = ev.Title, ev.Description, ev.Venue
		cur.StartsAt, cur.EndsAt = ev.StartsAt, ev.EndsAt
		cur.SaleStartsAt, cur.SaleEndsAt = ev.SaleStartsAt, ev.SaleEndsAt
		cur.UpdatedAt = time.Now().UTC()
		st.events[ev.ID] = cur
		return nil
	})
}

func (e eventStore) SetStatus(_ context.Context, id uint64, from, to model.EventStatus) error {
	if !from.CanTransition(to) {
		return repository.ErrStaleState
	}
	return e.v.do(func(st *state) error {
		ev, ok := st.events[id]
		if !ok || ev.Status != from {
			return repository.ErrStaleState
		}
		ev.Status, ev.UpdatedAt = to, time.Now().UTC()
		st.events[id] = ev
		return nil
	})
}

func (e eventStore) list(keep func(model.Event) bool) []model.Event {
	var out []model.Event
	_ = e.v.do(func(st *state) error {
		for _, ev := range st.events {
			if keep(ev) {
				out = append(out, ev)
			}
		}
		return nil
	})
	return out
}

func (e eventStore) ListPublished(_ context.Context, query string, now time.Time, limit, offset int) ([]model.Event, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	out := e.list(func(ev model.Event) bool {
		return ev.Status == model.EventPublished && !ev.EndsAt.Before(now) &&
			(q == "" || strings.Contains(strings.ToLower(ev.Title), q))
	})
	sort.Slice(out, func(a, b int) bool {
		if out[a].StartsAt.Equal(out[b].StartsAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].StartsAt.Before(out[b].StartsAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (e eventStore) ListByOrganizer(_ context.Context, organizerID uint64) ([]model.Event, error) {
	out := e.list(func(ev model.Event) bool { return ev.OrganizerID == organizerID })
	sort.Slice(out, func(a, b int) bool { return out[a].StartsAt.After(out[b].StartsAt) })
	return out, nil
}

func (e eventStore) CreateTicketType(_ context.Context, t *model.TicketType) error {
	return e.v.do(func(st *state) error {
		for _, other := range st.ticketTypes {
			if other.EventID == t.EventID && other.Name == t.Name {
				return repository.ErrDuplicate
			}
		}
		st.ttSeq++
		t.ID, t.CreatedAt = st.ttSeq, time.Now().UTC()
		t.Currency = strings.ToLower(t.Currency)
		st.ticketTypes[t.ID] = *t
		return nil
	})
}

func (e eventStore) GetTicketType(_ context.Context, id uint64) (*model.TicketType, error) {
	var out *model.TicketType
	err := e.v.do(func(st *state) error {
		t, ok := st.ticketTypes[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (e eventStore) ListTicketTypes(_ context.Context, eventID uint64) ([]model.TicketType, error) {
	var out []model.TicketType
	err := e.v.do(func(st *state) error {
		for _, t := range st.ticketTypes {
			if t.EventID == eventID {
				out = append(out, t)
			}
		}
		return nil
	})
	sort.Slice(out, func(a, b int) bool {
		if out[a].PriceCents == out[b].PriceCents {
			return out[a].ID < out[b].ID
		}
		return out[a].PriceCents < out[b].PriceCents
	})
	return out, err
}

// ---- users ----

type userStore struct{ v view }

func (u userStore) Create(_ context.Context, email, password, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	var id uint64
	err = u.v.do(func(st *state) error {
		if _, ok := st.emails[email]; ok {
			return repository.ErrEmailExists
		}
		st.userSeq++
		id = st.userSeq
		now := time.Now().UTC()
		st.users[id] = model.User{ID: id, Email: email, PasswordHash: hash, Role: role, IsActive: true, CreatedAt: now, UpdatedAt: now}
		st.emails[email] = id
		return nil
	})
	return id, err
}

func (u userStore) GetByEmail(ctx context.Context, email string) (model.User, error) {
	var id uint64
	err := u.v.do(func(st *state) error {
		var ok bool
		if id, ok = st.emails[strings.ToLower(strings.TrimSpace(email))]; !ok {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	return u.GetByID(ctx, id)
}

func (u userStore) GetByID(_ context.Context, id uint64) (model.User, error) {
	var out model.User
	err := u.v.do(func(st *state) error {
		usr, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = usr
		return nil
	})
	return out, err
}

// ---- refresh tokens ----

type tokenStore struct{ v view }

func (t tokenStore) StoreRefresh(_ context.Context, userID uint64, hash string, exp time.Time) error {
	return t.v.do(func(st *state) error {
		st.tokenSeq++
		st.tokens[hash] = model.RefreshToken{ID: st.tokenSeq, UserID: userID, TokenHash: hash, ExpiresAt: exp.UTC(), CreatedAt: time.Now().UTC()}
		return nil
	})
}

func (t tokenStore) ValidateRefresh(_ context.Context, hash string) (uint64, error) {
	var id uint64
	err := t.v.do(func(st *state) error {
		tok, ok := st.tokens[hash]
		if !ok || tok.RevokedAt != nil || time.Now().UTC().After(tok.ExpiresAt) {
			return repository.ErrNotFound
		}
		id = tok.UserID
		return nil
	})
	return id, err
}

func (t tokenStore) RevokeByHash(_ context.Context, hash string) error {
	return t.v.do(func(st *state) error {
		if tok, ok := st.tokens[hash]; ok && tok.RevokedAt == nil {
			now := time.Now().UTC()
			tok.RevokedAt = &now
			st.tokens[hash] = tok
		}
		return nil
	})
}

func (t tokenStore) RevokeAllForUser(_ context.Context, userID uint64) error {
	return t.v.do(func(st *state) error {
		now := time.Now().UTC()
		for h, tok := range st.tokens {
			if tok.UserID == userID && tok.RevokedAt == nil {
				tok.RevokedAt = &now
				st.tokens[h] = tok
			}
		}
		return nil
	})
}

var _ repository.Store = (*Store)(nil)
