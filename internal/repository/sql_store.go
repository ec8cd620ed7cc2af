package repository

import (
	"context"
	"database/sql"
)

// SQLStore is the MySQL implementation of Store.
type SQLStore struct {
	db *sql.DB
	sqlRepos
}

type sqlRepos struct{ q Querier }

func (r sqlRepos) Inventory() InventoryStore      { return &InventoryRepo{q: r.q} }
func (r sqlRepos) Reservations() ReservationStore { return &ReservationRepo{q: r.q} }
func (r sqlRepos) Orders() OrderStore             { return &OrderRepo{q: r.q} }
func (r sqlRepos) Refunds() RefundStore           { return &RefundRepo{q: r.q} }
func (r sqlRepos) Events() EventStore             { return &EventRepo{q: r.q} }

// NewStore returns a Store bound to db.
func NewStore(db *sql.DB) *SQLStore { return &SQLStore{db: db, sqlRepos: sqlRepos{q: db}} }

// DB exposes the pool for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Users() UserStore   { return NewUserRepo(s.db) }
func (s *SQLStore) Tokens() TokenStore { return NewTokenRepo(s.db) }

// WithTx begins a transaction, hands repositories bound to it to fn and
// commits when fn returns nil.
func (s *SQLStore) WithTx(ctx context.Context, fn func(r Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(sqlRepos{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
