// Package repository defines the persistence contracts used by the service
// layer together with their MySQL implementations.  The sentinel errors
// below are shared by every implementation so that services and handlers
// can distinguish failure scenarios with errors.Is.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own.  Handlers translate this into HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because of
// dependent records, such as shrinking capacity below what is already
// held or sold.
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when a unique key (idempotency key, reservation
// of an order, refund of an order) already exists.
var ErrDuplicate = errors.New("duplicate")

// ErrCapacityExceeded is returned by the conditional hold update when the
// requested quantity does not fit into the remaining capacity.  It is an
// expected outcome ("sold out"), not a failure of the store.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// ErrStaleState is returned by compare-and-set state transitions when the
// row is no longer in the expected state.
var ErrStaleState = errors.New("stale state")

// ErrLedgerUnderflow is returned when a commit, release or restore would
// drive held or sold below zero.  It always indicates a bug or a manual
// data change and is never retried.
var ErrLedgerUnderflow = errors.New("ledger underflow")

// ErrEmailExists is returned when registering an email twice.
var ErrEmailExists = errors.New("email already exists")

// isDuplicate reports whether err is a MySQL unique key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
