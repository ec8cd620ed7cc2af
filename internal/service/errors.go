// Package service implements the checkout workflow: the inventory ledger,
// reservations, the order/payment coordinator and refunds.  Every exported
// error below is matched by handlers with errors.Is.
package service

import (
	"errors"

	"github.com/iliyamo/ticket-marketplace/internal/repository"
)

var (
	// ErrCapacityExceeded means the requested quantity is not available.
	// It is an expected outcome, not a failure.
	ErrCapacityExceeded = repository.ErrCapacityExceeded
	// ErrReservationExpired is returned when confirming a hold that is no
	// longer HELD.
	ErrReservationExpired = errors.New("reservation expired")
	// ErrPaymentDeclined is terminal for the attempt; the customer may try
	// again with a new hold.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentProviderUnavailable is returned after bounded retries.  The
	// order stays PENDING and reconciliation resolves it.
	ErrPaymentProviderUnavailable = errors.New("payment provider unavailable")
	// ErrReconciliationConflict means the provider charged but the ticket
	// could not be issued.  The charge is refunded and an alert is logged.
	ErrReconciliationConflict = errors.New("reconciliation conflict")

	ErrNotFound            = repository.ErrNotFound
	ErrForbidden           = repository.ErrForbidden
	ErrInvalidState        = errors.New("invalid state")
	ErrValidation          = errors.New("validation failed")
	ErrIdempotencyMismatch = errors.New("idempotency key reused with different parameters")
)

// DeclineError carries the provider's customer-safe decline message.
type DeclineError struct {
	Code    string
	Message string
}

func (e *DeclineError) Error() string { return "payment declined: " + e.Message }

func (e *DeclineError) Is(target error) bool { return target == ErrPaymentDeclined }
