package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrDeclined means the provider refused the payment.
	ErrDeclined = errors.New("payment declined")
	// ErrUnavailable means the provider could not be reached or answered
	// with a transient failure.  The outcome of the call is unknown.
	ErrUnavailable = errors.New("payment provider unavailable")
	// ErrChargeNotFound is returned by LookupCharge.
	ErrChargeNotFound = errors.New("charge not found")
	// ErrInvalidSignature rejects a webhook that fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// DeclinedError carries the provider's decline code.  It matches
// ErrDeclined with errors.Is.
type DeclinedError struct {
	Code    string
	Message string
}

func (e *DeclinedError) Error() string {
	if e.Code == "" {
		return "payment declined: " + e.Message
	}
	return fmt.Sprintf("payment declined (%s): %s", e.Code, e.Message)
}

func (e *DeclinedError) Is(target error) bool { return target == ErrDeclined }

// unavailable wraps a transport or server error as ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
