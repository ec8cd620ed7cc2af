// Package payment abstracts the external payment provider.  The checkout
// services only see Provider; Stripe and an in-process fake implement it.
package payment

import "context"

// ChargeStatus is the provider-side state of a charge.
type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargePending   ChargeStatus = "pending"
	ChargeFailed    ChargeStatus = "failed"
)

// ChargeRequest asks the provider to capture AmountCents for an order.
// IdempotencyKey must be stable per order: repeating a request with the
// same key never charges twice.
type ChargeRequest struct {
	OrderID        string
	IdempotencyKey string
	AmountCents    int64
	Currency       string
	PaymentMethod  string
	Description    string
}

// Charge is what the provider knows about a payment.
type Charge struct {
	ProviderRef    string
	OrderID        string
	Status         ChargeStatus
	AmountCents    int64
	Currency       string
	FailureCode    string
	FailureMessage string
}

// RefundRequest reverses a charge in full.
type RefundRequest struct {
	OrderID        string
	ChargeRef      string
	IdempotencyKey string
	AmountCents    int64
	Reason         string
}

// RefundResult is the provider's answer to a refund.
type RefundResult struct {
	ProviderRef string
	Status      string
}

// Webhook event types, normalized across providers.
const (
	EventChargeSucceeded = "charge.succeeded"
	EventChargeFailed    = "charge.failed"
)

// WebhookEvent is a verified, normalized provider notification.
type WebhookEvent struct {
	ID     string
	Type   string
	Charge Charge
}

// Provider is the payment gateway.  Implementations classify failures with
// ErrDeclined (terminal, the customer must retry with another method) and
// ErrUnavailable (transient, safe to retry with the same idempotency key).
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (Charge, error)
	// LookupCharge finds the charge created for orderID, returning
	// ErrChargeNotFound when there is none.
	LookupCharge(ctx context.Context, orderID string) (Charge, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}
