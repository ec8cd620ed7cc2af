package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeProvider charges through Stripe PaymentIntents.  The client's own
// network retries are disabled; Retrying owns the retry budget.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider builds a provider for the given secret key.
func NewStripeProvider(secretKey, webhookSecret string) *StripeProvider {
	cfg := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(0)}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
	return &StripeProvider{api: client.New(secretKey, backends), webhookSecret: webhookSecret}
}

// classify maps a Stripe error onto the payment error taxonomy.
func classify(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return unavailable(op, err)
	}
	switch {
	case se.Type == stripe.ErrorTypeCard:
		return &DeclinedError{Code: string(se.Code), Message: se.Msg}
	case se.Type == stripe.ErrorTypeAPI,
		se.HTTPStatusCode >= http.StatusInternalServerError,
		se.HTTPStatusCode == http.StatusTooManyRequests:
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toCharge(pi *stripe.PaymentIntent) Charge {
	c := Charge{
		ProviderRef: pi.ID,
		OrderID:     pi.Metadata["order_id"],
		AmountCents: pi.Amount,
		Currency:    string(pi.Currency),
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		c.Status = ChargeSucceeded
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		c.Status = ChargeFailed
	default:
		c.Status = ChargePending
	}
	if pi.LastPaymentError != nil {
		c.FailureCode = string(pi.LastPaymentError.Code)
		c.FailureMessage = pi.LastPaymentError.Msg
	}
	return c
}

func (s *StripeProvider) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethod),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("order_id", req.OrderID)
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return Charge{}, classify("charge", err)
	}
	c := toCharge(pi)
	if c.Status == ChargeFailed {
		return c, &DeclinedError{Code: c.FailureCode, Message: c.FailureMessage}
	}
	return c, nil
}

func (s *StripeProvider) LookupCharge(ctx context.Context, orderID string) (Charge, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['order_id']:'%s'", orderID)
	iter := s.api.PaymentIntents.Search(params)
	var found *stripe.PaymentIntent
	for iter.Next() {
		pi := iter.PaymentIntent()
		// a succeeded intent wins over earlier failed attempts
		if found == nil || pi.Status == stripe.PaymentIntentStatusSucceeded {
			found = pi
		}
	}
	if err := iter.Err(); err != nil {
		return Charge{}, classify("lookup", err)
	}
	if found == nil {
		return Charge{}, ErrChargeNotFound
	}
	return toCharge(found), nil
}

func (s *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ChargeRef),
		Amount:        stripe.Int64(req.AmountCents),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("reason", req.Reason)
	r, err := s.api.Refunds.New(params)
	if err != nil {
		return RefundResult{}, classify("refund", err)
	}
	return RefundResult{ProviderRef: r.ID, Status: string(r.Status)}, nil
}

func (s *StripeProvider) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := WebhookEvent{ID: evt.ID}
	switch string(evt.Type) {
	case "payment_intent.succeeded":
		out.Type = EventChargeSucceeded
	case "payment_intent.payment_failed":
		out.Type = EventChargeFailed
	default:
		out.Type = string(evt.Type)
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return WebhookEvent{}, fmt.Errorf("webhook payload: %w", err)
	}
	out.Charge = toCharge(&pi)
	return out, nil
}

var _ Provider = (*StripeProvider)(nil)
