package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Payment methods with special behaviour in the fake.
const (
	DeclinedMethod   = "pm_card_chargeDeclined" // always declined
	ProcessingMethod = "pm_card_processing"     // stays pending until Settle
)

// webhookTolerance bounds the age of a signed webhook.
const webhookTolerance = 5 * time.Minute

// FakeProvider is an in-process provider used with PAYMENT_PROVIDER=fake
// and in tests.  It honours idempotency keys like a real gateway and can
// be told to fail before or after a charge is recorded.
type FakeProvider struct {
	mu              sync.Mutex
	secret          string
	charges         map[string]Charge // by idempotency key
	byOrder         map[string]string // order id -> idempotency key
	refunds         map[string]RefundResult
	refunded        map[string]int64 // charge ref -> refunded cents
	failNext        int
	failAfterCharge int
	chargeCalls     int
	refundCalls     int
}

// NewFakeProvider returns a provider that signs webhooks with secret.
func NewFakeProvider(secret string) *FakeProvider {
	return &FakeProvider{
		secret:   secret,
		charges:  map[string]Charge{},
		byOrder:  map[string]string{},
		refunds:  map[string]RefundResult{},
		refunded: map[string]int64{},
	}
}

// FailNext makes the next n calls return ErrUnavailable without effect.
func (f *FakeProvider) FailNext(n int) {
	f.mu.Lock()
	f.failNext = n
	f.mu.Unlock()
}

// FailAfterCharge makes the next n new charges succeed at the provider but
// return ErrUnavailable to the caller, as when a response is lost.
func (f *FakeProvider) FailAfterCharge(n int) {
	f.mu.Lock()
	f.failAfterCharge = n
	f.mu.Unlock()
}

// ChargeCalls is the number of Charge invocations.
func (f *FakeProvider) ChargeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chargeCalls
}

// ChargeCount is the number of distinct succeeded charges.
func (f *FakeProvider) ChargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.charges {
		if c.Status == ChargeSucceeded {
			n++
		}
	}
	return n
}

// Settle completes a pending charge of orderID, as the provider does
// asynchronously.  ok reports whether a pending charge existed.
func (f *FakeProvider) Settle(orderID string, succeed bool) (ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.byOrder[orderID]
	c, found := f.charges[key]
	if !found || c.Status != ChargePending {
		return false
	}
	c.Status = ChargeSucceeded
	if !succeed {
		c.Status, c.FailureCode, c.FailureMessage = ChargeFailed, "card_declined", "Your card was declined."
	}
	f.charges[key] = c
	return true
}

// RefundCalls is the number of Refund invocations.
func (f *FakeProvider) RefundCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refundCalls
}

// Refunded reports the cents refunded against the charge of orderID.
func (f *FakeProvider) Refunded(orderID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.charges[f.byOrder[orderID]]
	if !ok {
		return 0
	}
	return f.refunded[c.ProviderRef]
}

func (f *FakeProvider) outage(op string) error {
	if f.failNext > 0 {
		f.failNext--
		return unavailable(op, fmt.Errorf("simulated outage"))
	}
	return nil
}

func (f *FakeProvider) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if err := ctx.Err(); err != nil {
		return Charge{}, unavailable("charge", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chargeCalls++
	if err := f.outage("charge"); err != nil {
		return Charge{}, err
	}
	if c, ok := f.charges[req.IdempotencyKey]; ok {
		if c.Status == ChargeFailed {
			return c, &DeclinedError{Code: c.FailureCode, Message: c.FailureMessage}
		}
		return c, nil
	}
	c := Charge{
		ProviderRef: "ch_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		OrderID:     req.OrderID,
		Status:      ChargeSucceeded,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}
	switch req.PaymentMethod {
	case DeclinedMethod:
		c.Status, c.FailureCode, c.FailureMessage = ChargeFailed, "card_declined", "Your card was declined."
	case ProcessingMethod:
		c.Status = ChargePending
	}
	f.charges[req.IdempotencyKey] = c
	f.byOrder[req.OrderID] = req.IdempotencyKey
	if c.Status == ChargeFailed {
		return c, &DeclinedError{Code: c.FailureCode, Message: c.FailureMessage}
	}
	if f.failAfterCharge > 0 {
		f.failAfterCharge--
		return Charge{}, unavailable("charge", fmt.Errorf("simulated lost response"))
	}
	return c, nil
}

func (f *FakeProvider) LookupCharge(ctx context.Context, orderID string) (Charge, error) {
	if err := ctx.Err(); err != nil {
		return Charge{}, unavailable("lookup", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.outage("lookup"); err != nil {
		return Charge{}, err
	}
	c, ok := f.charges[f.byOrder[orderID]]
	if !ok {
		return Charge{}, ErrChargeNotFound
	}
	return c, nil
}

func (f *FakeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return RefundResult{}, unavailable("refund", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls++
	if err := f.outage("refund"); err != nil {
		return RefundResult{}, err
	}
	if r, ok := f.refunds[req.IdempotencyKey]; ok {
		return r, nil
	}
	var charge *Charge
	for _, c := range f.charges {
		if c.ProviderRef == req.ChargeRef {
			c := c
			charge = &c
			break
		}
	}
	if charge == nil || charge.Status != ChargeSucceeded {
		return RefundResult{}, fmt.Errorf("refund: no succeeded charge %q", req.ChargeRef)
	}
	if f.refunded[charge.ProviderRef]+req.AmountCents > charge.AmountCents {
		return RefundResult{}, fmt.Errorf("refund: amount exceeds charge %q", req.ChargeRef)
	}
	f.refunded[charge.ProviderRef] += req.AmountCents
	r := RefundResult{ProviderRef: "re_" + strings.ReplaceAll(uuid.NewString(), "-", ""), Status: "succeeded"}
	f.refunds[req.IdempotencyKey] = r
	return r, nil
}

type fakeWebhook struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Charge Charge `json:"charge"`
}

// SignedWebhook builds a payload and signature header for eventType about
// the charge of orderID, the way the provider would deliver it.
func (f *FakeProvider) SignedWebhook(eventType, orderID string) ([]byte, string, error) {
	f.mu.Lock()
	c, ok := f.charges[f.byOrder[orderID]]
	f.mu.Unlock()
	if !ok {
		return nil, "", ErrChargeNotFound
	}
	payload, err := json.Marshal(fakeWebhook{ID: "evt_" + uuid.NewString(), Type: eventType, Charge: c})
	if err != nil {
		return nil, "", err
	}
	return payload, f.Sign(payload, time.Now()), nil
}

// Sign returns a "t=<unix>,v1=<hex hmac>" header for payload.
func (f *FakeProvider) Sign(payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + f.mac(ts, payload)
}

func (f *FakeProvider) mac(ts string, payload []byte) string {
	m := hmac.New(sha256.New, []byte(f.secret))
	m.Write([]byte(ts))
	m.Write([]byte("."))
	m.Write(payload)
	return hex.EncodeToString(m.Sum(nil))
}

func (f *FakeProvider) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	var ts, sig string
	for _, part := range strings.Split(signature, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || sig == "" {
		return WebhookEvent{}, ErrInvalidSignature
	}
	if time.Since(time.Unix(unix, 0)) > webhookTolerance {
		return WebhookEvent{}, ErrInvalidSignature
	}
	if !hmac.Equal([]byte(sig), []byte(f.mac(ts, payload))) {
		return WebhookEvent{}, ErrInvalidSignature
	}
	var w fakeWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return WebhookEvent{}, fmt.Errorf("webhook payload: %w", err)
	}
	return WebhookEvent{ID: w.ID, Type: w.Type, Charge: w.Charge}, nil
}

var _ Provider = (*FakeProvider)(nil)
