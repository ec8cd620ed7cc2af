package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider scripts Charge results and records attempts.
type stubProvider struct {
	results []error
	calls   int
	block   bool
}

func (s *stubProvider) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return Charge{}, ctx.Err()
	}
	if i := s.calls - 1; i < len(s.results) && s.results[i] != nil {
		return Charge{}, s.results[i]
	}
	return Charge{ProviderRef: "ch_1", OrderID: req.OrderID, Status: ChargeSucceeded, AmountCents: req.AmountCents}, nil
}

func (s *stubProvider) LookupCharge(ctx context.Context, orderID string) (Charge, error) {
	return Charge{}, ErrChargeNotFound
}

func (s *stubProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	return RefundResult{}, nil
}

func (s *stubProvider) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	return WebhookEvent{}, nil
}

func newTestRetrying(next Provider, attempts int) (*Retrying, *[]time.Duration) {
	r := NewRetrying(next, RetryPolicy{MaxAttempts: attempts, BackoffBase: 100 * time.Millisecond, BackoffMax: 250 * time.Millisecond}, nil)
	var waits []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return r, &waits
}

func TestRetrying_RetriesUnavailableThenSucceeds(t *testing.T) {
	stub := &stubProvider{results: []error{unavailable("charge", errors.New("503")), unavailable("charge", errors.New("503"))}}
	r, waits := newTestRetrying(stub, 3)

	c, err := r.Charge(context.Background(), ChargeRequest{OrderID: "o1", IdempotencyKey: "order-o1", AmountCents: 500})
	require.NoError(t, err)
	assert.Equal(t, ChargeSucceeded, c.Status)
	assert.Equal(t, 3, stub.calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *waits)
}

func TestRetrying_GivesUpAfterMaxAttempts(t *testing.T) {
	down := unavailable("charge", errors.New("connection refused"))
	stub := &stubProvider{results: []error{down, down, down, down}}
	r, waits := newTestRetrying(stub, 3)

	_, err := r.Charge(context.Background(), ChargeRequest{OrderID: "o1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, stub.calls)
	assert.Len(t, *waits, 2)
}

func TestRetrying_DoesNotRetryDecline(t *testing.T) {
	stub := &stubProvider{results: []error{&DeclinedError{Code: "card_declined", Message: "no"}}}
	r, waits := newTestRetrying(stub, 5)

	_, err := r.Charge(context.Background(), ChargeRequest{OrderID: "o1"})
	assert.ErrorIs(t, err, ErrDeclined)
	assert.Equal(t, 1, stub.calls)
	assert.Empty(t, *waits)
}

func TestRetrying_DoesNotRetryUnknownErrors(t *testing.T) {
	stub := &stubProvider{results: []error{errors.New("bad request")}}
	r, _ := newTestRetrying(stub, 5)

	_, err := r.Charge(context.Background(), ChargeRequest{OrderID: "o1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, stub.calls)
}

func TestRetrying_CallTimeoutCountsAsUnavailable(t *testing.T) {
	stub := &stubProvider{block: true}
	r := NewRetrying(stub, RetryPolicy{CallTimeout: 10 * time.Millisecond, MaxAttempts: 2}, nil)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	_, err := r.Charge(context.Background(), ChargeRequest{OrderID: "o1"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, stub.calls)
}

func TestRetrying_StopsWhenCallerCancels(t *testing.T) {
	down := unavailable("charge", errors.New("503"))
	stub := &stubProvider{results: []error{down, down, down}}
	r := NewRetrying(stub, RetryPolicy{MaxAttempts: 3, BackoffBase: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Charge(ctx, ChargeRequest{OrderID: "o1"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 1, stub.calls)
}

func TestRetryPolicy_DelayIsCapped(t *testing.T) {
	p := RetryPolicy{BackoffBase: 200 * time.Millisecond, BackoffMax: 2 * time.Second}
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 400*time.Millisecond, p.delay(2))
	assert.Equal(t, 1600*time.Millisecond, p.delay(4))
	assert.Equal(t, 2*time.Second, p.delay(5))
	assert.Equal(t, 2*time.Second, p.delay(30))
}
