package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeProvider_ChargeIsIdempotentPerKey(t *testing.T) {
	f := NewFakeProvider("whsec_test")
	ctx := context.Background()
	req := ChargeRequest{OrderID: "o1", IdempotencyKey: "order-o1", AmountCents: 2500, Currency: "usd", PaymentMethod: "pm_card_visa"}

	first, err := f.Charge(ctx, req)
	require.NoError(t, err)
	second, err := f.Charge(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ProviderRef, second.ProviderRef)
	assert.Equal(t, 2, f.ChargeCalls())
	assert.Equal(t, 1, f.ChargeCount())
}

func TestFakeProvider_Decline(t *testing.T) {
	f := NewFakeProvider("whsec_test")
	_, err := f.Charge(context.Background(), ChargeRequest{OrderID: "o1", IdempotencyKey: "k", AmountCents: 100, PaymentMethod: DeclinedMethod})
	var de *DeclinedError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "card_declined", de.Code)
	assert.ErrorIs(t, err, ErrDeclined)
	assert.Zero(t, f.ChargeCount())
}

func TestFakeProvider_LostResponseIsVisibleToLookup(t *testing.T) {
	f := NewFakeProvider("whsec_test")
	f.FailAfterCharge(1)
	ctx := context.Background()

	_, err := f.Charge(ctx, ChargeRequest{OrderID: "o1", IdempotencyKey: "order-o1", AmountCents: 100})
	require.ErrorIs(t, err, ErrUnavailable)

	c, err := f.LookupCharge(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, ChargeSucceeded, c.Status)

	_, err = f.LookupCharge(ctx, "missing")
	assert.ErrorIs(t, err, ErrChargeNotFound)
}

func TestFakeProvider_OutageHasNoEffect(t *testing.T) {
	f := NewFakeProvider("whsec_test")
	f.FailNext(1)
	ctx := context.Background()

	_, err := f.Charge(ctx, ChargeRequest{OrderID: "o1", IdempotencyKey: "order-o1", AmountCents: 100})
	require.ErrorIs(t, err, ErrUnavailable)
	_, err = f.LookupCharge(ctx, "o1")
	assert.ErrorIs(t, err, ErrChargeNotFound)
}

func TestFakeProvider_RefundOnceAndBounded(t *testing.T) {
	f := NewFakeProvider("whsec_test")
	ctx := context.Background()
	c, err := f.Charge(ctx, ChargeRequest{OrderID: "o1", IdempotencyKey: "order-o1", AmountCents: 1000})
	require.NoError(t, err)

	r1, err := f.Refund(ctx, RefundRequest{OrderID: "o1", ChargeRef: c.ProviderRef, IdempotencyKey: "refund-o1", AmountCents: 1000})
	require.NoError(t, err)
	r2, err := f.Refund(ctx, RefundRequest{OrderID: "o1", ChargeRef: c.ProviderRef, IdempotencyKey: "refund-o1", AmountCents: 1000})
	require.NoError(t, err)
	assert.Equal(t, r1.ProviderRef, r2.ProviderRef)
	assert.Equal(t, int64(1000), f.Refunded("o1"))

	_, err = f.Refund(ctx, RefundRequest{OrderID: "o1", ChargeRef: c.ProviderRef, IdempotencyKey: "other", AmountCents: 1})
	assert.Error(t, err)
}

func TestFakeProvider_SettlePendingCharge(t *testing.T) {
	f := NewFakeProvider("whsec_test")
	ctx := context.Background()
	c, err := f.Charge(ctx, ChargeRequest{OrderID: "o1", IdempotencyKey: "order-o1", AmountCents: 100, PaymentMethod: ProcessingMethod})
	require.NoError(t, err)
	assert.Equal(t, ChargePending, c.Status)

	assert.True(t, f.Settle("o1", true))
	assert.False(t, f.Settle("o1", true))
	c, err = f.LookupCharge(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, ChargeSucceeded, c.Status)
}

func TestFakeProvider_WebhookSignature(t *testing.T) {
	f := NewFakeProvider("whsec_test")
	_, err := f.Charge(context.Background(), ChargeRequest{OrderID: "o1", IdempotencyKey: "order-o1", AmountCents: 100})
	require.NoError(t, err)

	payload, sig, err := f.SignedWebhook(EventChargeSucceeded, "o1")
	require.NoError(t, err)
	evt, err := f.ParseWebhook(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, EventChargeSucceeded, evt.Type)
	assert.Equal(t, "o1", evt.Charge.OrderID)
	assert.NotEmpty(t, evt.ID)

	t.Run("tampered payload", func(t *testing.T) {
		_, err := f.ParseWebhook(append(payload, ' '), sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
	t.Run("other secret", func(t *testing.T) {
		_, err := NewFakeProvider("whsec_other").ParseWebhook(payload, sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
	t.Run("stale timestamp", func(t *testing.T) {
		_, err := f.ParseWebhook(payload, f.Sign(payload, time.Now().Add(-time.Hour)))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
	t.Run("missing header", func(t *testing.T) {
		_, err := f.ParseWebhook(payload, "")
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}
