package payment

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/ticket-marketplace/internal/config"
	"github.com/iliyamo/ticket-marketplace/internal/observability"
)

// RetryPolicy bounds retries of provider-unavailable failures.
type RetryPolicy struct {
	CallTimeout time.Duration // per attempt
	MaxAttempts int           // total attempts, >= 1
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// PolicyFromConfig builds a RetryPolicy from payment settings.
func PolicyFromConfig(pc config.PaymentConfig) RetryPolicy {
	return RetryPolicy{
		CallTimeout: pc.CallTimeout,
		MaxAttempts: pc.MaxAttempts,
		BackoffBase: pc.BackoffBase,
		BackoffMax:  pc.BackoffMax,
	}
}

// delay is the wait before attempt n+1 (n starting at 1).
func (p RetryPolicy) delay(n int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// Retrying decorates a Provider with per-call timeouts and bounded retries.
// Only ErrUnavailable is retried; declines and everything else return
// immediately.  Charges are safe to retry because the idempotency key is
// passed through unchanged.
type Retrying struct {
	next   Provider
	policy RetryPolicy
	log    *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next.
func NewRetrying(next Provider, policy RetryPolicy, log *zap.Logger) *Retrying {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, log: log, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retry[T any](ctx context.Context, r *Retrying, op string, call func(ctx context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.policy.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.policy.CallTimeout)
		}
		start := time.Now()
		out, err = call(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		if err != nil && timedOut && !errors.Is(err, ErrUnavailable) {
			err = unavailable(op, err)
		}
		observability.TrackPayment(op, resultLabel(err), time.Since(start))
		if err == nil || !errors.Is(err, ErrUnavailable) {
			return out, err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		wait := r.policy.delay(attempt)
		r.log.Warn("payment provider unavailable, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))
		if serr := r.sleep(ctx, wait); serr != nil {
			return out, err
		}
	}
	return out, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDeclined):
		return "declined"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrChargeNotFound):
		return "not_found"
	}
	return "error"
}

func (r *Retrying) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	return retry(ctx, r, "charge", func(ctx context.Context) (Charge, error) { return r.next.Charge(ctx, req) })
}

func (r *Retrying) LookupCharge(ctx context.Context, orderID string) (Charge, error) {
	return retry(ctx, r, "lookup", func(ctx context.Context) (Charge, error) { return r.next.LookupCharge(ctx, orderID) })
}

func (r *Retrying) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	return retry(ctx, r, "refund", func(ctx context.Context) (RefundResult, error) { return r.next.Refund(ctx, req) })
}

func (r *Retrying) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	return r.next.ParseWebhook(payload, signature)
}
