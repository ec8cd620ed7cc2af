package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadCheckoutConfig_Defaults(t *testing.T) {
	clearEnv(t, "HOLD_TTL", "SWEEP_INTERVAL", "SWEEP_BATCH", "RECONCILE_INTERVAL", "RECONCILE_AFTER", "RECONCILE_BATCH", "REFUND_RETRY_BATCH")
	c := LoadCheckoutConfig()
	assert.Equal(t, 10*time.Minute, c.HoldTTL)
	assert.Equal(t, 30*time.Second, c.SweepInterval)
	assert.Equal(t, 200, c.SweepBatch)
	assert.Equal(t, time.Minute, c.ReconcileInterval)
	assert.Equal(t, 2*time.Minute, c.ReconcileAfter)
	assert.Equal(t, 100, c.ReconcileBatch)
	assert.Equal(t, 50, c.RefundRetryBatch)
}

func TestLoadCheckoutConfig_Overrides(t *testing.T) {
	t.Setenv("HOLD_TTL", "90s")
	t.Setenv("SWEEP_BATCH", "0")
	t.Setenv("RECONCILE_AFTER", "5m")
	t.Setenv("RECONCILE_BATCH", "not-a-number")
	c := LoadCheckoutConfig()
	assert.Equal(t, 90*time.Second, c.HoldTTL)
	assert.Equal(t, 1, c.SweepBatch)
	assert.Equal(t, 5*time.Minute, c.ReconcileAfter)
	assert.Equal(t, 100, c.ReconcileBatch)

	t.Setenv("HOLD_TTL", "-1m")
	assert.Equal(t, 10*time.Minute, LoadCheckoutConfig().HoldTTL)
}

func TestLoadPaymentConfig(t *testing.T) {
	clearEnv(t, "PAYMENT_PROVIDER", "PAYMENT_CURRENCY", "PAYMENT_CALL_TIMEOUT", "PAYMENT_BACKOFF_BASE", "PAYMENT_BACKOFF_MAX")
	t.Setenv("PAYMENT_MAX_ATTEMPTS", "0")
	p := LoadPaymentConfig()
	assert.Equal(t, "stripe", p.Provider)
	assert.Equal(t, "usd", p.Currency)
	assert.Equal(t, 10*time.Second, p.CallTimeout)
	assert.Equal(t, 1, p.MaxAttempts)

	t.Setenv("PAYMENT_PROVIDER", "fake")
	t.Setenv("PAYMENT_MAX_ATTEMPTS", "5")
	p = LoadPaymentConfig()
	assert.Equal(t, "fake", p.Provider)
	assert.Equal(t, 5, p.MaxAttempts)
}

func TestLoadBucket_Clamps(t *testing.T) {
	t.Setenv("T_CAPACITY", "0")
	t.Setenv("T_REFILL_TOKENS", "-3")
	t.Setenv("T_REFILL_INTERVAL", "0s")
	t.Setenv("T_TTL", "1s")
	t.Setenv("T_ENABLED", "off")
	c := loadBucket("T", RateLimitConfig{Enabled: true, Capacity: 5, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, KeyStrategy: "ip", Prefix: "p"})
	assert.False(t, c.Enabled)
	assert.Equal(t, 1, c.Capacity)
	assert.Equal(t, 1, c.RefillTokens)
	assert.Equal(t, time.Second, c.RefillInterval)
	assert.Equal(t, 5*time.Second, c.TTL)
	assert.Equal(t, "ip", c.KeyStrategy)
}

func TestLoadCheckoutRateLimitConfig_Defaults(t *testing.T) {
	clearEnv(t, "CHECKOUT_RATE_LIMIT_ENABLED", "CHECKOUT_RATE_LIMIT_CAPACITY", "CHECKOUT_RATE_LIMIT_KEY_STRATEGY", "CHECKOUT_RATE_LIMIT_PREFIX",
		"CHECKOUT_RATE_LIMIT_REFILL_TOKENS", "CHECKOUT_RATE_LIMIT_REFILL_INTERVAL", "CHECKOUT_RATE_LIMIT_TTL")
	c := LoadCheckoutRateLimitConfig()
	assert.True(t, c.Enabled)
	assert.Equal(t, 10, c.Capacity)
	assert.Equal(t, "user", c.KeyStrategy)
	assert.Equal(t, "tm:rl:checkout", c.Prefix)
}

func TestLoadIdempotencyConfig(t *testing.T) {
	clearEnv(t, "IDEMPOTENCY_ENABLED", "IDEMPOTENCY_HEADER", "IDEMPOTENCY_PREFIX", "IDEMPOTENCY_TTL", "IDEMPOTENCY_REQUIRED", "IDEMPOTENCY_MAX_BODY_BYTES")
	t.Setenv("IDEMPOTENCY_LOCK_TTL", "0s")
	c := LoadIdempotencyConfig()
	assert.True(t, c.Enabled)
	assert.True(t, c.Required)
	assert.Equal(t, "Idempotency-Key", c.Header)
	assert.Equal(t, 24*time.Hour, c.TTL)
	assert.Equal(t, 30*time.Second, c.LockTTL)
	assert.Equal(t, 65536, c.MaxBodyBytes)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_BOOL", "yes")
	assert.True(t, envBool("X_BOOL", false))
	t.Setenv("X_BOOL", "maybe")
	assert.False(t, envBool("X_BOOL", false))
	t.Setenv("X_DUR", "bogus")
	assert.Equal(t, time.Minute, envDur("X_DUR", time.Minute))
	t.Setenv("X_INT", "42")
	assert.Equal(t, 42, envInt("X_INT", 0))
}
