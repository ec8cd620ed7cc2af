package config

import "time"

// IdempotencyConfig controls the Redis-backed replay store for mutating
// endpoints.  Clients send the key in the Idempotency-Key header.
type IdempotencyConfig struct {
    Enabled      bool
    Header       string
    Prefix       string
    TTL          time.Duration // how long a stored response can be replayed
    LockTTL      time.Duration // how long an in-flight claim blocks duplicates
    Required     bool          // reject mutating requests without a key
    MaxBodyBytes int
}

// LoadIdempotencyConfig builds an IdempotencyConfig from the environment.
func LoadIdempotencyConfig() IdempotencyConfig {
    c := IdempotencyConfig{
        Enabled:      envBool("IDEMPOTENCY_ENABLED", true),
        Header:       envStr("IDEMPOTENCY_HEADER", "Idempotency-Key"),
        Prefix:       envStr("IDEMPOTENCY_PREFIX", "tm:idem"),
        TTL:          envDur("IDEMPOTENCY_TTL", 24*time.Hour),
        LockTTL:      envDur("IDEMPOTENCY_LOCK_TTL", 30*time.Second),
        Required:     envBool("IDEMPOTENCY_REQUIRED", true),
        MaxBodyBytes: envInt("IDEMPOTENCY_MAX_BODY_BYTES", 65536),
    }
    if c.LockTTL <= 0 {
        c.LockTTL = 30 * time.Second
    }
    return c
}
