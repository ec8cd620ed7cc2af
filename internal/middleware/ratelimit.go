package middleware

import (
    "context"
    "fmt"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/ticket-marketplace/internal/config"
    "github.com/iliyamo/ticket-marketplace/internal/observability"
)

// bucketScript refills the bucket stored at KEYS[1] and takes one token.
//
//  ARGV: now_ms, capacity, refill_tokens, interval_ms, ttl_seconds
//  returns {allowed (0/1), tokens_left, retry_after_ms}
var bucketScript = redis.NewScript(`
local key         = KEYS[1]
local now_ms      = tonumber(ARGV[1])
local capacity    = tonumber(ARGV[2])
local refill      = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl         = tonumber(ARGV[5])

local saved  = redis.call('HMGET', key, 'tokens', 'refilled_at')
local tokens = tonumber(saved[1]) or capacity
local at     = tonumber(saved[2]) or now_ms

if interval_ms > 0 and refill > 0 and now_ms > at then
  local steps = math.floor((now_ms - at) / interval_ms)
  if steps > 0 then
    tokens = math.min(capacity, tokens + steps * refill)
    at = at + steps * interval_ms
  end
end

local allowed, wait_ms = 0, 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  wait_ms = math.max(0, interval_ms - (now_ms - at))
end

redis.call('HSET', key, 'tokens', tokens, 'refilled_at', at)
redis.call('EXPIRE', key, ttl)
return { allowed, tokens, wait_ms }
`)

// bucketDecision is the parsed reply of bucketScript.
type bucketDecision struct {
    Allowed    bool
    Remaining  int64
    RetryAfter time.Duration
}

// retryAfterSeconds rounds the wait up to whole seconds for Retry-After.
func (d bucketDecision) retryAfterSeconds() int64 {
    secs := int64((d.RetryAfter + time.Second - 1) / time.Second)
    if secs < 0 {
        return 0
    }
    return secs
}

// tokenBucket applies one RateLimitConfig against Redis.
type tokenBucket struct {
    cfg config.RateLimitConfig
    rdb *redis.Client
    now func() time.Time
}

// BucketOption customises NewTokenBucket.
type BucketOption func(*tokenBucket)

// WithBucketClock replaces time.Now as the bucket's clock.
func WithBucketClock(now func() time.Time) BucketOption {
    return func(b *tokenBucket) { b.now = now }
}

// scriptArgs are the ARGV values of bucketScript at instant now.
func (b *tokenBucket) scriptArgs(now time.Time) []interface{} {
    return []interface{}{
        now.UnixMilli(),
        int64(b.cfg.Capacity),
        int64(b.cfg.RefillTokens),
        b.cfg.RefillInterval.Milliseconds(),
        int64(b.cfg.TTL / time.Second),
    }
}

// take spends one token from key.
func (b *tokenBucket) take(ctx context.Context, key string) (bucketDecision, error) {
    reply, err := bucketScript.Run(ctx, b.rdb, []string{key}, b.scriptArgs(b.now())...).Slice()
    if err != nil {
        return bucketDecision{}, err
    }
    if len(reply) != 3 {
        return bucketDecision{}, fmt.Errorf("ratelimit: unexpected reply %#v", reply)
    }
    return bucketDecision{
        Allowed:    asInt64(reply[0]) == 1,
        Remaining:  asInt64(reply[1]),
        RetryAfter: time.Duration(asInt64(reply[2])) * time.Millisecond,
    }, nil
}

// NewTokenBucket limits requests with a Redis token bucket per key (see
// RateLimitConfig.KeyStrategy).  Checkout routes get their own, smaller
// bucket.  A disabled config or missing Redis yields a no-op; Redis errors
// let the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, opts ...BucketOption) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    b := &tokenBucket{cfg: cfg, rdb: rdb, now: time.Now}
    for _, o := range opts {
        o(b)
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := buildRateKey(cfg, c)
            d, err := b.take(c.Request().Context(), key)
            if err != nil {
                observability.TrackRateLimit(cfg.Prefix, "bypassed")
                if cfg.Debug {
                    c.Logger().Warnf("[ratelimit] key=%s: %v", key, err)
                }
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
            if cfg.Debug {
                h.Set("X-RateLimit-Key", key)
            }

            if !d.Allowed {
                observability.TrackRateLimit(cfg.Prefix, "blocked")
                secs := d.retryAfterSeconds()
                h.Set("Retry-After", strconv.FormatInt(secs, 10))
                return c.JSON(http.StatusTooManyRequests, echo.Map{
                    "error":       "too_many_requests",
                    "message":     "rate limit exceeded",
                    "retry_after": secs,
                })
            }
            observability.TrackRateLimit(cfg.Prefix, "allowed")
            return next(c)
        }
    }
}

// asInt64 reads an integer from a Lua reply element.
func asInt64(v interface{}) int64 {
    switch t := v.(type) {
    case int64:
        return t
    case int:
        return int64(t)
    case float64:
        return int64(t)
    case string:
        n, err := strconv.ParseInt(t, 10, 64)
        if err != nil {
            return 0
        }
        return n
    }
    return 0
}

// buildRateKey joins the prefix with the parts named by the key strategy.
// Unknown strategies use ip, user and route together.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    parts := map[string][]string{
        "ip":    {"ip", ip},
        "user":  {"user", userID(c)},
        "route": {"route", c.Request().Method + " " + c.Path()},
    }

    var names []string
    switch s := strings.ToLower(cfg.KeyStrategy); s {
    case "ip", "user", "route", "ip_user", "ip_route", "user_route":
        names = strings.Split(s, "_")
    default:
        names = []string{"ip", "user", "route"}
    }

    key := []string{cfg.Prefix}
    for _, n := range names {
        key = append(key, parts[n]...)
    }
    return strings.Join(key, ":")
}
