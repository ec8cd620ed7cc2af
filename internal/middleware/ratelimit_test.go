package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-marketplace/internal/config"
)

var bucketCfg = config.RateLimitConfig{
	Enabled:        true,
	Capacity:       10,
	RefillTokens:   1,
	RefillInterval: 6 * time.Second,
	TTL:            time.Minute,
	KeyStrategy:    "user",
	Prefix:         "test:rl",
}

func limitedServer(mw echo.MiddlewareFunc, calls *int) *echo.Echo {
	e := echo.New()
	e.POST("/v1/orders/confirm", func(c echo.Context) error {
		*calls++
		return c.NoContent(http.StatusNoContent)
	}, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("user_id", uint64(42))
			return next(c)
		}
	}, mw)
	return e
}

var bucketNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// expectTake queues the script call the bucket makes for user 42 at bucketNow.
func expectTake(mock redismock.ClientMock) *redismock.ExpectedCmd {
	return mock.ExpectEvalSha(bucketScript.Hash(), []string{"test:rl:user:42"},
		bucketNow.UnixMilli(), int64(10), int64(1), int64(6000), int64(60))
}

func fixedClock() BucketOption {
	return WithBucketClock(func() time.Time { return bucketNow })
}

func TestTokenBucket_AllowsAndReportsRemaining(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	calls := 0
	e := limitedServer(NewTokenBucket(bucketCfg, rdb, fixedClock()), &calls)

	expectTake(mock).SetVal([]interface{}{int64(1), int64(9), int64(0)})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/orders/confirm", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucket_BlocksWhenEmpty(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	calls := 0
	e := limitedServer(NewTokenBucket(bucketCfg, rdb, fixedClock()), &calls)

	expectTake(mock).SetVal([]interface{}{int64(0), int64(0), int64(1500)})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/orders/confirm", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too_many_requests")
	assert.Zero(t, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucket_RedisErrorLetsRequestThrough(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	calls := 0
	e := limitedServer(NewTokenBucket(bucketCfg, rdb, fixedClock()), &calls)

	expectTake(mock).SetErr(errors.New("connection refused"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/orders/confirm", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucket_DisabledWithoutRedis(t *testing.T) {
	calls := 0
	e := limitedServer(NewTokenBucket(bucketCfg, nil), &calls)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/orders/confirm", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestBucketDecision_RetryAfterRoundsUp(t *testing.T) {
	assert.EqualValues(t, 0, bucketDecision{}.retryAfterSeconds())
	assert.EqualValues(t, 1, bucketDecision{RetryAfter: time.Millisecond}.retryAfterSeconds())
	assert.EqualValues(t, 2, bucketDecision{RetryAfter: 1500 * time.Millisecond}.retryAfterSeconds())
	assert.EqualValues(t, 6, bucketDecision{RetryAfter: 6 * time.Second}.retryAfterSeconds())
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/reservations", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/reservations")
	c.Set("user_id", uint64(7))

	tests := map[string]string{
		"ip":            "p:ip:10.0.0.1",
		"user":          "p:user:7",
		"route":         "p:route:POST /v1/reservations",
		"ip_user":       "p:ip:10.0.0.1:user:7",
		"user_route":    "p:user:7:route:POST /v1/reservations",
		"ip_user_route": "p:ip:10.0.0.1:user:7:route:POST /v1/reservations",
	}
	for strategy, want := range tests {
		got := buildRateKey(config.RateLimitConfig{Prefix: "p", KeyStrategy: strategy}, c)
		assert.Equal(t, want, got, strategy)
	}
}

func TestAsInt64(t *testing.T) {
	assert.EqualValues(t, 5, asInt64(int64(5)))
	assert.EqualValues(t, 5, asInt64(float64(5)))
	assert.EqualValues(t, 12, asInt64("12"))
	assert.EqualValues(t, 0, asInt64("x"))
	assert.EqualValues(t, 0, asInt64(nil))
}
