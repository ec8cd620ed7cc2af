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

const eventsPath = "/v1/events"

var cacheCfg = config.CacheConfig{
	Enabled:      true,
	Methods:      map[string]bool{"GET": true},
	TTL:          5 * time.Second,
	KeyStrategy:  "route_query",
	Prefix:       "test:cache",
	MaxBodyBytes: 1024,
}

func cacheServer(mw echo.MiddlewareFunc, calls *int) *echo.Echo {
	e := echo.New()
	e.GET(eventsPath, func(c echo.Context) error {
		*calls++
		return c.JSON(http.StatusOK, echo.Map{"events": []string{"a"}})
	}, mw)
	return e
}

func cacheKeyFor(e *echo.Echo, target string) string {
	c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	c.SetPath(eventsPath)
	return cacheKeyFrom(cacheCfg, c)
}

func TestRedisCache_MissStoresResponse(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	calls := 0
	e := cacheServer(NewRedisCache(cacheCfg, rdb), &calls)
	key := cacheKeyFor(e, eventsPath+"?q=jazz")

	mock.ExpectGet(key).RedisNil()
	mock.CustomMatch(func(_, actual []interface{}) error {
		if len(actual) < 2 || actual[1] != key {
			return errors.New("unexpected key")
		}
		return nil
	}).ExpectSet(key, "", cacheCfg.TTL).SetVal("OK")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, eventsPath+"?q=jazz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_HitSkipsHandler(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	calls := 0
	e := cacheServer(NewRedisCache(cacheCfg, rdb), &calls)
	key := cacheKeyFor(e, eventsPath)

	payload, err := encodePayload(http.StatusOK, http.Header{"Content-Type": {"application/json"}, "X-Cache": {"MISS"}}, []byte(`{"events":["cached"]}`))
	require.NoError(t, err)
	mock.ExpectGet(key).SetVal(string(payload))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, eventsPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"events":["cached"]}`, rec.Body.String())
	assert.Zero(t, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheKey_IncludesQueryAndPath(t *testing.T) {
	e := echo.New()
	assert.NotEqual(t, cacheKeyFor(e, eventsPath+"?q=a"), cacheKeyFor(e, eventsPath+"?q=b"))
	assert.Equal(t, cacheKeyFor(e, eventsPath+"?q=a"), cacheKeyFor(e, eventsPath+"?q=a"))
}

func TestPayload_RoundTripAndCorruption(t *testing.T) {
	in := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusAccepted, in, []byte("body"))
	require.NoError(t, err)
	status, hdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))
	assert.Equal(t, "body", string(body))

	_, _, _, ok = decodePayload(bs[:6])
	assert.False(t, ok)
	_, _, _, ok = decodePayload(append([]byte{0, 0, 0, 200, 0, 0, 1, 0}, '{'))
	assert.False(t, ok)
}

func TestCaptureWriter_TruncatesAtLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &captureWriter{ResponseWriter: rec, status: http.StatusOK, limit: 4}
	_, err := cw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.False(t, cw.truncated())
	_, err = cw.Write([]byte("def"))
	require.NoError(t, err)
	assert.True(t, cw.truncated())
	assert.Equal(t, "abcd", cw.buf.String())
	assert.Equal(t, "abcdef", rec.Body.String())
}
