package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-marketplace/internal/config"
)

const holdPath = "/v1/reservations"

var idemCfg = config.IdempotencyConfig{
	Enabled:      true,
	Header:       "Idempotency-Key",
	Prefix:       "test:idem",
	TTL:          time.Hour,
	LockTTL:      30 * time.Second,
	Required:     true,
	MaxBodyBytes: 1024,
}

// idemServer routes POST and GET holdPath through the middleware and counts
// handler calls.
func idemServer(mw echo.MiddlewareFunc, status int, calls *int) *echo.Echo {
	e := echo.New()
	h := func(c echo.Context) error {
		*calls++
		return c.JSON(status, echo.Map{"id": "res-1"})
	}
	e.POST(holdPath, h, mw)
	e.GET(holdPath, h, mw)
	return e
}

func expectedKey(e *echo.Echo, clientKey string) string {
	c := e.NewContext(httptest.NewRequest(http.MethodPost, holdPath, nil), httptest.NewRecorder())
	c.SetPath(holdPath)
	return idempotencyKey(idemCfg, c, clientKey)
}

func post(e *echo.Echo, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, holdPath, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_FirstRequestIsStored(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	calls := 0
	e := idemServer(NewIdempotency(idemCfg, rdb), http.StatusCreated, &calls)
	body := `{"ticket_type_id":1,"quantity":2}`
	key := expectedKey(e, "abc")
	hash := requestHash(holdPath, []byte(body))

	mock.ExpectSetNX(key, idemPending+hash, idemCfg.LockTTL).SetVal(true)
	mock.CustomMatch(func(_, actual []interface{}) error {
		if len(actual) < 3 || actual[1] != key {
			return fmt.Errorf("unexpected command %v", actual)
		}
		var stored []byte
		switch v := actual[2].(type) {
		case []byte:
			stored = v
		case string:
			stored = []byte(v)
		}
		if !bytes.HasPrefix(stored, []byte(idemDone+hash+":")) {
			return fmt.Errorf("stored value lacks done marker")
		}
		return nil
	}).ExpectSet(key, "", idemCfg.TTL).SetVal("OK")

	rec := post(e, "abc", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.Header().Get(replayHeader))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	calls := 0
	e := idemServer(NewIdempotency(idemCfg, rdb), http.StatusCreated, &calls)
	body := `{"ticket_type_id":1,"quantity":2}`
	key := expectedKey(e, "abc")
	hash := requestHash(holdPath, []byte(body))

	payload, err := encodePayload(http.StatusCreated, http.Header{"Content-Type": {"application/json"}}, []byte(`{"id":"res-1"}`))
	require.NoError(t, err)
	mock.ExpectSetNX(key, idemPending+hash, idemCfg.LockTTL).SetVal(false)
	mock.ExpectGet(key).SetVal(idemDone + hash + ":" + string(payload))

	rec := post(e, "abc", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(replayHeader))
	assert.JSONEq(t, `{"id":"res-1"}`, rec.Body.String())
	assert.Zero(t, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ReusedKeyWithOtherBody(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	calls := 0
	e := idemServer(NewIdempotency(idemCfg, rdb), http.StatusCreated, &calls)
	key := expectedKey(e, "abc")
	hash := requestHash(holdPath, []byte(`{"quantity":3}`))
	other := requestHash(holdPath, []byte(`{"quantity":2}`))

	payload, err := encodePayload(http.StatusCreated, http.Header{}, []byte(`{}`))
	require.NoError(t, err)
	mock.ExpectSetNX(key, idemPending+hash, idemCfg.LockTTL).SetVal(false)
	mock.ExpectGet(key).SetVal(idemDone + other + ":" + string(payload))

	rec := post(e, "abc", `{"quantity":3}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "idempotency_key_reused")
	assert.Zero(t, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_InFlightDuplicate(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	calls := 0
	e := idemServer(NewIdempotency(idemCfg, rdb), http.StatusCreated, &calls)
	key := expectedKey(e, "abc")
	hash := requestHash(holdPath, []byte(`{}`))

	mock.ExpectSetNX(key, idemPending+hash, idemCfg.LockTTL).SetVal(false)
	mock.ExpectGet(key).SetVal(idemPending + hash)

	rec := post(e, "abc", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "request_in_progress")
	assert.Zero(t, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ServerErrorReleasesKey(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	calls := 0
	e := idemServer(NewIdempotency(idemCfg, rdb), http.StatusServiceUnavailable, &calls)
	key := expectedKey(e, "abc")
	hash := requestHash(holdPath, []byte(`{}`))

	mock.ExpectSetNX(key, idemPending+hash, idemCfg.LockTTL).SetVal(true)
	mock.ExpectDel(key).SetVal(1)

	rec := post(e, "abc", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_KeyRules(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	calls := 0
	e := idemServer(NewIdempotency(idemCfg, rdb), http.StatusCreated, &calls)

	rec := post(e, "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "idempotency_key_required")

	rec = post(e, strings.Repeat("k", 129), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_idempotency_key")

	rec = post(e, "abc", strings.Repeat("x", idemCfg.MaxBodyBytes+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	// reads are never keyed
	req := httptest.NewRequest(http.MethodGet, holdPath, nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_DisabledWithoutRedis(t *testing.T) {
	calls := 0
	e := idemServer(NewIdempotency(idemCfg, nil), http.StatusCreated, &calls)
	rec := post(e, "", `{}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotencyKey_ScopedPerUser(t *testing.T) {
	e := echo.New()
	newCtx := func(user any) echo.Context {
		c := e.NewContext(httptest.NewRequest(http.MethodPost, holdPath, nil), httptest.NewRecorder())
		c.SetPath(holdPath)
		if user != nil {
			c.Set("user_id", user)
		}
		return c
	}
	a := idempotencyKey(idemCfg, newCtx(uint64(1)), "k")
	b := idempotencyKey(idemCfg, newCtx(uint64(2)), "k")
	guest := idempotencyKey(idemCfg, newCtx(nil), "k")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, guest)
	assert.True(t, strings.HasPrefix(a, idemCfg.Prefix+":"))
	assert.Equal(t, a, idempotencyKey(idemCfg, newCtx(float64(1)), "k"))
}
