package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDeduper_ClaimOnce(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	d := NewRedisDeduper(rdb, "", 0)
	ctx := context.Background()

	mock.ExpectSetNX("tm:webhook:evt_1", "1", 72*time.Hour).SetVal(true)
	mock.ExpectSetNX("tm:webhook:evt_1", "1", 72*time.Hour).SetVal(false)
	mock.ExpectDel("tm:webhook:evt_1").SetVal(1)

	first, err := d.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, first)
	again, err := d.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, again)
	require.NoError(t, d.Forget(ctx, "evt_1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisDeduper_NilClientClaimsEverything(t *testing.T) {
	var d *RedisDeduper
	ok, err := d.Claim(context.Background(), "evt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, d.Forget(context.Background(), "evt"))

	ok, err = NewRedisDeduper(nil, "p", time.Minute).Claim(context.Background(), "evt")
	require.NoError(t, err)
	assert.True(t, ok)
}
