package redis

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyCache_StoresPostedTransaction(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	key := domain.BuildPaymentIdempotencyKey("pay_001")
	value := []byte(`{"id":"4b1f","type":"deposit","amount":"100"}`)

	result, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, result, "miss returns nil")

	require.NoError(t, cache.Set(ctx, key, value, 24*time.Hour))

	result, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, result)

	// Ledger keys live under their own namespace.
	assert.True(t, mr.Exists("ledger:idempotency:"+key))
	assert.Equal(t, 24*time.Hour, mr.TTL("ledger:idempotency:"+key))
}

func TestIdempotencyCache_Expiry(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte(`{}`), time.Second))
	mr.FastForward(2 * time.Second)

	result, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestIdempotencyCache_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewIdempotencyCache(client)
	mr.Close()

	_, err := cache.Get(context.Background(), "k")
	assert.ErrorContains(t, err, "redis idempotency get")
	err = cache.Set(context.Background(), "k", []byte(`{}`), time.Minute)
	assert.ErrorContains(t, err, "redis idempotency set")
}
