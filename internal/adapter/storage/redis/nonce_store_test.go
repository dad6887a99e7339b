package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceStore_CheckAndSet(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewNonceStore(client)
	ctx := context.Background()

	steps := []struct {
		accessKey, nonce string
		want             bool
	}{
		{"ak_gateway", "n-1", true},
		{"ak_gateway", "n-1", false}, // replay
		{"ak_gateway", "n-2", true},
		{"ak_other", "n-1", true}, // nonces are scoped per caller
	}
	for _, s := range steps {
		ok, err := store.CheckAndSet(ctx, s.accessKey, s.nonce, 2*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, s.want, ok, "%s/%s", s.accessKey, s.nonce)
	}
}

func TestNonceStore_ExpiredNonceAcceptedAgain(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewNonceStore(client)
	ctx := context.Background()

	ok, err := store.CheckAndSet(ctx, "ak_gateway", "n-exp", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("nonce:ak_gateway:n-exp"))

	mr.FastForward(2 * time.Second)

	ok, err = store.CheckAndSet(ctx, "ak_gateway", "n-exp", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNonceStore_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewNonceStore(client)
	mr.Close()

	ok, err := store.CheckAndSet(context.Background(), "ak_gateway", "n", time.Minute)
	assert.False(t, ok)
	assert.ErrorContains(t, err, "redis nonce check")
}
