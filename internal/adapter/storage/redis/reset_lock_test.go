package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetLock_SingleHolder(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewResetLock(client)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.Acquire(ctx, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must wait for release")

	require.NoError(t, lock.Release(ctx, "owner-a"))

	ok, err = lock.Acquire(ctx, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResetLock_ReleaseIgnoresForeignOwner(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewResetLock(client)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Release(ctx, "owner-b"))

	held, err := s.Get("lock:wallet-reset")
	require.NoError(t, err)
	assert.Equal(t, "owner-a", held)
}

func TestResetLock_ExpiresAfterTTL(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	lock := NewResetLock(client)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "owner-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	s.FastForward(2 * time.Second)

	ok, err = lock.Acquire(ctx, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
