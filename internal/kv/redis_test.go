package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis, func()) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	store := NewRedisStore(client, ttl)

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return store, mr, cleanup
}

func TestRedisStore_GetMissing(t *testing.T) {
	store, _, cleanup := setupTestRedis(t, 0)
	defer cleanup()

	_, err := store.Get(context.Background(), "profile:abc:cart")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_SetGet(t *testing.T) {
	store, mr, cleanup := setupTestRedis(t, 0)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "profile:abc:cart", `{"lines":[]}`))

	v, err := store.Get(ctx, "profile:abc:cart")
	require.NoError(t, err)
	assert.Equal(t, `{"lines":[]}`, v)
	assert.Equal(t, time.Duration(0), mr.TTL("profile:abc:cart"))
}

func TestRedisStore_TTLRefreshedOnWrite(t *testing.T) {
	store, mr, cleanup := setupTestRedis(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v1"))
	mr.FastForward(30 * time.Minute)
	require.NoError(t, store.Set(ctx, "k", "v2"))

	assert.Equal(t, time.Hour, mr.TTL("k"))

	mr.FastForward(2 * time.Hour)
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Delete(t *testing.T) {
	store, mr, cleanup := setupTestRedis(t, 0)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v"))
	require.NoError(t, store.Delete(ctx, "k"))

	assert.False(t, mr.Exists("k"))
}

func TestRedisStore_ServerDown(t *testing.T) {
	store, mr, cleanup := setupTestRedis(t, 0)
	defer cleanup()
	mr.Close()

	_, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "redis get failed")

	err = store.Set(context.Background(), "k", "v")
	assert.Contains(t, err.Error(), "redis set failed")
}
