//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisDeduper(t *testing.T) {
	client := newRedisClient(t)
	d := NewRedisDeduper(client, "")
	ctx := context.Background()

	ok, err := d.Claim(ctx, "user_registered:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, "user_registered:abc", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.TTL(ctx, DefaultPrefix+"user_registered:abc").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, d.Release(ctx, "user_registered:abc"))
	ok, err = d.Claim(ctx, "user_registered:abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDeduper_ClosedClient(t *testing.T) {
	client := newRedisClient(t)
	d := NewRedisDeduper(client, "test:")
	require.NoError(t, client.Close())

	_, err := d.Claim(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}
