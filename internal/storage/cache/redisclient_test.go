package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-sms-gateway/internal/storage/cache"
	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

func setupTestRedis(t *testing.T) *cache.RedisClient {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	client, err := cache.NewRedisClient(rdb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Round-trips a device record", func(t *testing.T) {
		client := setupTestRedis(t)

		owner, err := urn.Parse("urn:sm:user:cache-owner")
		require.NoError(t, err)
		device := gateway.Device{ID: "dev-1", Owner: owner, Model: "Pixel 8", Enabled: true}
		require.NoError(t, client.Set(ctx, "gateway:device:dev-1", &device, time.Minute))

		var got gateway.Device
		require.NoError(t, client.Get(ctx, "gateway:device:dev-1", &got))
		assert.Equal(t, "Pixel 8", got.Model)
		assert.True(t, got.Enabled)
	})

	t.Run("Missing key is an error", func(t *testing.T) {
		client := setupTestRedis(t)

		var got gateway.Device
		err := client.Get(ctx, "gateway:device:missing", &got)
		assert.ErrorIs(t, err, redis.Nil)
	})

	t.Run("Del removes the key", func(t *testing.T) {
		client := setupTestRedis(t)

		device := gateway.Device{ID: "dev-1"}
		require.NoError(t, client.Set(ctx, "gateway:device:dev-1", &device, time.Minute))
		require.NoError(t, client.Del(ctx, "gateway:device:dev-1"))

		var got gateway.Device
		assert.Error(t, client.Get(ctx, "gateway:device:dev-1", &got))
	})
}
