package quota

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

func setupTestGuard(t *testing.T, limits Limits) (*miniredis.Miniredis, *RedisGuard) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	guard := NewRedisGuard(rdb, limits, slog.New(slog.NewTextHandler(io.Discard, nil)))
	guard.now = func() time.Time { return time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC) }
	return mr, guard
}

func TestLimitsForAction(t *testing.T) {
	limits := Limits{SendSMS: 100, BulkSendSMS: 500, ReceiveSMS: 1000}

	assert.Equal(t, int64(100), limits.forAction(gateway.ActionSendSMS))
	assert.Equal(t, int64(500), limits.forAction(gateway.ActionBulkSendSMS))
	assert.Equal(t, int64(1000), limits.forAction(gateway.ActionReceiveSMS))
	assert.Equal(t, int64(0), limits.forAction(gateway.ActionKind("unknown")))
}

func TestRedisGuardShortCircuits(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	owner, err := urn.Parse("urn:sm:user:quota-owner")
	require.NoError(t, err)

	// A nil client proves these paths never reach Redis.
	t.Run("Zero limit means unlimited", func(t *testing.T) {
		guard := NewRedisGuard(nil, Limits{SendSMS: 0}, logger)
		assert.NoError(t, guard.CanPerformAction(context.Background(), owner, gateway.ActionSendSMS, 10))
	})

	t.Run("Unconfigured action is unlimited", func(t *testing.T) {
		guard := NewRedisGuard(nil, Limits{SendSMS: 100}, logger)
		assert.NoError(t, guard.CanPerformAction(context.Background(), owner, gateway.ActionKind("future_action"), 10))
	})

	t.Run("Zero units consumes nothing", func(t *testing.T) {
		guard := NewRedisGuard(nil, Limits{SendSMS: 100}, logger)
		assert.NoError(t, guard.CanPerformAction(context.Background(), owner, gateway.ActionSendSMS, 0))
	})
}

func TestRedisGuardEnforcement(t *testing.T) {
	ctx := context.Background()
	owner, err := urn.Parse("urn:sm:user:quota-owner")
	require.NoError(t, err)

	t.Run("Consumes units until the window is exhausted", func(t *testing.T) {
		_, guard := setupTestGuard(t, Limits{SendSMS: 10})

		require.NoError(t, guard.CanPerformAction(ctx, owner, gateway.ActionSendSMS, 6))
		require.NoError(t, guard.CanPerformAction(ctx, owner, gateway.ActionSendSMS, 4))

		err := guard.CanPerformAction(ctx, owner, gateway.ActionSendSMS, 1)
		assert.ErrorIs(t, err, gateway.ErrQuotaExceeded)
	})

	t.Run("Rejected reservation is rolled back", func(t *testing.T) {
		mr, guard := setupTestGuard(t, Limits{SendSMS: 10})

		require.NoError(t, guard.CanPerformAction(ctx, owner, gateway.ActionSendSMS, 6))

		// 5 more would overshoot; the rejection must not burn quota.
		err := guard.CanPerformAction(ctx, owner, gateway.ActionSendSMS, 5)
		require.ErrorIs(t, err, gateway.ErrQuotaExceeded)
		mr.CheckGet(t, guard.windowKey(owner, gateway.ActionSendSMS), "6")

		// The remaining 4 units are still available.
		assert.NoError(t, guard.CanPerformAction(ctx, owner, gateway.ActionSendSMS, 4))
	})

	t.Run("Windows are independent per action", func(t *testing.T) {
		_, guard := setupTestGuard(t, Limits{SendSMS: 1, ReceiveSMS: 1})

		require.NoError(t, guard.CanPerformAction(ctx, owner, gateway.ActionSendSMS, 1))
		require.ErrorIs(t, guard.CanPerformAction(ctx, owner, gateway.ActionSendSMS, 1), gateway.ErrQuotaExceeded)

		// Exhausting send_sms leaves receive_sms untouched.
		assert.NoError(t, guard.CanPerformAction(ctx, owner, gateway.ActionReceiveSMS, 1))
	})

	t.Run("Windows are independent per owner", func(t *testing.T) {
		_, guard := setupTestGuard(t, Limits{SendSMS: 1})
		otherOwner, err := urn.Parse("urn:sm:user:other-owner")
		require.NoError(t, err)

		require.NoError(t, guard.CanPerformAction(ctx, owner, gateway.ActionSendSMS, 1))
		require.ErrorIs(t, guard.CanPerformAction(ctx, owner, gateway.ActionSendSMS, 1), gateway.ErrQuotaExceeded)

		assert.NoError(t, guard.CanPerformAction(ctx, otherOwner, gateway.ActionSendSMS, 1))
	})

	t.Run("First touch sets the window expiry", func(t *testing.T) {
		mr, guard := setupTestGuard(t, Limits{SendSMS: 10})

		require.NoError(t, guard.CanPerformAction(ctx, owner, gateway.ActionSendSMS, 1))

		ttl := mr.TTL(guard.windowKey(owner, gateway.ActionSendSMS))
		assert.Equal(t, 32*24*time.Hour, ttl)
	})
}

func TestRedisGuardWindowKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	owner, err := urn.Parse("urn:sm:user:quota-owner")
	require.NoError(t, err)

	guard := NewRedisGuard(nil, Limits{}, logger)
	key := guard.windowKey(owner, gateway.ActionSendSMS)

	// The key carries the month, so a missed expiry still rolls over.
	assert.Contains(t, key, "quota:urn:sm:user:quota-owner:send_sms:")
	assert.Regexp(t, `\d{4}-\d{2}$`, key)
}

func TestUnlimited(t *testing.T) {
	owner, err := urn.Parse("urn:sm:user:quota-owner")
	require.NoError(t, err)

	guard := Unlimited{}
	assert.NoError(t, guard.CanPerformAction(context.Background(), owner, gateway.ActionSendSMS, 1_000_000))
}
