// Package quota provides the deployable QuotaGuard implementations. The
// core only consumes the decision interface; policy internals stay here.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

// Limits caps monthly units per action kind. A zero or negative limit means
// the action is unlimited.
type Limits struct {
	SendSMS     int64
	BulkSendSMS int64
	ReceiveSMS  int64
}

func (l Limits) forAction(action gateway.ActionKind) int64 {
	switch action {
	case gateway.ActionSendSMS:
		return l.SendSMS
	case gateway.ActionBulkSendSMS:
		return l.BulkSendSMS
	case gateway.ActionReceiveSMS:
		return l.ReceiveSMS
	default:
		return 0
	}
}

// RedisGuard enforces fixed monthly windows with per-owner counters in
// Redis. Counting and deciding happen in one INCRBY, so concurrent checks
// cannot both slip under the limit.
type RedisGuard struct {
	rdb    *redis.Client
	limits Limits
	logger *slog.Logger
	now    func() time.Time
}

func NewRedisGuard(rdb *redis.Client, limits Limits, logger *slog.Logger) *RedisGuard {
	return &RedisGuard{
		rdb:    rdb,
		limits: limits,
		logger: logger.With("component", "QuotaGuard"),
		now:    time.Now,
	}
}

// CanPerformAction consumes units from the owner's monthly window, failing
// with ErrQuotaExceeded once the window is exhausted. A failed reservation
// is rolled back so rejected requests do not burn quota.
func (g *RedisGuard) CanPerformAction(ctx context.Context, owner urn.URN, action gateway.ActionKind, units int) error {
	limit := g.limits.forAction(action)
	if limit <= 0 {
		return nil
	}
	if units <= 0 {
		return nil
	}

	key := g.windowKey(owner, action)
	total, err := g.rdb.IncrBy(ctx, key, int64(units)).Result()
	if err != nil {
		return fmt.Errorf("quota check failed: %w", err)
	}
	// First touch in a window sets its expiry; the window key carries the
	// month so a missed expiry still rolls over correctly.
	if total == int64(units) {
		g.rdb.Expire(ctx, key, 32*24*time.Hour)
	}

	if total > limit {
		g.rdb.DecrBy(ctx, key, int64(units))
		g.logger.Info("Quota exceeded",
			"owner", owner.String(),
			"action", string(action),
			"requested", units,
			"limit", limit,
		)
		return fmt.Errorf("%w: %s limit %d reached", gateway.ErrQuotaExceeded, action, limit)
	}
	return nil
}

func (g *RedisGuard) windowKey(owner urn.URN, action gateway.ActionKind) string {
	return fmt.Sprintf("quota:%s:%s:%s", owner.String(), action, g.now().UTC().Format("2006-01"))
}

// Unlimited permits every action. Used when no limits are configured and in
// tests.
type Unlimited struct{}

func (Unlimited) CanPerformAction(context.Context, urn.URN, gateway.ActionKind, int) error {
	return nil
}
