// Package counter applies fire-and-forget device counter increments.
package counter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

const updateTimeout = 10 * time.Second

// Updater increments device sent/received counters off the request path.
// Increments are applied as atomic deltas at the storage layer, so
// concurrent updates commute; a failed update is logged and dropped, never
// retried and never surfaced to the caller. Counters may therefore drift
// behind briefly, which is acceptable.
type Updater struct {
	devices gateway.DeviceStore
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewUpdater(devices gateway.DeviceStore, logger *slog.Logger) *Updater {
	return &Updater{
		devices: devices,
		logger:  logger.With("component", "CounterUpdater"),
	}
}

// AddSent schedules an increment of the device's sent counter.
func (u *Updater) AddSent(deviceID string, n int64) {
	u.schedule(deviceID, n, 0)
}

// AddReceived schedules an increment of the device's received counter.
func (u *Updater) AddReceived(deviceID string, n int64) {
	u.schedule(deviceID, 0, n)
}

// Wait blocks until all scheduled updates have completed. Used on shutdown
// and in tests; callers on the request path never wait.
func (u *Updater) Wait() {
	u.wg.Wait()
}

func (u *Updater) schedule(deviceID string, sent, received int64) {
	if sent == 0 && received == 0 {
		return
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
		defer cancel()

		if err := u.devices.IncrementCounters(ctx, deviceID, sent, received); err != nil {
			u.logger.Warn("Counter update dropped",
				"device_id", deviceID,
				"sent_delta", sent,
				"received_delta", received,
				"err", err,
			)
		}
	}()
}
