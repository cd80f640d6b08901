// Package inbound records text messages forwarded back by devices and
// triggers the best-effort side effects that follow: counter updates and
// webhook notification.
package inbound

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

// sideEffectTimeout bounds the detached webhook delivery, which runs after
// the request has already returned.
const sideEffectTimeout = 30 * time.Second

// Counters schedules best-effort counter updates.
type Counters interface {
	AddReceived(deviceID string, n int64)
}

// Message is the inbound input. Body accepts the current and legacy field
// names; the timestamp is either absolute or epoch milliseconds, with the
// absolute form taking precedence when both are present.
type Message struct {
	Sender           string     `json:"sender"`
	Body             string     `json:"message"`
	SMSBody          string     `json:"smsBody"`
	ReceivedAt       *time.Time `json:"receivedAt"`
	ReceivedAtMillis *int64     `json:"receivedAtMillis"`
}

func (m Message) body() string {
	if m.Body != "" {
		return m.Body
	}
	return m.SMSBody
}

func (m Message) receivedAt() (time.Time, bool) {
	if m.ReceivedAt != nil {
		return *m.ReceivedAt, true
	}
	if m.ReceivedAtMillis != nil {
		return time.UnixMilli(*m.ReceivedAtMillis), true
	}
	return time.Time{}, false
}

// Recorder validates and persists inbound messages.
type Recorder struct {
	devices  gateway.DeviceStore
	messages gateway.MessageStore
	quota    gateway.QuotaGuard
	counters Counters
	notifier gateway.WebhookNotifier
	logger   *slog.Logger
}

func NewRecorder(
	devices gateway.DeviceStore,
	messages gateway.MessageStore,
	quota gateway.QuotaGuard,
	counters Counters,
	notifier gateway.WebhookNotifier,
	logger *slog.Logger,
) *Recorder {
	return &Recorder{
		devices:  devices,
		messages: messages,
		quota:    quota,
		counters: counters,
		notifier: notifier,
		logger:   logger.With("component", "InboundRecorder"),
	}
}

// Record persists one RECEIVED unit for the device and schedules the counter
// increment and webhook notification as detached tasks. Unlike the outbound
// path, a disabled device still receives: only existence is checked.
func (r *Recorder) Record(ctx context.Context, deviceID string, msg Message) (*gateway.MessageUnit, error) {
	device, err := r.devices.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, gateway.ErrDeviceUnavailable
		}
		return nil, err
	}

	if err := r.quota.CanPerformAction(ctx, device.Owner, gateway.ActionReceiveSMS, 1); err != nil {
		return nil, err
	}

	receivedAt, ok := msg.receivedAt()
	if !ok || strings.TrimSpace(msg.Sender) == "" || strings.TrimSpace(msg.body()) == "" {
		return nil, gateway.ErrInvalidInboundMessage
	}

	unit := gateway.MessageUnit{
		ID:        uuid.NewString(),
		DeviceID:  device.ID,
		Direction: gateway.DirectionReceived,
		Body:      msg.body(),
		Address:   msg.Sender,
		Timestamp: receivedAt,
	}
	if err := r.messages.CreateUnit(ctx, unit); err != nil {
		return nil, err
	}

	r.counters.AddReceived(device.ID, 1)
	go r.notify(gateway.WebhookEvent{
		Message: unit,
		Owner:   device.Owner,
		Event:   gateway.EventMessageReceived,
	})

	r.logger.Info("Inbound message recorded", "device_id", device.ID, "unit_id", unit.ID)
	return &unit, nil
}

// notify runs detached from the request; failures are logged and discarded,
// never retried.
func (r *Recorder) notify(event gateway.WebhookEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	if err := r.notifier.DeliverNotification(ctx, event); err != nil {
		r.logger.Warn("Webhook delivery failed", "owner", event.Owner.String(), "err", err)
	}
}
