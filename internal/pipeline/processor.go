package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-sms-gateway/internal/inbound"
	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

// Recorder is the slice of the inbound recorder the processor needs.
type Recorder interface {
	Record(ctx context.Context, deviceID string, msg inbound.Message) (*gateway.MessageUnit, error)
}

// NewProcessor creates the logic that hands ingested events to the inbound
// recorder. Terminal errors (unknown device, quota, malformed content) ack
// the message rather than loop it through redelivery; only infrastructure
// failures are returned as retryable.
func NewProcessor(recorder Recorder, logger *slog.Logger) messagepipeline.StreamProcessor[InboundSMSEvent] {
	return func(ctx context.Context, original messagepipeline.Message, event *InboundSMSEvent) error {
		procLogger := logger.With(
			"device_id", event.DeviceID,
			"pubsub_msg_id", original.ID,
		)

		unit, err := recorder.Record(ctx, event.DeviceID, inbound.Message{
			Sender:           event.Sender,
			Body:             event.Message,
			SMSBody:          event.SMSBody,
			ReceivedAt:       event.ReceivedAt,
			ReceivedAtMillis: event.ReceivedAtMillis,
		})
		if err != nil {
			if errors.Is(err, gateway.ErrDeviceUnavailable) ||
				errors.Is(err, gateway.ErrQuotaExceeded) ||
				errors.Is(err, gateway.ErrInvalidInboundMessage) {
				procLogger.Warn("Dropping inbound sms", "reason", err)
				return nil
			}
			procLogger.Error("Inbound recording failed", "err", err)
			return err // Retryable
		}

		procLogger.Info("Inbound sms ingested", "unit_id", unit.ID)
		return nil
	}
}
