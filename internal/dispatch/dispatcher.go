package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

// maxBulkRecipients is the hard cap on total recipients across all
// sub-messages of one bulk request, applied after the quota check.
const maxBulkRecipients = 50

// Counters schedules best-effort counter updates. Implementations must not
// block the request path.
type Counters interface {
	AddSent(deviceID string, n int64)
}

// SendRequest is the single-send input. Message and Recipients are the
// current field names; SMSBody and Receivers are legacy aliases older
// backend clients still send. The first non-empty field wins, so the core
// only ever sees one canonical shape.
type SendRequest struct {
	Message    string   `json:"message"`
	SMSBody    string   `json:"smsBody"`
	Recipients []string `json:"recipients"`
	Receivers  []string `json:"receivers"`
}

func (r SendRequest) body() string {
	if r.Message != "" {
		return r.Message
	}
	return r.SMSBody
}

func (r SendRequest) recipientList() []string {
	if r.Recipients != nil {
		return r.Recipients
	}
	return r.Receivers
}

// BulkSendRequest carries a shared informational template and a list of
// sub-messages, each with its own body and recipients.
type BulkSendRequest struct {
	Message  string        `json:"message"`
	Messages []SendRequest `json:"messages"`
}

// Dispatcher is the outbound engine: resolve device, enforce quota, persist
// batch and per-recipient units, invoke the transport, aggregate outcomes.
type Dispatcher struct {
	devices   gateway.DeviceStore
	messages  gateway.MessageStore
	quota     gateway.QuotaGuard
	transport gateway.Transport
	counters  Counters
	logger    *slog.Logger
	now       func() time.Time
}

func NewDispatcher(
	devices gateway.DeviceStore,
	messages gateway.MessageStore,
	quota gateway.QuotaGuard,
	transport gateway.Transport,
	counters Counters,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		devices:   devices,
		messages:  messages,
		quota:     quota,
		transport: transport,
		counters:  counters,
		logger:    logger.With("component", "BatchDispatcher"),
		now:       time.Now,
	}
}

// Send dispatches one message body to every recipient in the request.
//
// Check order is part of the contract: device, quota (on the caller-declared
// recipient count, before payload validation), body, recipients, batch
// persistence, transport. A unit may exist even though the call returns an
// error, if the failure happens after unit creation (at-least-once).
func (d *Dispatcher) Send(ctx context.Context, deviceID string, req SendRequest) (*gateway.DispatchOutcome, error) {
	device, err := d.resolveDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	recipients := req.recipientList()
	if err := d.quota.CanPerformAction(ctx, device.Owner, gateway.ActionSendSMS, len(recipients)); err != nil {
		return nil, err
	}

	body := strings.TrimSpace(req.body())
	if body == "" {
		return nil, gateway.ErrEmptyMessage
	}
	if len(recipients) == 0 {
		return nil, gateway.ErrInvalidRecipients
	}

	batch := gateway.MessageBatch{
		ID:               uuid.NewString(),
		DeviceID:         device.ID,
		Message:          body,
		RecipientCount:   len(recipients),
		RecipientPreview: RecipientPreview(recipients),
		CreatedAt:        d.now(),
	}
	if err := d.messages.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrBatchPersist, err)
	}

	payloads, err := d.createUnits(ctx, device, batch.ID, body, recipients)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrBatchPersist, err)
	}

	outcome, err := d.transport.SendEach(ctx, payloads)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrTransport, err)
	}
	if outcome.SuccessCount == 0 {
		return nil, &gateway.DeliveryError{Outcome: outcome}
	}

	d.counters.AddSent(device.ID, int64(outcome.SuccessCount))
	d.logger.Info("Batch dispatched",
		"device_id", device.ID,
		"batch_id", batch.ID,
		"success", outcome.SuccessCount,
		"failure", outcome.FailureCount,
	)
	return outcome, nil
}

// SendBulk fans a list of sub-messages out through the device. Malformed
// sub-messages are skipped silently, and a transport failure for one
// sub-message never aborts the rest; failure at the bulk level is expressed
// only through the aggregate counts.
func (d *Dispatcher) SendBulk(ctx context.Context, deviceID string, req BulkSendRequest) (*gateway.BulkDispatchOutcome, error) {
	device, err := d.resolveDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	var all []string
	for _, sub := range req.Messages {
		all = append(all, sub.recipientList()...)
	}
	if err := d.quota.CanPerformAction(ctx, device.Owner, gateway.ActionBulkSendSMS, len(all)); err != nil {
		return nil, err
	}

	if len(req.Messages) == 0 || len(all) == 0 {
		return nil, gateway.ErrInvalidMessageList
	}
	if len(all) > maxBulkRecipients {
		return nil, fmt.Errorf("%w: %d recipients, cap %d", gateway.ErrRecipientLimitExceeded, len(all), maxBulkRecipients)
	}

	batch := gateway.MessageBatch{
		ID:               uuid.NewString(),
		DeviceID:         device.ID,
		Message:          req.Message,
		RecipientCount:   len(all),
		RecipientPreview: RecipientPreview(all),
		CreatedAt:        d.now(),
	}
	if err := d.messages.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrBatchPersist, err)
	}

	result := &gateway.BulkDispatchOutcome{Responses: make([]*gateway.DispatchOutcome, 0, len(req.Messages))}
	for i, sub := range req.Messages {
		body := strings.TrimSpace(sub.body())
		recipients := sub.recipientList()
		if body == "" || len(recipients) == 0 {
			d.logger.Debug("Skipping malformed sub-message", "batch_id", batch.ID, "index", i)
			continue
		}

		payloads, err := d.createUnits(ctx, device, batch.ID, body, recipients)
		if err != nil {
			d.logger.Warn("Sub-message unit persistence failed, continuing", "batch_id", batch.ID, "index", i, "err", err)
			continue
		}

		outcome, err := d.transport.SendEach(ctx, payloads)
		if err != nil {
			d.logger.Warn("Sub-message transport failed, continuing", "batch_id", batch.ID, "index", i, "err", err)
			continue
		}

		if outcome.SuccessCount > 0 {
			d.counters.AddSent(device.ID, int64(outcome.SuccessCount))
		}
		result.Responses = append(result.Responses, outcome)
		result.SuccessCount += outcome.SuccessCount
		result.FailureCount += outcome.FailureCount
	}

	result.Success = result.SuccessCount > 0
	d.logger.Info("Bulk batch dispatched",
		"device_id", device.ID,
		"batch_id", batch.ID,
		"success", result.SuccessCount,
		"failure", result.FailureCount,
	)
	return result, nil
}

// createUnits persists one SENT unit per recipient, in input order, and
// returns the matching transport payloads.
func (d *Dispatcher) createUnits(ctx context.Context, device *gateway.Device, batchID, body string, recipients []string) ([]gateway.TransportPayload, error) {
	payloads := make([]gateway.TransportPayload, 0, len(recipients))
	for _, recipient := range recipients {
		unit := gateway.MessageUnit{
			ID:        uuid.NewString(),
			DeviceID:  device.ID,
			BatchID:   batchID,
			Direction: gateway.DirectionSent,
			Body:      body,
			Address:   recipient,
			Timestamp: d.now(),
		}
		if err := d.messages.CreateUnit(ctx, unit); err != nil {
			return nil, fmt.Errorf("create unit for %q: %w", recipient, err)
		}

		payloads = append(payloads, gateway.TransportPayload{
			TargetToken: device.TransportToken,
			Priority:    gateway.PriorityHigh,
			Envelope: gateway.MessageEnvelope{
				UnitID:     unit.ID,
				BatchID:    batchID,
				Message:    body,
				Recipients: []string{recipient},
				SMSBody:    body,
				Receivers:  []string{recipient},
			},
		})
	}
	return payloads, nil
}

func (d *Dispatcher) resolveDevice(ctx context.Context, deviceID string) (*gateway.Device, error) {
	device, err := d.devices.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, gateway.ErrDeviceUnavailable
		}
		return nil, err
	}
	if !device.Enabled {
		return nil, fmt.Errorf("%w: device disabled", gateway.ErrDeviceUnavailable)
	}
	return device, nil
}
