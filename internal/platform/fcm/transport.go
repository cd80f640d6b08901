// Package fcm implements the push transport on Firebase Cloud Messaging.
// Devices are woken with data-only messages carrying the outbound envelope.
package fcm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

type Transport struct {
	client MessagingClient
	logger *slog.Logger
}

// NewTransport accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewTransport(client MessagingClient, logger *slog.Logger) *Transport {
	return &Transport{
		client: client,
		logger: logger.With("component", "FCMTransport"),
	}
}

// SendEach delivers one FCM message per payload and maps the batch response
// to a per-item outcome list. A returned error means the whole batch could
// not be attempted; individual rejections appear only in the outcome.
func (t *Transport) SendEach(ctx context.Context, payloads []gateway.TransportPayload) (*gateway.DispatchOutcome, error) {
	if len(payloads) == 0 {
		return &gateway.DispatchOutcome{}, nil
	}

	msgs := make([]*messaging.Message, 0, len(payloads))
	for _, p := range payloads {
		msgs = append(msgs, &messaging.Message{
			Token:   p.TargetToken,
			Data:    envelopeData(p.Envelope),
			Android: &messaging.AndroidConfig{Priority: p.Priority},
		})
	}

	br, err := t.client.SendEach(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("fcm send failed: %w", err)
	}

	outcome := &gateway.DispatchOutcome{
		SuccessCount: br.SuccessCount,
		FailureCount: br.FailureCount,
		Responses:    make([]gateway.DeliveryResult, 0, len(br.Responses)),
	}
	for _, resp := range br.Responses {
		result := gateway.DeliveryResult{Success: resp.Success, MessageID: resp.MessageID}
		if resp.Error != nil {
			result.Error = resp.Error.Error()
		}
		outcome.Responses = append(outcome.Responses, result)
	}

	t.logger.Debug("FCM batch sent", "success", br.SuccessCount, "failure", br.FailureCount)
	return outcome, nil
}

// envelopeData flattens the envelope for FCM's string-only data payload.
// List fields are JSON-encoded.
func envelopeData(env gateway.MessageEnvelope) map[string]string {
	recipients, _ := json.Marshal(env.Recipients)
	receivers, _ := json.Marshal(env.Receivers)
	return map[string]string{
		"unitId":     env.UnitID,
		"batchId":    env.BatchID,
		"message":    env.Message,
		"recipients": string(recipients),
		"smsBody":    env.SMSBody,
		"receivers":  string(receivers),
	}
}
