// Package pipeline contains the Pub/Sub ingestion path for inbound SMS:
// devices publish received messages to a topic, and the pipeline feeds them
// through the same recorder as the HTTP inbound endpoint.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// InboundSMSEvent is the payload a device publishes when it receives an
// SMS. Field naming mirrors the HTTP inbound body, legacy aliases included.
type InboundSMSEvent struct {
	DeviceID         string     `json:"deviceId"`
	Sender           string     `json:"sender"`
	Message          string     `json:"message"`
	SMSBody          string     `json:"smsBody"`
	ReceivedAt       *time.Time `json:"receivedAt"`
	ReceivedAtMillis *int64     `json:"receivedAtMillis"`
}

// InboundSMSTransformer safely unmarshals a raw message payload into an
// InboundSMSEvent. Malformed payloads are skipped so the StreamingService
// can handle the Nack/DLQ logic; content validation beyond that belongs to
// the recorder.
func InboundSMSTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*InboundSMSEvent, bool, error) {
	var event InboundSMSEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal inbound sms from message %s: %w", msg.ID, err)
	}
	if event.DeviceID == "" {
		return nil, true, fmt.Errorf("inbound sms message %s has no deviceId", msg.ID)
	}

	return &event, false, nil
}
