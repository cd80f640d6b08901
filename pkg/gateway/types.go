// Package gateway contains the public domain models and collaborator
// interfaces for the SMS gateway service.
package gateway

import (
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Direction of a message unit relative to the gateway.
type Direction string

const (
	DirectionSent     Direction = "SENT"
	DirectionReceived Direction = "RECEIVED"
)

// ActionKind identifies a quota-limited action.
type ActionKind string

const (
	ActionSendSMS     ActionKind = "send_sms"
	ActionBulkSendSMS ActionKind = "bulk_send_sms"
	ActionReceiveSMS  ActionKind = "receive_sms"
)

// PriorityHigh is the delivery priority hint attached to outbound payloads
// so the transport wakes the device immediately.
const PriorityHigh = "high"

// EventMessageReceived is the webhook event emitted when a device forwards
// an inbound SMS.
const EventMessageReceived = "MESSAGE_RECEIVED"

// Device is a registered handset acting as the physical SMS modem.
// At most one device exists per (owner, model, buildId); registering the
// same tuple again merges attributes and re-enables instead of duplicating.
type Device struct {
	ID               string    `json:"id"`
	Owner            urn.URN   `json:"owner"`
	Brand            string    `json:"brand,omitempty"`
	Model            string    `json:"model"`
	BuildID          string    `json:"buildId"`
	Enabled          bool      `json:"enabled"`
	TransportToken   string    `json:"-"`
	SentSMSCount     int64     `json:"sentSMSCount"`
	ReceivedSMSCount int64     `json:"receivedSMSCount"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Projection returns the small public view of the device attached to inbox
// reads.
func (d Device) Projection() DeviceProjection {
	return DeviceProjection{
		ID:      d.ID,
		Brand:   d.Brand,
		Model:   d.Model,
		BuildID: d.BuildID,
		Enabled: d.Enabled,
	}
}

// DeviceProjection is the subset of device fields exposed alongside inbound
// messages.
type DeviceProjection struct {
	ID      string `json:"id"`
	Brand   string `json:"brand,omitempty"`
	Model   string `json:"model"`
	BuildID string `json:"buildId"`
	Enabled bool   `json:"enabled"`
}

// DeviceAttrs carries optional device attributes for registration and
// partial updates. Nil fields are left untouched.
type DeviceAttrs struct {
	Brand          *string `json:"brand,omitempty"`
	Model          *string `json:"model,omitempty"`
	BuildID        *string `json:"buildId,omitempty"`
	Enabled        *bool   `json:"enabled,omitempty"`
	TransportToken *string `json:"transportToken,omitempty"`
}

// MessageBatch groups the per-recipient units created for one outbound
// request. Immutable once created; exists as an audit record only.
type MessageBatch struct {
	ID               string    `json:"id"`
	DeviceID         string    `json:"deviceId"`
	Message          string    `json:"message"`
	RecipientCount   int       `json:"recipientCount"`
	RecipientPreview string    `json:"recipientPreview,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// MessageUnit is one outbound (to one recipient) or inbound (from one
// sender) text message record. Immutable after creation. Address holds the
// recipient for SENT units and the sender for RECEIVED units; Timestamp is
// the requested-at time for SENT and the received-at time for RECEIVED.
type MessageUnit struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	BatchID   string    `json:"batchId,omitempty"`
	Direction Direction `json:"direction"`
	Body      string    `json:"message"`
	Address   string    `json:"address"`
	Timestamp time.Time `json:"timestamp"`
}

// InboxEntry is a RECEIVED unit annotated with its owning device's public
// fields.
type InboxEntry struct {
	Message MessageUnit      `json:"message"`
	Device  DeviceProjection `json:"device"`
}

// MessageEnvelope is the payload handed to the device client inside the
// push notification. This shape is a stable contract: older device clients
// read the legacy aliases, so both field sets are always populated.
type MessageEnvelope struct {
	UnitID     string   `json:"unitId"`
	BatchID    string   `json:"batchId"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`

	// Legacy aliases.
	SMSBody   string   `json:"smsBody"`
	Receivers []string `json:"receivers"`
}

// TransportPayload is one addressed push message.
type TransportPayload struct {
	TargetToken string
	Envelope    MessageEnvelope
	Priority    string
}

// DeliveryResult is the transport's verdict on a single payload.
type DeliveryResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DispatchOutcome aggregates per-recipient results for one transport
// invocation. Transient: returned to the caller, never persisted.
type DispatchOutcome struct {
	SuccessCount int              `json:"successCount"`
	FailureCount int              `json:"failureCount"`
	Responses    []DeliveryResult `json:"responses"`
}

// BulkDispatchOutcome sums outcomes across the sub-messages of a bulk
// request. Success means at least one unit was accepted; there is no hard
// all-failed error at the bulk level.
type BulkDispatchOutcome struct {
	Success      bool               `json:"success"`
	SuccessCount int                `json:"successCount"`
	FailureCount int                `json:"failureCount"`
	Responses    []*DispatchOutcome `json:"responses"`
}

// WebhookEvent is the notification delivered to the owner's webhook when an
// inbound message is recorded.
type WebhookEvent struct {
	Message MessageUnit `json:"message"`
	Owner   urn.URN     `json:"owner"`
	Event   string      `json:"event"`
}
