package gateway

import (
	"errors"
	"fmt"
)

// Error taxonomy. Validation and quota errors are terminal and short-circuit
// before any persistence; infrastructure errors abort the current batch but
// never roll back units already committed.
var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("not found")

	// ErrDeviceUnavailable reports a device that is missing or disabled.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrQuotaExceeded reports a negative QuotaGuard decision.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrEmptyMessage reports a blank or absent message body.
	ErrEmptyMessage = errors.New("empty message body")

	// ErrInvalidRecipients reports a missing or empty recipient list.
	ErrInvalidRecipients = errors.New("invalid recipients")

	// ErrInvalidMessageList reports a bulk request with no usable
	// sub-messages.
	ErrInvalidMessageList = errors.New("invalid message list")

	// ErrRecipientLimitExceeded reports a bulk request over the hard
	// recipient cap.
	ErrRecipientLimitExceeded = errors.New("recipient limit exceeded")

	// ErrInvalidInboundMessage reports an inbound message missing sender,
	// body, or timestamp.
	ErrInvalidInboundMessage = errors.New("invalid inbound message")

	// ErrBatchPersist reports a failure creating the batch record. The
	// underlying cause is attached.
	ErrBatchPersist = errors.New("batch persist failed")

	// ErrTransport reports a hard transport-level failure. The underlying
	// cause is attached.
	ErrTransport = errors.New("transport failed")

	// ErrDeliveryFailed reports a transport response in which every attempt
	// was rejected.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// DeliveryError carries the full transport response when all attempts were
// rejected. It unwraps to ErrDeliveryFailed.
type DeliveryError struct {
	Outcome *DispatchOutcome
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed: all %d attempts rejected", e.Outcome.FailureCount)
}

func (e *DeliveryError) Unwrap() error { return ErrDeliveryFailed }
