package gateway

import (
	"context"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// QuotaGuard is the external policy decision point limiting action volume
// per owner. It must be consulted before any persistence or transport side
// effect for the corresponding action.
type QuotaGuard interface {
	// CanPerformAction returns nil if the owner may perform units of the
	// action now, or an error wrapping ErrQuotaExceeded.
	CanPerformAction(ctx context.Context, owner urn.URN, action ActionKind, units int) error
}

// Transport is the push channel used to wake a device and hand it a batch
// of payloads. Implementations return a per-item outcome list; a returned
// error means the whole batch could not be attempted.
type Transport interface {
	SendEach(ctx context.Context, payloads []TransportPayload) (*DispatchOutcome, error)
}

// WebhookNotifier delivers event notifications to the owner's configured
// webhook. Callers treat delivery as best-effort; failures are logged, not
// retried.
type WebhookNotifier interface {
	DeliverNotification(ctx context.Context, event WebhookEvent) error
}

// DeviceStore manages device records.
type DeviceStore interface {
	// Register creates a new enabled device, or merge-updates and
	// re-enables an existing device with the same (owner, model, buildId).
	// Idempotent under repeated identical registration.
	Register(ctx context.Context, owner urn.URN, attrs DeviceAttrs) (*Device, error)

	Get(ctx context.Context, deviceID string) (*Device, error)

	// Update applies a partial update; fails with ErrNotFound if the device
	// does not exist.
	Update(ctx context.Context, deviceID string, attrs DeviceAttrs) (*Device, error)

	// Delete acknowledges without removing the record. Devices are never
	// physically deleted; repeated deletes succeed identically.
	Delete(ctx context.Context, deviceID string) error

	ListForOwner(ctx context.Context, owner urn.URN) ([]Device, error)

	// IncrementCounters applies atomic counter deltas so that concurrent
	// increments from independent requests commute.
	IncrementCounters(ctx context.Context, deviceID string, sentDelta, receivedDelta int64) error
}

// MessageStore persists batch and unit records. Records are append-only.
type MessageStore interface {
	CreateBatch(ctx context.Context, batch MessageBatch) error
	CreateUnit(ctx context.Context, unit MessageUnit) error

	// ListReceived returns up to limit of the most recent RECEIVED units
	// for the device, newest first.
	ListReceived(ctx context.Context, deviceID string, limit int) ([]MessageUnit, error)
}
