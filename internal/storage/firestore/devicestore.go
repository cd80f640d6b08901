// Package firestore implements the device and message stores on Google
// Cloud Firestore.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

// DeviceStore implements gateway.DeviceStore on Firestore.
type DeviceStore struct {
	client *firestore.Client
}

func NewDeviceStore(client *firestore.Client) *DeviceStore {
	return &DeviceStore{client: client}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	ID               string    `firestore:"id"`
	Owner            string    `firestore:"owner"`
	Brand            string    `firestore:"brand"`
	Model            string    `firestore:"model"`
	BuildID          string    `firestore:"build_id"`
	Enabled          bool      `firestore:"enabled"`
	TransportToken   string    `firestore:"transport_token"`
	SentSMSCount     int64     `firestore:"sent_sms_count"`
	ReceivedSMSCount int64     `firestore:"received_sms_count"`
	CreatedAt        time.Time `firestore:"created_at"`
	UpdatedAt        time.Time `firestore:"updated_at"`
}

// Register upserts on the (owner, model, buildId) tuple: an existing device
// is merge-updated and forced enabled, otherwise a new enabled device is
// created. Repeated identical registrations converge on one record.
func (s *DeviceStore) Register(ctx context.Context, owner urn.URN, attrs gateway.DeviceAttrs) (*gateway.Device, error) {
	model := stringValue(attrs.Model)
	buildID := stringValue(attrs.BuildID)

	existing, err := s.findByTuple(ctx, owner, model, buildID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var record deviceRecord
	if existing != nil {
		record = *existing
	} else {
		record = deviceRecord{
			ID:        uuid.NewString(),
			Owner:     owner.String(),
			Model:     model,
			BuildID:   buildID,
			CreatedAt: now,
		}
	}

	applyAttrs(&record, attrs)
	record.Enabled = true
	record.UpdatedAt = now

	if _, err := s.deviceRef(record.ID).Set(ctx, record); err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}
	return recordToDevice(record)
}

func (s *DeviceStore) Get(ctx context.Context, deviceID string) (*gateway.Device, error) {
	doc, err := s.deviceRef(deviceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("device %s: %w", deviceID, gateway.ErrNotFound)
		}
		return nil, fmt.Errorf("get device: %w", err)
	}

	var record deviceRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("decode device %s: %w", deviceID, err)
	}
	return recordToDevice(record)
}

func (s *DeviceStore) Update(ctx context.Context, deviceID string, attrs gateway.DeviceAttrs) (*gateway.Device, error) {
	doc, err := s.deviceRef(deviceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("device %s: %w", deviceID, gateway.ErrNotFound)
		}
		return nil, fmt.Errorf("get device: %w", err)
	}

	var record deviceRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("decode device %s: %w", deviceID, err)
	}

	applyAttrs(&record, attrs)
	record.UpdatedAt = time.Now()

	if _, err := s.deviceRef(deviceID).Set(ctx, record); err != nil {
		return nil, fmt.Errorf("update device: %w", err)
	}
	return recordToDevice(record)
}

// Delete is an acknowledged no-op: device records are never removed, so
// repeated deletes succeed identically and history stays attributable.
func (s *DeviceStore) Delete(_ context.Context, _ string) error {
	return nil
}

func (s *DeviceStore) ListForOwner(ctx context.Context, owner urn.URN) ([]gateway.Device, error) {
	iter := s.client.Collection("devices").Where("owner", "==", owner.String()).Documents(ctx)
	defer iter.Stop()

	devices := make([]gateway.Device, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			continue
		}
		device, err := recordToDevice(record)
		if err != nil {
			continue
		}
		devices = append(devices, *device)
	}
	return devices, nil
}

// IncrementCounters applies atomic server-side deltas so that concurrent
// increments from independent requests commute.
func (s *DeviceStore) IncrementCounters(ctx context.Context, deviceID string, sentDelta, receivedDelta int64) error {
	updates := make([]firestore.Update, 0, 2)
	if sentDelta != 0 {
		updates = append(updates, firestore.Update{Path: "sent_sms_count", Value: firestore.Increment(sentDelta)})
	}
	if receivedDelta != 0 {
		updates = append(updates, firestore.Update{Path: "received_sms_count", Value: firestore.Increment(receivedDelta)})
	}
	if len(updates) == 0 {
		return nil
	}

	if _, err := s.deviceRef(deviceID).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("device %s: %w", deviceID, gateway.ErrNotFound)
		}
		return fmt.Errorf("increment counters: %w", err)
	}
	return nil
}

// --- Helpers ---

func (s *DeviceStore) deviceRef(deviceID string) *firestore.DocumentRef {
	return s.client.Collection("devices").Doc(deviceID)
}

func (s *DeviceStore) findByTuple(ctx context.Context, owner urn.URN, model, buildID string) (*deviceRecord, error) {
	iter := s.client.Collection("devices").
		Where("owner", "==", owner.String()).
		Where("model", "==", model).
		Where("build_id", "==", buildID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup device tuple: %w", err)
	}

	var record deviceRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("decode device tuple: %w", err)
	}
	return &record, nil
}

func applyAttrs(record *deviceRecord, attrs gateway.DeviceAttrs) {
	if attrs.Brand != nil {
		record.Brand = *attrs.Brand
	}
	if attrs.Model != nil {
		record.Model = *attrs.Model
	}
	if attrs.BuildID != nil {
		record.BuildID = *attrs.BuildID
	}
	if attrs.Enabled != nil {
		record.Enabled = *attrs.Enabled
	}
	if attrs.TransportToken != nil {
		record.TransportToken = *attrs.TransportToken
	}
}

func recordToDevice(record deviceRecord) (*gateway.Device, error) {
	owner, err := urn.Parse(record.Owner)
	if err != nil {
		return nil, fmt.Errorf("device %s has invalid owner %q: %w", record.ID, record.Owner, err)
	}
	return &gateway.Device{
		ID:               record.ID,
		Owner:            owner,
		Brand:            record.Brand,
		Model:            record.Model,
		BuildID:          record.BuildID,
		Enabled:          record.Enabled,
		TransportToken:   record.TransportToken,
		SentSMSCount:     record.SentSMSCount,
		ReceivedSMSCount: record.ReceivedSMSCount,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
	}, nil
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
