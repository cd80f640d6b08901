package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

// MessageStore implements gateway.MessageStore on Firestore. Batch and unit
// records are append-only and live under their owning device document.
type MessageStore struct {
	client *firestore.Client
}

func NewMessageStore(client *firestore.Client) *MessageStore {
	return &MessageStore{client: client}
}

type batchRecord struct {
	ID               string    `firestore:"id"`
	DeviceID         string    `firestore:"device_id"`
	Message          string    `firestore:"message"`
	RecipientCount   int       `firestore:"recipient_count"`
	RecipientPreview string    `firestore:"recipient_preview"`
	CreatedAt        time.Time `firestore:"created_at"`
}

type unitRecord struct {
	ID        string    `firestore:"id"`
	DeviceID  string    `firestore:"device_id"`
	BatchID   string    `firestore:"batch_id,omitempty"`
	Direction string    `firestore:"direction"`
	Body      string    `firestore:"message"`
	Address   string    `firestore:"address"`
	Timestamp time.Time `firestore:"timestamp"`
}

func (s *MessageStore) CreateBatch(ctx context.Context, batch gateway.MessageBatch) error {
	record := batchRecord{
		ID:               batch.ID,
		DeviceID:         batch.DeviceID,
		Message:          batch.Message,
		RecipientCount:   batch.RecipientCount,
		RecipientPreview: batch.RecipientPreview,
		CreatedAt:        batch.CreatedAt,
	}
	if _, err := s.batchesCollection(batch.DeviceID).Doc(batch.ID).Create(ctx, record); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (s *MessageStore) CreateUnit(ctx context.Context, unit gateway.MessageUnit) error {
	record := unitRecord{
		ID:        unit.ID,
		DeviceID:  unit.DeviceID,
		BatchID:   unit.BatchID,
		Direction: string(unit.Direction),
		Body:      unit.Body,
		Address:   unit.Address,
		Timestamp: unit.Timestamp,
	}
	if _, err := s.unitsCollection(unit.DeviceID).Doc(unit.ID).Create(ctx, record); err != nil {
		return fmt.Errorf("create unit: %w", err)
	}
	return nil
}

// ListReceived returns up to limit RECEIVED units for the device, newest
// first.
func (s *MessageStore) ListReceived(ctx context.Context, deviceID string, limit int) ([]gateway.MessageUnit, error) {
	iter := s.unitsCollection(deviceID).
		Where("direction", "==", string(gateway.DirectionReceived)).
		OrderBy("timestamp", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	units := make([]gateway.MessageUnit, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list received units: %w", err)
		}

		var record unitRecord
		if err := doc.DataTo(&record); err != nil {
			continue
		}
		units = append(units, gateway.MessageUnit{
			ID:        record.ID,
			DeviceID:  record.DeviceID,
			BatchID:   record.BatchID,
			Direction: gateway.Direction(record.Direction),
			Body:      record.Body,
			Address:   record.Address,
			Timestamp: record.Timestamp,
		})
	}
	return units, nil
}

// --- Helpers ---

// batches: devices/{deviceID}/batches/{batchID}
func (s *MessageStore) batchesCollection(deviceID string) *firestore.CollectionRef {
	return s.client.Collection("devices").Doc(deviceID).Collection("batches")
}

// units: devices/{deviceID}/messages/{unitID}
func (s *MessageStore) unitsCollection(deviceID string) *firestore.CollectionRef {
	return s.client.Collection("devices").Doc(deviceID).Collection("messages")
}
