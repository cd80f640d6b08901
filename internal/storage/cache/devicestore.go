package cache

import (
	"context"
	"fmt"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedDeviceStore is a decorator that adds read-aside caching to any
// DeviceStore. Every dispatch resolves its device, so the Get path is hot;
// writes and counter increments invalidate so a disabled device stops
// dispatching immediately.
type CachedDeviceStore struct {
	realStore gateway.DeviceStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedDeviceStore(realStore gateway.DeviceStore, cache CacheClient, ttl time.Duration) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedDeviceStore) Get(ctx context.Context, deviceID string) (*gateway.Device, error) {
	key := s.cacheKey(deviceID)

	var cached gateway.Device
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction: if Redis is down we
	// just serve from the store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

// ListForOwner always reads through: owner listings are rare compared to
// per-send Get lookups and not worth an invalidation scheme of their own.
func (s *CachedDeviceStore) ListForOwner(ctx context.Context, owner urn.URN) ([]gateway.Device, error) {
	return s.realStore.ListForOwner(ctx, owner)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedDeviceStore) Register(ctx context.Context, owner urn.URN, attrs gateway.DeviceAttrs) (*gateway.Device, error) {
	device, err := s.realStore.Register(ctx, owner, attrs)
	if err != nil {
		return nil, err
	}
	return device, s.invalidate(ctx, device.ID)
}

func (s *CachedDeviceStore) Update(ctx context.Context, deviceID string, attrs gateway.DeviceAttrs) (*gateway.Device, error) {
	device, err := s.realStore.Update(ctx, deviceID, attrs)
	if err != nil {
		return nil, err
	}
	return device, s.invalidate(ctx, deviceID)
}

// Delete forwards the acknowledged no-op; nothing changes, so nothing to
// invalidate.
func (s *CachedDeviceStore) Delete(ctx context.Context, deviceID string) error {
	return s.realStore.Delete(ctx, deviceID)
}

func (s *CachedDeviceStore) IncrementCounters(ctx context.Context, deviceID string, sentDelta, receivedDelta int64) error {
	if err := s.realStore.IncrementCounters(ctx, deviceID, sentDelta, receivedDelta); err != nil {
		return err
	}
	return s.invalidate(ctx, deviceID)
}

// --- Helpers ---

func (s *CachedDeviceStore) invalidate(ctx context.Context, deviceID string) error {
	return s.cache.Del(ctx, s.cacheKey(deviceID))
}

func (s *CachedDeviceStore) cacheKey(deviceID string) string {
	return fmt.Sprintf("gateway:device:%s", deviceID)
}
