package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-sms-gateway/internal/dispatch"
	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockDeviceStore struct {
	mock.Mock
}

func (m *mockDeviceStore) Get(ctx context.Context, deviceID string) (*gateway.Device, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Device), args.Error(1)
}

// Satisfy strict interface (stubs for methods the dispatcher never calls)
func (m *mockDeviceStore) Register(_ context.Context, _ urn.URN, _ gateway.DeviceAttrs) (*gateway.Device, error) {
	return nil, nil
}
func (m *mockDeviceStore) Update(_ context.Context, _ string, _ gateway.DeviceAttrs) (*gateway.Device, error) {
	return nil, nil
}
func (m *mockDeviceStore) Delete(_ context.Context, _ string) error { return nil }
func (m *mockDeviceStore) ListForOwner(_ context.Context, _ urn.URN) ([]gateway.Device, error) {
	return nil, nil
}
func (m *mockDeviceStore) IncrementCounters(_ context.Context, _ string, _, _ int64) error {
	return nil
}

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) CreateBatch(ctx context.Context, batch gateway.MessageBatch) error {
	return m.Called(ctx, batch).Error(0)
}
func (m *mockMessageStore) CreateUnit(ctx context.Context, unit gateway.MessageUnit) error {
	return m.Called(ctx, unit).Error(0)
}
func (m *mockMessageStore) ListReceived(_ context.Context, _ string, _ int) ([]gateway.MessageUnit, error) {
	return nil, nil
}

type mockQuotaGuard struct {
	mock.Mock
}

func (m *mockQuotaGuard) CanPerformAction(ctx context.Context, owner urn.URN, action gateway.ActionKind, units int) error {
	return m.Called(ctx, owner, action, units).Error(0)
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) SendEach(ctx context.Context, payloads []gateway.TransportPayload) (*gateway.DispatchOutcome, error) {
	args := m.Called(ctx, payloads)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.DispatchOutcome), args.Error(1)
}

// recordingCounters captures AddSent calls synchronously.
type recordingCounters struct {
	mu    sync.Mutex
	calls []int64
}

func (c *recordingCounters) AddSent(_ string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, n)
}

func (c *recordingCounters) total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum int64
	for _, n := range c.calls {
		sum += n
	}
	return sum
}

// --- Setup ---

type fixture struct {
	devices   *mockDeviceStore
	messages  *mockMessageStore
	quota     *mockQuotaGuard
	transport *mockTransport
	counters  *recordingCounters
	device    *gateway.Device
}

func newFixture(t *testing.T) (*dispatch.Dispatcher, *fixture) {
	t.Helper()
	owner, err := urn.Parse("urn:sm:user:sender")
	require.NoError(t, err)

	f := &fixture{
		devices:   new(mockDeviceStore),
		messages:  new(mockMessageStore),
		quota:     new(mockQuotaGuard),
		transport: new(mockTransport),
		counters:  &recordingCounters{},
		device: &gateway.Device{
			ID:             "dev-1",
			Owner:          owner,
			Model:          "Pixel 8",
			BuildID:        "AP2A",
			Enabled:        true,
			TransportToken: "fcm-token-1",
		},
	}
	d := dispatch.NewDispatcher(f.devices, f.messages, f.quota, f.transport, f.counters, newTestLogger())
	return d, f
}

func outcome(success, failure int) *gateway.DispatchOutcome {
	o := &gateway.DispatchOutcome{SuccessCount: success, FailureCount: failure}
	for i := 0; i < success; i++ {
		o.Responses = append(o.Responses, gateway.DeliveryResult{Success: true, MessageID: "m"})
	}
	for i := 0; i < failure; i++ {
		o.Responses = append(o.Responses, gateway.DeliveryResult{Error: "rejected"})
	}
	return o
}

// --- Single send ---

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("Happy Path creates one unit per recipient", func(t *testing.T) {
		d, f := newFixture(t)
		recipients := []string{"+15550001", "+15550002", "+15550003"}

		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, f.device.Owner, gateway.ActionSendSMS, 3).Return(nil)
		f.messages.On("CreateBatch", mock.Anything, mock.MatchedBy(func(b gateway.MessageBatch) bool {
			return b.RecipientCount == 3 && b.RecipientPreview == "+15550001, +15550002, and +15550003"
		})).Return(nil)
		f.messages.On("CreateUnit", mock.Anything, mock.Anything).Return(nil).Times(3)

		var sent []gateway.TransportPayload
		f.transport.On("SendEach", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				sent = args.Get(1).([]gateway.TransportPayload)
			}).
			Return(outcome(3, 0), nil)

		result, err := d.Send(ctx, "dev-1", dispatch.SendRequest{Message: "hello", Recipients: recipients})

		require.NoError(t, err)
		assert.Equal(t, 3, result.SuccessCount)
		assert.Equal(t, 0, result.FailureCount)
		assert.EqualValues(t, 3, f.counters.total())

		require.Len(t, sent, 3)
		for i, payload := range sent {
			assert.Equal(t, "fcm-token-1", payload.TargetToken)
			assert.Equal(t, gateway.PriorityHigh, payload.Priority)
			assert.Equal(t, "hello", payload.Envelope.Message)
			assert.Equal(t, "hello", payload.Envelope.SMSBody)
			assert.Equal(t, []string{recipients[i]}, payload.Envelope.Recipients)
			assert.Equal(t, []string{recipients[i]}, payload.Envelope.Receivers)
			assert.NotEmpty(t, payload.Envelope.UnitID)
			assert.NotEmpty(t, payload.Envelope.BatchID)
		}
		f.messages.AssertExpectations(t)
	})

	t.Run("Legacy field names resolve first non-empty", func(t *testing.T) {
		d, f := newFixture(t)

		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, f.device.Owner, gateway.ActionSendSMS, 1).Return(nil)
		f.messages.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
		f.messages.On("CreateUnit", mock.Anything, mock.MatchedBy(func(u gateway.MessageUnit) bool {
			return u.Body == "legacy body" && u.Address == "+15550009"
		})).Return(nil)
		f.transport.On("SendEach", mock.Anything, mock.Anything).Return(outcome(1, 0), nil)

		_, err := d.Send(ctx, "dev-1", dispatch.SendRequest{SMSBody: "legacy body", Receivers: []string{"+15550009"}})

		require.NoError(t, err)
		f.messages.AssertExpectations(t)
	})

	t.Run("Missing device fails DeviceUnavailable", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "ghost").Return(nil, gateway.ErrNotFound)

		_, err := d.Send(ctx, "ghost", dispatch.SendRequest{Message: "x", Recipients: []string{"+1"}})

		require.ErrorIs(t, err, gateway.ErrDeviceUnavailable)
	})

	t.Run("Disabled device fails DeviceUnavailable", func(t *testing.T) {
		d, f := newFixture(t)
		disabled := *f.device
		disabled.Enabled = false
		f.devices.On("Get", mock.Anything, "dev-1").Return(&disabled, nil)

		_, err := d.Send(ctx, "dev-1", dispatch.SendRequest{Message: "x", Recipients: []string{"+1"}})

		require.ErrorIs(t, err, gateway.ErrDeviceUnavailable)
	})

	t.Run("Quota checked before payload validation", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		// Empty recipients, but quota still sees the declared count first.
		f.quota.On("CanPerformAction", mock.Anything, f.device.Owner, gateway.ActionSendSMS, 0).
			Return(gateway.ErrQuotaExceeded)

		_, err := d.Send(ctx, "dev-1", dispatch.SendRequest{})

		require.ErrorIs(t, err, gateway.ErrQuotaExceeded)
		f.quota.AssertExpectations(t)
		f.messages.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
	})

	t.Run("Blank body fails EmptyMessage", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		_, err := d.Send(ctx, "dev-1", dispatch.SendRequest{Message: "   ", Recipients: []string{"+1"}})

		require.ErrorIs(t, err, gateway.ErrEmptyMessage)
	})

	t.Run("Empty recipients fails InvalidRecipients", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		_, err := d.Send(ctx, "dev-1", dispatch.SendRequest{Message: "hi"})

		require.ErrorIs(t, err, gateway.ErrInvalidRecipients)
	})

	t.Run("Batch persist failure aborts before transport", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		cause := errors.New("firestore down")
		f.messages.On("CreateBatch", mock.Anything, mock.Anything).Return(cause)

		_, err := d.Send(ctx, "dev-1", dispatch.SendRequest{Message: "hi", Recipients: []string{"+1"}})

		require.ErrorIs(t, err, gateway.ErrBatchPersist)
		require.ErrorIs(t, err, cause)
		f.transport.AssertNotCalled(t, "SendEach", mock.Anything, mock.Anything)
	})

	t.Run("Hard transport failure wraps TransportError", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.messages.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
		f.messages.On("CreateUnit", mock.Anything, mock.Anything).Return(nil)
		cause := errors.New("network down")
		f.transport.On("SendEach", mock.Anything, mock.Anything).Return(nil, cause)

		_, err := d.Send(ctx, "dev-1", dispatch.SendRequest{Message: "hi", Recipients: []string{"+1"}})

		require.ErrorIs(t, err, gateway.ErrTransport)
		require.ErrorIs(t, err, cause)
		assert.Zero(t, f.counters.total())
	})

	t.Run("Zero successes fails DeliveryFailed with full response", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.messages.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
		f.messages.On("CreateUnit", mock.Anything, mock.Anything).Return(nil).Times(2)
		f.transport.On("SendEach", mock.Anything, mock.Anything).Return(outcome(0, 2), nil)

		_, err := d.Send(ctx, "dev-1", dispatch.SendRequest{Message: "hi", Recipients: []string{"+1", "+2"}})

		require.ErrorIs(t, err, gateway.ErrDeliveryFailed)
		var deliveryErr *gateway.DeliveryError
		require.ErrorAs(t, err, &deliveryErr)
		assert.Equal(t, 2, deliveryErr.Outcome.FailureCount)
		assert.Zero(t, f.counters.total())
	})

	t.Run("Partial failure is still success", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.messages.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
		f.messages.On("CreateUnit", mock.Anything, mock.Anything).Return(nil).Times(2)
		f.transport.On("SendEach", mock.Anything, mock.Anything).Return(outcome(1, 1), nil)

		result, err := d.Send(ctx, "dev-1", dispatch.SendRequest{Message: "hi", Recipients: []string{"+1", "+2"}})

		require.NoError(t, err)
		assert.Equal(t, 1, result.SuccessCount)
		assert.Equal(t, 1, result.FailureCount)
		assert.EqualValues(t, 1, f.counters.total())
	})
}

// --- Bulk send ---

func TestSendBulk(t *testing.T) {
	ctx := context.Background()

	t.Run("Recipient cap rejected before batch creation", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, f.device.Owner, gateway.ActionBulkSendSMS, 51).Return(nil)

		recipients := make([]string, 51)
		for i := range recipients {
			recipients[i] = "+1555"
		}
		req := dispatch.BulkSendRequest{Messages: []dispatch.SendRequest{{Message: "hi", Recipients: recipients}}}

		_, err := d.SendBulk(ctx, "dev-1", req)

		require.ErrorIs(t, err, gateway.ErrRecipientLimitExceeded)
		f.messages.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
	})

	t.Run("Empty list fails InvalidMessageList", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, f.device.Owner, gateway.ActionBulkSendSMS, 0).Return(nil)

		_, err := d.SendBulk(ctx, "dev-1", dispatch.BulkSendRequest{})

		require.ErrorIs(t, err, gateway.ErrInvalidMessageList)
	})

	t.Run("Malformed sub-message skipped, valid one dispatched", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, f.device.Owner, gateway.ActionBulkSendSMS, 3).Return(nil)
		f.messages.On("CreateBatch", mock.Anything, mock.MatchedBy(func(b gateway.MessageBatch) bool {
			return b.RecipientCount == 3 && b.Message == "template"
		})).Return(nil)
		f.messages.On("CreateUnit", mock.Anything, mock.Anything).Return(nil).Times(3)
		f.transport.On("SendEach", mock.Anything, mock.Anything).Return(outcome(3, 0), nil).Once()

		req := dispatch.BulkSendRequest{
			Message: "template",
			Messages: []dispatch.SendRequest{
				{Message: "broken"}, // no recipients: skipped silently
				{Message: "ok", Recipients: []string{"+1", "+2", "+3"}},
			},
		}

		result, err := d.SendBulk(ctx, "dev-1", req)

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 3, result.SuccessCount)
		assert.Equal(t, 0, result.FailureCount)
		assert.Len(t, result.Responses, 1)
		f.transport.AssertExpectations(t)
	})

	t.Run("Transport failure on one sub-message continues to next", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.messages.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
		f.messages.On("CreateUnit", mock.Anything, mock.Anything).Return(nil)

		f.transport.On("SendEach", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()
		f.transport.On("SendEach", mock.Anything, mock.Anything).Return(outcome(1, 0), nil).Once()

		req := dispatch.BulkSendRequest{
			Messages: []dispatch.SendRequest{
				{Message: "first", Recipients: []string{"+1"}},
				{Message: "second", Recipients: []string{"+2"}},
			},
		}

		result, err := d.SendBulk(ctx, "dev-1", req)

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 1, result.SuccessCount)
		assert.Len(t, result.Responses, 1)
		assert.EqualValues(t, 1, f.counters.total())
	})

	t.Run("All failed is aggregate counts, not an error", func(t *testing.T) {
		d, f := newFixture(t)
		f.devices.On("Get", mock.Anything, "dev-1").Return(f.device, nil)
		f.quota.On("CanPerformAction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.messages.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
		f.messages.On("CreateUnit", mock.Anything, mock.Anything).Return(nil)
		f.transport.On("SendEach", mock.Anything, mock.Anything).Return(outcome(0, 1), nil)

		req := dispatch.BulkSendRequest{
			Messages: []dispatch.SendRequest{{Message: "hi", Recipients: []string{"+1"}}},
		}

		result, err := d.SendBulk(ctx, "dev-1", req)

		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, 0, result.SuccessCount)
		assert.Equal(t, 1, result.FailureCount)
		assert.Zero(t, f.counters.total())
	})
}
